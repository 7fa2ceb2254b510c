// Package commands implements the human-facing output of the CLI. Every
// function writes to the given writer and returns errors instead of exiting.
package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

// PrintJSON pretty-prints v.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ConfirmAction prompts the user to type 'yes' to continue.
// Returns true if confirmed, false otherwise.
func ConfirmAction(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)

	reader := bufio.NewReader(in)
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(confirm)

	return confirm == "yes"
}

// ParseUint32 accepts decimal, 0x hex and 0o/0b prefixed numbers.
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %-16s %v\n", label+":", value)
}
