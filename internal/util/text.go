package util

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// IsTextData checks if a byte slice contains only printable ASCII text
func IsTextData(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != 9 && b != 10 && b != 13 || b > 126 {
			return false
		}
	}
	return true
}

// HexDump writes data in hex dump format, labelling rows with addresses
// starting at base.
func HexDump(w io.Writer, base uint32, data []byte) {
	for i := 0; i < len(data); i += 16 {
		// Address
		fmt.Fprintf(w, "%08x  ", base+uint32(i))

		// Hex bytes
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Fprintf(w, "%02x ", data[i+j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}

		// ASCII
		fmt.Fprint(w, " |")
		for j := 0; j < 16 && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b < 127 {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
}

// ParseHex decodes a hex dump typed or pasted by a user. Whitespace, colons,
// commas and "0x" prefixes are ignored.
func ParseHex(s string) ([]byte, error) {
	r := strings.NewReplacer("0x", "", "0X", "", " ", "", "\t", "", "\n", "", "\r", "", ":", "", ",", "")
	b, err := hex.DecodeString(r.Replace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
