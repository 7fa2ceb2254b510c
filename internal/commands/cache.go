package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/devicecache"
	"github.com/nanoframework/nf-debugger-sub001/internal/firmware"
)

// ListCachedDevices prints the remembered device identities.
func ListCachedDevices(w io.Writer, c *devicecache.Cache) error {
	recs := c.List()
	if len(recs) == 0 {
		fmt.Fprintln(w, "Device cache is empty.")
		return nil
	}
	tw := table(w)
	fmt.Fprintln(tw, "PORT\tTARGET\tPLATFORM\tBAUD\tSEEN")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Port, r.TargetName, r.PlatformName,
			r.BaudRate, humanize.Time(r.UpdatedAt))
	}
	return tw.Flush()
}

// ListImages prints the local image cache.
func ListImages(w io.Writer, c *firmware.Cache) error {
	entries, err := c.List()
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No cached images.")
		fmt.Fprintln(w, "Images are added on every successful deploy.")
		return nil
	}
	fmt.Fprintf(w, "Found %d image(s) in %s:\n\n", len(entries), c.Path())
	tw := table(w)
	fmt.Fprintln(tw, "HASH\tNAME\tSIZE\tTARGET\tLAST USED")
	for _, e := range entries {
		target := e.Target
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", firmware.ShortHash(e.Hash), e.Name,
			humanize.IBytes(uint64(e.Size)), target, humanize.Time(e.LastUsed))
	}
	return tw.Flush()
}
