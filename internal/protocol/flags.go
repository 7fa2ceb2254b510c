package protocol

import "strings"

// Flags is the header flag bitset.
type Flags uint32

const (
	FlagNonCritical Flags = 0x0001
	FlagReply       Flags = 0x0002
	FlagBadHeader   Flags = 0x0004
	FlagBadPayload  Flags = 0x0008
	FlagNoCaching   Flags = 0x2000
	FlagNACK        Flags = 0x4000
	FlagACK         Flags = 0x8000
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagACK, "ACK"},
	{FlagNACK, "NACK"},
	{FlagReply, "Reply"},
	{FlagNonCritical, "NonCritical"},
	{FlagNoCaching, "NoCaching"},
	{FlagBadHeader, "BadHeader"},
	{FlagBadPayload, "BadPayload"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}
