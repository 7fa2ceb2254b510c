package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	HexDump(&buf, 0x08000000, []byte("nanoFramework debugger"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "08000000  6e 61 6e 6f") || !strings.HasSuffix(lines[0], "|nanoFramework de|") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "08000010  ") || !strings.HasSuffix(lines[1], "|bugger|") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"4d53706b", []byte("MSpk"), false},
		{"4D 53\n70:6B", []byte("MSpk"), false},
		{"0x01, 0x02", []byte{1, 2}, false},
		{"abc", nil, true},
		{"zz", nil, true},
		{"", []byte{}, false},
	}
	for _, tt := range tests {
		got, err := ParseHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHex(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !bytes.Equal(got, tt.want) {
			t.Errorf("ParseHex(%q) = % X, want % X", tt.in, got, tt.want)
		}
	}
}

func TestIsTextData(t *testing.T) {
	if !IsTextData([]byte("hello\r\n\tworld")) || IsTextData([]byte{0x00, 'a'}) {
		t.Error("IsTextData misclassified input")
	}
}
