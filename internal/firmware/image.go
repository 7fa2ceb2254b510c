// Package firmware loads deployable images and keeps a local copy of every
// image that was deployed.
package firmware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Image is one flat binary as it is written to flash.
type Image struct {
	Name string
	Data []byte
}

// Load reads a flat binary from disk. When pad is set the image is padded
// with zeros to a multiple of 4 bytes; otherwise the length is left alone
// and misaligned images are rejected at deployment.
func Load(path string, pad bool) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	if pad {
		data = PadToWord(data)
	}
	base := filepath.Base(path)
	return &Image{Name: strings.TrimSuffix(base, filepath.Ext(base)), Data: data}, nil
}

// PadToWord appends zeros up to the next multiple of 4.
func PadToWord(data []byte) []byte {
	if r := len(data) % 4; r != 0 {
		data = append(data, make([]byte, 4-r)...)
	}
	return data
}

// SHA256 returns the content hash as "sha256:<hex>".
func (img *Image) SHA256() string {
	return ContentHash(img.Data)
}

// ContentHash returns the hash images are stored under.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ShortHash shortens a content hash for display.
func ShortHash(hash string) string {
	h := strings.TrimPrefix(hash, "sha256:")
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func hashToFilename(hash string) string {
	return strings.TrimPrefix(hash, "sha256:")
}

// Images returns the payloads in order.
func Images(imgs []*Image) [][]byte {
	out := make([][]byte, len(imgs))
	for i, img := range imgs {
		out[i] = img.Data
	}
	return out
}
