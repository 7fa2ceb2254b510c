package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPadToWord(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 0}, {1, 4}, {3, 4}, {4, 4}, {5, 8}, {1023, 1024},
	}
	for _, tt := range tests {
		if got := len(PadToWord(make([]byte, tt.in))); got != tt.want {
			t.Errorf("PadToWord(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "App.bin")
	if err := os.WriteFile(p, []byte{1, 2, 3, 4, 5}, 0644); err != nil {
		t.Fatal(err)
	}

	img, err := Load(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if img.Name != "App" || !bytes.Equal(img.Data, []byte{1, 2, 3, 4, 5, 0, 0, 0}) {
		t.Errorf("image = %q % X", img.Name, img.Data)
	}

	raw, err := Load(p, false)
	if err != nil || len(raw.Data) != 5 {
		t.Errorf("unpadded load = %v, %v", raw, err)
	}

	empty := filepath.Join(dir, "empty.bin")
	os.WriteFile(empty, nil, 0644)
	if _, err := Load(empty, false); err == nil {
		t.Error("empty image accepted")
	}
}

func TestCacheImport(t *testing.T) {
	c, err := NewCacheAt(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatal(err)
	}
	img := &Image{Name: "App", Data: []byte("nanoframework pe")}

	hash, isNew, err := c.Import(img, "ESP32_REV0")
	if err != nil || !isNew {
		t.Fatalf("first import = %v, %v", isNew, err)
	}
	if !strings.HasPrefix(hash, "sha256:") || len(ShortHash(hash)) != 12 {
		t.Errorf("hash = %q", hash)
	}

	renamed := &Image{Name: "App2", Data: img.Data}
	again, isNew, err := c.Import(renamed, "")
	if err != nil || isNew || again != hash {
		t.Fatalf("second import = %q %v %v", again, isNew, err)
	}

	entries, err := c.List()
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}
	if e := entries[0]; e.Name != "App2" || e.Target != "ESP32_REV0" || e.Size != len(img.Data) {
		t.Errorf("entry = %+v", e)
	}

	got, err := c.Get(hash)
	if err != nil || !bytes.Equal(got.Data, img.Data) {
		t.Errorf("Get = %v, %v", got, err)
	}
}

func TestCacheDropsCorruptEntry(t *testing.T) {
	c, _ := NewCacheAt(t.TempDir())
	hash, _, err := c.Import(&Image{Name: "a", Data: []byte{1, 2, 3, 4}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.blobPath(hash), []byte{9, 9, 9, 9}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(hash); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("Get = %v, want corrupt", err)
	}
	if entries, _ := c.List(); len(entries) != 0 {
		t.Errorf("corrupt entry kept: %v", entries)
	}
}

func TestCacheClearAndReopen(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCacheAt(dir)
	for i := range 3 {
		if _, _, err := c.Import(&Image{Name: "img", Data: []byte{byte(i), 0, 0, 0}}, ""); err != nil {
			t.Fatal(err)
		}
	}

	reopened, _ := NewCacheAt(dir)
	if entries, _ := reopened.List(); len(entries) != 3 {
		t.Fatalf("reopened cache has %d entries", len(entries))
	}
	if err := reopened.Clear(); err != nil {
		t.Fatal(err)
	}
	if entries, _ := c.List(); len(entries) != 0 {
		t.Errorf("entries after clear: %v", entries)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*.bin"))
	if len(files) != 0 {
		t.Errorf("blobs left: %v", files)
	}
}
