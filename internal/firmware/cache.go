package firmware

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Cache is a content-addressed copy of deployed images.
type Cache struct {
	baseDir   string
	indexPath string
}

// CacheEntry describes one cached image.
type CacheEntry struct {
	Hash     string    `json:"hash"`
	Name     string    `json:"name"`
	Size     int       `json:"size"`
	Target   string    `json:"target,omitempty"`
	Imported time.Time `json:"imported"`
	LastUsed time.Time `json:"last_used"`
}

type index struct {
	Images    map[string]CacheEntry `json:"images"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// DefaultCachePath returns the default cache directory.
func DefaultCachePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		// Fallback to home directory
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "nfdbg", "images"), nil
}

// NewCache creates a cache at the default location.
func NewCache() (*Cache, error) {
	path, err := DefaultCachePath()
	if err != nil {
		return nil, err
	}
	return NewCacheAt(path)
}

// NewCacheAt creates a cache at the specified path.
func NewCacheAt(path string) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{baseDir: path, indexPath: filepath.Join(path, "index.json")}, nil
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.baseDir
}

func (c *Cache) blobPath(hash string) string {
	return filepath.Join(c.baseDir, hashToFilename(hash)+".bin")
}

// Import stores img and records the target it was deployed to. Importing
// the same content again only refreshes its entry. Returns the hash and
// whether the content was new.
func (c *Cache) Import(img *Image, target string) (string, bool, error) {
	hash := img.SHA256()
	idx, err := c.loadIndex()
	if err != nil {
		return "", false, err
	}

	now := time.Now()
	entry, exists := idx.Images[hash]
	if !exists {
		tmp := c.blobPath(hash) + ".tmp"
		if err := os.WriteFile(tmp, img.Data, 0644); err != nil {
			return "", false, fmt.Errorf("failed to write image: %w", err)
		}
		if err := os.Rename(tmp, c.blobPath(hash)); err != nil {
			os.Remove(tmp)
			return "", false, fmt.Errorf("failed to finalize import: %w", err)
		}
		entry = CacheEntry{Hash: hash, Size: len(img.Data), Imported: now}
	}
	entry.Name = img.Name
	if target != "" {
		entry.Target = target
	}
	entry.LastUsed = now
	idx.Images[hash] = entry

	if err := c.saveIndex(idx); err != nil {
		return "", false, fmt.Errorf("failed to update index: %w", err)
	}
	return hash, !exists, nil
}

// ImportFile loads a file and imports it.
func (c *Cache) ImportFile(path, target string) (string, bool, error) {
	img, err := Load(path, false)
	if err != nil {
		return "", false, err
	}
	return c.Import(img, target)
}

// Get returns the cached image, checking its content against the hash. A
// corrupted entry is dropped.
func (c *Cache) Get(hash string) (*Image, error) {
	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Images[hash]
	if !ok {
		return nil, fmt.Errorf("image %s not cached", ShortHash(hash))
	}
	data, err := os.ReadFile(c.blobPath(hash))
	if err != nil {
		return nil, err
	}
	if ContentHash(data) != hash {
		_ = c.Remove(hash)
		return nil, fmt.Errorf("cached image %s is corrupt", ShortHash(hash))
	}
	return &Image{Name: entry.Name, Data: data}, nil
}

// List returns all cached images, most recently used first.
func (c *Cache) List() ([]CacheEntry, error) {
	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]CacheEntry, 0, len(idx.Images))
	for _, e := range idx.Images {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].LastUsed.After(out[j].LastUsed)
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

// Remove deletes one image. Missing images are not an error.
func (c *Cache) Remove(hash string) error {
	idx, err := c.loadIndex()
	if err != nil {
		return err
	}
	delete(idx.Images, hash)
	if err := os.Remove(c.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return c.saveIndex(idx)
}

// Clear removes all cached images.
func (c *Cache) Clear() error {
	entries, err := c.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(c.blobPath(e.Hash)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return c.saveIndex(&index{Images: map[string]CacheEntry{}})
}

func (c *Cache) loadIndex() (*index, error) {
	data, err := os.ReadFile(c.indexPath)
	if os.IsNotExist(err) {
		return &index{Images: make(map[string]CacheEntry)}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if idx.Images == nil {
		idx.Images = make(map[string]CacheEntry)
	}
	return &idx, nil
}

func (c *Cache) saveIndex(idx *index) error {
	idx.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.indexPath, data, 0644)
}
