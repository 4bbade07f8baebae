// Package toolkits caches toolkit indexes fetched from the build service
package toolkits

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lei/streams-build/internal/models"
)

const manifestName = "toolkits.json"

// Cache stores one index file per toolkit under a cache directory. Methods
// take the directory configured in state; an empty one falls back to Dir.
type Cache struct {
	Dir string
}

func (c Cache) dir(dir string) string {
	if dir == "" {
		return c.Dir
	}
	return dir
}

// IndexPath returns the file an index of tk is cached in
func (c Cache) IndexPath(dir string, tk models.Toolkit) string {
	name := tk.Name + "-" + tk.Version + ".xml"
	name = strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
	return filepath.Join(c.dir(dir), name)
}

// NeedsCaching returns the toolkits without a cached index
func (c Cache) NeedsCaching(dir string, list []models.Toolkit) []models.Toolkit {
	var out []models.Toolkit
	for _, tk := range list {
		if _, err := os.Stat(c.IndexPath(dir, tk)); errors.Is(err, os.ErrNotExist) {
			out = append(out, tk)
		}
	}
	return out
}

// CacheIndex writes the index of tk into the cache
func (c Cache) CacheIndex(dir string, tk models.Toolkit, index []byte) error {
	path := c.IndexPath(dir, tk)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create toolkit cache dir: %w", err)
	}
	if err := os.WriteFile(path, index, 0o644); err != nil {
		return fmt.Errorf("write toolkit index: %w", err)
	}
	return nil
}

// Refreshed records the current catalog so language tooling can pick up
// the cached indexes
func (c Cache) Refreshed(dir string, list []models.Toolkit) error {
	root := c.dir(dir)
	if root == "" {
		return nil
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create toolkit cache dir: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal toolkit manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(root, manifestName), data, 0o644)
}
