package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting returns an error if dir already holds a configuration file.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("cluster already initialized\n\nFound existing: %s\n\nUse 'powermatcher init --force' to overwrite it", path)
	}
	return nil
}
