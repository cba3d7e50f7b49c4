package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir empties the data directory dir, creating it if necessary; entries named in
// keeps are left alone.
func CleanDir(dir string, keeps ...string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, ent := range entries {
		if contains(keeps, ent.Name()) {
			continue
		}
		err = os.RemoveAll(filepath.Join(dir, ent.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
