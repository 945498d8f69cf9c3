// Package scan enumerates candidate container files under an input
// directory.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Files lists the files under root whose extension matches one of exts
// (case-insensitive). Non-recursive mode inspects only the immediate
// children; recursive mode walks the whole subtree. An unreadable root is
// fatal and reported as an error.
func Files(root string, recursive bool, exts []string) ([]string, error) {
	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = true
	}

	var files []string
	if recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if want[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan input directory: %w", err)
		}
		return files, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan input directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if want[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(root, entry.Name()))
		}
	}
	return files, nil
}
