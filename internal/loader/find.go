// SPDX-License-Identifier: MIT
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

var errFound = errors.New("found")

// FindLibrary searches dir recursively for the library named after the
// directory itself, e.g. ./plugins/gain -> ./plugins/gain/build/gain.so.
// An empty ext selects the platform extension.
func FindLibrary(dir, ext string) (string, error) {
	if ext == "" {
		ext = Extension()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	want := filepath.Base(abs) + ext

	var found string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: no %s under %s", ErrLibraryNotFound, want, abs)
	}
	return found, nil
}
