package utils

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrSearchFile = errors.New("could not search file")

// SearchUpward looks for a regular file named name in dir and its ancestors,
// and returns the path of the nearest one.
//
// # Returns
//
// - string: path to the file found.
//
// - error: ErrSearchFile when no such files are found up to the root.
func SearchUpward(dir string, name string) (string, error) {
	for {
		candidate := filepath.Join(dir, name)
		if s, err := os.Stat(candidate); err == nil && s.Mode().IsRegular() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrSearchFile
		}
		dir = parent
	}
}
