package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/taskmon/pkg/utils"
	"github.com/opst/taskmon/pkg/utils/try"
)

func TestSearchUpward(t *testing.T) {
	name := ".taskmonprofile"

	t.Run("it finds the file in the directory", func(t *testing.T) {
		dir := t.TempDir()
		expected := filepath.Join(dir, name)
		if err := os.WriteFile(expected, []byte("prod\n"), 0600); err != nil {
			t.Fatal(err)
		}

		actual := try.To(utils.SearchUpward(dir, name)).OrFatal(t)
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})

	t.Run("it finds the nearest file in ancestors", func(t *testing.T) {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, name), []byte("far\n"), 0600); err != nil {
			t.Fatal(err)
		}
		middle := filepath.Join(root, "a", "b")
		expected := filepath.Join(middle, name)
		leaf := filepath.Join(middle, "c", "d")
		if err := os.MkdirAll(leaf, 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(expected, []byte("near\n"), 0600); err != nil {
			t.Fatal(err)
		}

		actual := try.To(utils.SearchUpward(leaf, name)).OrFatal(t)
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})

	t.Run("it skips directories of the name", func(t *testing.T) {
		root := t.TempDir()
		expected := filepath.Join(root, name)
		if err := os.WriteFile(expected, []byte("prod\n"), 0600); err != nil {
			t.Fatal(err)
		}
		leaf := filepath.Join(root, "a")
		if err := os.MkdirAll(filepath.Join(leaf, name), 0700); err != nil {
			t.Fatal(err)
		}

		actual := try.To(utils.SearchUpward(leaf, name)).OrFatal(t)
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})

	t.Run("it fails when there are no such files", func(t *testing.T) {
		_, err := utils.SearchUpward(t.TempDir(), "no-such-file-for-taskmon-test")
		if !errors.Is(err, utils.ErrSearchFile) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
