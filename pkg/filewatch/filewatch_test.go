package filewatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opst/taskmon/pkg/filewatch"
)

func TestUntilModified(t *testing.T) {
	type When struct {
		// watch the file itself, not the directory.
		watchFile bool
		modify    func(t *testing.T, file string)
	}

	theory := func(when When) func(*testing.T) {
		return func(t *testing.T) {
			dir := t.TempDir()
			file := filepath.Join(dir, "scenario.yaml")
			if err := os.WriteFile(file, []byte("stageDuration: 1s\n"), 0644); err != nil {
				t.Fatal(err)
			}

			target := dir
			if when.watchFile {
				target = file
			}
			ctx, cancel, err := filewatch.UntilModified(context.Background(), target)
			if err != nil {
				t.Fatal(err)
			}
			defer cancel()

			if err := ctx.Err(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			when.modify(t, file)

			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Second):
				t.Fatal("context is not canceled")
			}

			merr := new(filewatch.ModifiedError)
			if !errors.As(context.Cause(ctx), &merr) {
				t.Errorf("unexpected cause: %v", context.Cause(ctx))
			}
		}
	}

	write := func(t *testing.T, file string) {
		if err := os.WriteFile(file, []byte("stageDuration: 2s\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	remove := func(t *testing.T, file string) {
		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}
	}
	rename := func(t *testing.T, file string) {
		if err := os.Rename(file, file+".old"); err != nil {
			t.Fatal(err)
		}
	}
	create := func(t *testing.T, file string) {
		if err := os.WriteFile(filepath.Join(filepath.Dir(file), "new.yaml"), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("when a file in the watched directory is written, it cancels context", theory(When{modify: write}))
	t.Run("when the watched file is written, it cancels context", theory(When{watchFile: true, modify: write}))
	t.Run("when a file in the watched directory is removed, it cancels context", theory(When{modify: remove}))
	t.Run("when the watched file is removed, it cancels context", theory(When{watchFile: true, modify: remove}))
	t.Run("when the watched file is renamed, it cancels context", theory(When{watchFile: true, modify: rename}))
	t.Run("when a file is created in the watched directory, it cancels context", theory(When{modify: create}))

	t.Run("when permission is changed only, it keeps context", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "scenario.yaml")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatal(err)
		}
		ctx, cancel, err := filewatch.UntilModified(context.Background(), file)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := os.Chmod(file, 0600); err != nil {
			t.Fatal(err)
		}
		select {
		case <-ctx.Done():
			t.Errorf("context is canceled: %v", context.Cause(ctx))
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("when the path does not exist, it fails", func(t *testing.T) {
		_, _, err := filewatch.UntilModified(context.Background(), filepath.Join(t.TempDir(), "missing"))
		if err == nil {
			t.Error("it should fail")
		}
	})
}
