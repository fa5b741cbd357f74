package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// ModifiedError is the cause of a context ended by file modification.
type ModifiedError struct {
	Name string
	Op   fsnotify.Op
}

func (e *ModifiedError) Error() string {
	return fmt.Sprintf("%s is updated (%s)", e.Name, e.Op)
}

// UntilModified returns a context which is canceled
// when one of files is modified (written, created, removed, or renamed).
//
// Changes only on permission are ignored.
//
// # Args
//
// - ctx: parent context.
//
// - paths: files or directories to be watched.
//
// # Returns
//
// - context.Context: context canceled when one of paths is modified.
// Its cause (context.Cause) is a *ModifiedError.
//
// - context.CancelFunc: stops watching.
//
// - error: error caused when it fails to start watching files.
func UntilModified(ctx context.Context, paths ...string) (context.Context, context.CancelFunc, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, nil, err
		}
	}

	cctx, cancel := context.WithCancelCause(ctx)
	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("watching files: %w", err))
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				cancel(&ModifiedError{Name: event.Name, Op: event.Op})
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
