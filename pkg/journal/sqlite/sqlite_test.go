package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/journal/journaltest"
	"github.com/opst/taskmon/pkg/journal/sqlite"
	"github.com/opst/taskmon/pkg/utils/try"
)

func TestJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) journal.Journal {
		j := try.To(sqlite.Open(
			context.Background(), filepath.Join(t.TempDir(), "journal.db"),
		)).OrFatal(t)
		t.Cleanup(func() { j.Close() })
		return j
	})
}

func TestOpen(t *testing.T) {
	t.Run("entries survive reopening", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")

		j := try.To(sqlite.Open(ctx, path)).OrFatal(t)
		if err := j.Record(ctx, journal.Entry{
			TaskID: "task-1", Application: "app", SubmittedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
		if err := j.Close(); err != nil {
			t.Fatal(err)
		}

		reopened := try.To(sqlite.Open(ctx, path)).OrFatal(t)
		defer reopened.Close()
		e := try.To(reopened.Get(ctx, "task-1")).OrFatal(t)
		if e.Application != "app" || len(e.Job) != 0 {
			t.Errorf("unexpected entry: %+v", e)
		}
	})
}
