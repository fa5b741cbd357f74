// Package journaltest provides tests shared by Journal implementations.
package journaltest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/utils/try"
)

// Run tests a Journal implementation.
//
// # Args
//
// - t
//
// - open: returns an empty Journal. It is called per subtest.
func Run(t *testing.T, open func(*testing.T) journal.Journal) {
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	entry := func(t *testing.T, id string, app string, offset time.Duration) journal.Entry {
		return journal.Entry{
			TaskID:      id,
			Application: app,
			Description: "description of " + id,
			Job: try.To(job.New().
				Add("resizeServerGroup", map[string]any{"capacity": map[string]any{"min": 1.0, "max": 3.0}}).
				Add("wait", map[string]any{"waitTime": 30.0}).
				Build(),
			).OrFatal(t),
			SubmittedAt: base.Add(offset),
		}
	}

	t.Run("a recorded entry can be got as watching", func(t *testing.T) {
		testee := open(t)
		expected := entry(t, "task-1", "app", 0)
		if err := testee.Record(ctx, expected); err != nil {
			t.Fatal(err)
		}

		actual := try.To(testee.Get(ctx, "task-1")).OrFatal(t)
		assertEntry(t, actual, expected, journal.StateWatching)
		if actual.Finished() {
			t.Errorf("entry is finished: %+v", actual)
		}
	})

	t.Run("recording same task twice is a conflict", func(t *testing.T) {
		testee := open(t)
		e := entry(t, "task-1", "app", 0)
		if err := testee.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
		if err := testee.Record(ctx, e); !errors.Is(err, journal.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("a finished entry has the result", func(t *testing.T) {
		testee := open(t)
		e := entry(t, "task-1", "app", 0)
		if err := testee.Record(ctx, e); err != nil {
			t.Fatal(err)
		}

		at := base.Add(time.Minute)
		if err := testee.Finish(ctx, "task-1", journal.Result{
			State: "FAILED", Reason: "LOST_CONTACT", Message: "connection refused", At: at,
		}); err != nil {
			t.Fatal(err)
		}

		actual := try.To(testee.Get(ctx, "task-1")).OrFatal(t)
		assertEntry(t, actual, e, "FAILED")
		if actual.Reason != "LOST_CONTACT" || actual.Message != "connection refused" {
			t.Errorf("unexpected result: %+v", actual)
		}
		if actual.FinishedAt == nil || !actual.FinishedAt.Equal(at) {
			t.Errorf("unexpected finished at: %v", actual.FinishedAt)
		}

		if err := testee.Finish(ctx, "task-1", journal.Result{State: "SUCCEEDED", At: at}); !errors.Is(err, journal.ErrConflict) {
			t.Errorf("finishing twice: unexpected error: %v", err)
		}
	})

	t.Run("a noted entry stays unfinished, and can be finished later", func(t *testing.T) {
		testee := open(t)
		e := entry(t, "task-1", "app", 0)
		if err := testee.Record(ctx, e); err != nil {
			t.Fatal(err)
		}

		if err := testee.Note(ctx, "task-1", journal.Result{
			State: "FAILED", Reason: "LOST_CONTACT", Message: "connection refused", At: base,
		}); err != nil {
			t.Fatal(err)
		}
		noted := try.To(testee.Get(ctx, "task-1")).OrFatal(t)
		assertEntry(t, noted, e, journal.StateWatching)
		if noted.Finished() || noted.Reason != "LOST_CONTACT" || noted.Message != "connection refused" {
			t.Errorf("unexpected noted entry: %+v", noted)
		}
		unfinished := try.To(testee.Find(ctx, journal.Query{Unfinished: true})).OrFatal(t)
		if len(unfinished) != 1 || unfinished[0].TaskID != "task-1" {
			t.Errorf("noted entry is not unfinished: %+v", unfinished)
		}

		at := base.Add(time.Hour)
		if err := testee.Finish(ctx, "task-1", journal.Result{State: "SUCCEEDED", At: at}); err != nil {
			t.Fatal(err)
		}
		finished := try.To(testee.Get(ctx, "task-1")).OrFatal(t)
		assertEntry(t, finished, e, "SUCCEEDED")
		if !finished.Finished() || finished.Reason != "" || finished.Message != "" {
			t.Errorf("unexpected finished entry: %+v", finished)
		}

		if err := testee.Note(ctx, "task-1", journal.Result{Reason: "TIMEOUT"}); !errors.Is(err, journal.ErrConflict) {
			t.Errorf("noting finished entry: unexpected error: %v", err)
		}
	})

	t.Run("missing entry cannot be got nor finished", func(t *testing.T) {
		testee := open(t)
		if _, err := testee.Get(ctx, "no-such-task"); !errors.Is(err, journal.ErrMissing) {
			t.Errorf("Get: unexpected error: %v", err)
		}
		if err := testee.Finish(ctx, "no-such-task", journal.Result{State: "SUCCEEDED", At: base}); !errors.Is(err, journal.ErrMissing) {
			t.Errorf("Finish: unexpected error: %v", err)
		}
		if err := testee.Note(ctx, "no-such-task", journal.Result{Reason: "TIMEOUT"}); !errors.Is(err, journal.ErrMissing) {
			t.Errorf("Note: unexpected error: %v", err)
		}
	})

	t.Run("Find returns entries from the newest", func(t *testing.T) {
		testee := open(t)
		for _, e := range []journal.Entry{
			entry(t, "task-1", "app-a", 1*time.Second),
			entry(t, "task-2", "app-b", 2*time.Second),
			entry(t, "task-3", "app-a", 3*time.Second),
			entry(t, "task-4", "app-a", 4*time.Second),
		} {
			if err := testee.Record(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
		if err := testee.Finish(ctx, "task-3", journal.Result{State: "SUCCEEDED", At: base.Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}

		for name, testcase := range map[string]struct {
			query    journal.Query
			expected []string
		}{
			"all": {
				query:    journal.Query{},
				expected: []string{"task-4", "task-3", "task-2", "task-1"},
			},
			"by application": {
				query:    journal.Query{Application: "app-a"},
				expected: []string{"task-4", "task-3", "task-1"},
			},
			"unfinished": {
				query:    journal.Query{Unfinished: true},
				expected: []string{"task-4", "task-2", "task-1"},
			},
			"unfinished by application, limited": {
				query:    journal.Query{Application: "app-a", Unfinished: true, Limit: 1},
				expected: []string{"task-4"},
			},
			"no match": {
				query:    journal.Query{Application: "app-z"},
				expected: []string{},
			},
		} {
			t.Run(name, func(t *testing.T) {
				found := try.To(testee.Find(ctx, testcase.query)).OrFatal(t)
				actual := []string{}
				for _, e := range found {
					actual = append(actual, e.TaskID)
				}
				if len(actual) != len(testcase.expected) {
					t.Fatalf("(actual, expected) = (%v, %v)", actual, testcase.expected)
				}
				for i := range actual {
					if actual[i] != testcase.expected[i] {
						t.Errorf("(actual, expected) = (%v, %v)", actual, testcase.expected)
						break
					}
				}
			})
		}
	})
}

func assertEntry(t *testing.T, actual, expected journal.Entry, state string) {
	t.Helper()
	if actual.TaskID != expected.TaskID ||
		actual.Application != expected.Application ||
		actual.Description != expected.Description ||
		!actual.SubmittedAt.Equal(expected.SubmittedAt) ||
		actual.State != state {
		t.Errorf("unexpected entry:\n===actual===\n%+v\n===expected===\n%+v (state = %s)", actual, expected, state)
	}

	aj := try.To(json.Marshal(actual.Job)).OrFatal(t)
	ej := try.To(json.Marshal(expected.Job)).OrFatal(t)
	if string(aj) != string(ej) {
		t.Errorf("job: (actual, expected) = (%s, %s)", aj, ej)
	}
}
