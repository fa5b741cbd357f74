// Package journal records submitted tasks and their outcomes.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/opst/taskmon/pkg/job"
)

var (
	// requested entry is not in the journal.
	ErrMissing = errors.New("journal: missing")

	// the entry conflicts with the existing one.
	ErrConflict = errors.New("journal: conflict")
)

// state of entries which have not been finished.
const StateWatching = "WATCHING"

const DefaultLimit = 20

type Entry struct {
	TaskID      string           `json:"taskId"`
	Application string           `json:"application"`
	Description string           `json:"description"`
	Job         []job.Descriptor `json:"job"`
	SubmittedAt time.Time        `json:"submittedAt"`

	// StateWatching, or the final state of the task.
	State string `json:"state"`

	// reason of failure or origin of cancel. Empty when succeeded.
	//
	// While watching, the reason why the last watch ended without knowing the fate of the task, if any.
	Reason string `json:"reason,omitempty"`

	// detail of the outcome, if any.
	Message string `json:"message,omitempty"`

	// nil when watching.
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (e Entry) Finished() bool {
	return e.FinishedAt != nil
}

// Result is the outcome of a task.
type Result struct {
	State   string
	Reason  string
	Message string
	At      time.Time
}

type Query struct {
	// if not empty, entries of the application only.
	Application string

	// if true, entries not finished only.
	Unfinished bool

	// max number of entries. DefaultLimit when not positive.
	Limit int
}

// Journal is a store of Entries.
type Journal interface {
	// Record adds a new entry. Its State and FinishedAt are ignored.
	//
	// # Returns
	//
	// - error: ErrConflict if the task is recorded already.
	Record(ctx context.Context, entry Entry) error

	// Finish records the outcome of the task.
	//
	// # Returns
	//
	// - error: ErrMissing if the task is not recorded. ErrConflict if it has been finished.
	Finish(ctx context.Context, taskId string, result Result) error

	// Note records why a watch ended without knowing the fate of the task.
	//
	// The entry stays unfinished: its State is kept, and its Reason and Message are overwritten.
	// result.State and result.At are ignored.
	//
	// # Returns
	//
	// - error: ErrMissing if the task is not recorded. ErrConflict if it has been finished.
	Note(ctx context.Context, taskId string, result Result) error

	// Get returns the entry of the task.
	//
	// # Returns
	//
	// - error: ErrMissing if the task is not recorded.
	Get(ctx context.Context, taskId string) (Entry, error)

	// Find returns entries matching the query, in order of the newest submission first.
	Find(ctx context.Context, query Query) ([]Entry, error)

	Close() error
}

type null struct{}

// Null returns a Journal remembering nothing.
//
// Get always fails with ErrMissing.
func Null() Journal {
	return null{}
}

func (null) Record(context.Context, Entry) error {
	return nil
}

func (null) Finish(context.Context, string, Result) error {
	return nil
}

func (null) Note(context.Context, string, Result) error {
	return nil
}

func (null) Get(context.Context, string) (Entry, error) {
	return Entry{}, ErrMissing
}

func (null) Find(context.Context, Query) ([]Entry, error) {
	return []Entry{}, nil
}

func (null) Close() error {
	return nil
}
