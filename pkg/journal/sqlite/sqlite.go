package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	xe "github.com/opst/taskmon/pkg/errors"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/journal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_journal (
  task_id TEXT PRIMARY KEY,
  application TEXT NOT NULL,
  description TEXT NOT NULL,
  job TEXT NOT NULL,
  submitted_at INTEGER NOT NULL,
  state TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS task_journal_submitted_at ON task_journal (submitted_at);
`

type sqliteJournal struct {
	db *sql.DB
}

var _ journal.Journal = &sqliteJournal{}

// Open opens the journal in the file. The file and its directory are created if missing.
func Open(ctx context.Context, path string) (journal.Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.FileMode(0700)); err != nil {
			return nil, xe.Wrap(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	// sqlite allows one writer at once.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, xe.Wrap(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, xe.Wrap(err)
	}
	return &sqliteJournal{db: db}, nil
}

func (s *sqliteJournal) Close() error {
	return s.db.Close()
}

func (s *sqliteJournal) Record(ctx context.Context, entry journal.Entry) error {
	j, err := json.Marshal(entry.Job)
	if err != nil {
		return xe.Wrap(err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_journal (task_id, application, description, job, submitted_at, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`,
		entry.TaskID,
		entry.Application,
		entry.Description,
		string(j),
		entry.SubmittedAt.UnixMilli(),
		journal.StateWatching,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return xe.Wrap(err)
	} else if n == 0 {
		return xe.Wrap(fmt.Errorf("%w: task %s is recorded already", journal.ErrConflict, entry.TaskID))
	}
	return nil
}

func (s *sqliteJournal) Finish(ctx context.Context, taskId string, result journal.Result) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_journal SET state = ?, reason = ?, message = ?, finished_at = ?
		WHERE task_id = ? AND finished_at IS NULL`,
		result.State, result.Reason, result.Message, result.At.UnixMilli(), taskId,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return xe.Wrap(err)
	} else if n != 0 {
		return nil
	}

	if _, err := s.Get(ctx, taskId); err != nil {
		return err
	}
	return xe.Wrap(fmt.Errorf("%w: task %s has been finished", journal.ErrConflict, taskId))
}

func (s *sqliteJournal) Note(ctx context.Context, taskId string, result journal.Result) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_journal SET reason = ?, message = ?
		WHERE task_id = ? AND finished_at IS NULL`,
		result.Reason, result.Message, taskId,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return xe.Wrap(err)
	} else if n != 0 {
		return nil
	}

	if _, err := s.Get(ctx, taskId); err != nil {
		return err
	}
	return xe.Wrap(fmt.Errorf("%w: task %s has been finished", journal.ErrConflict, taskId))
}

const columns = `task_id, application, description, job, submitted_at, state, reason, message, finished_at`

func (s *sqliteJournal) Get(ctx context.Context, taskId string) (journal.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM task_journal WHERE task_id = ?`, taskId,
	)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Entry{}, xe.Wrap(fmt.Errorf("%w: task %s", journal.ErrMissing, taskId))
	} else if err != nil {
		return journal.Entry{}, xe.Wrap(err)
	}
	return e, nil
}

func (s *sqliteJournal) Find(ctx context.Context, query journal.Query) ([]journal.Entry, error) {
	where := []string{}
	args := []any{}
	if query.Application != "" {
		where = append(where, "application = ?")
		args = append(args, query.Application)
	}
	if query.Unfinished {
		where = append(where, "finished_at IS NULL")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = journal.DefaultLimit
	}

	sqlq := `SELECT ` + columns + ` FROM task_journal`
	if len(where) != 0 {
		sqlq += " WHERE " + strings.Join(where, " AND ")
	}
	sqlq += " ORDER BY submitted_at DESC, task_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	entries := []journal.Entry{}
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (journal.Entry, error) {
	var (
		e           journal.Entry
		jobJson     string
		submittedMs int64
		finishedMs  sql.NullInt64
	)
	if err := row.Scan(
		&e.TaskID, &e.Application, &e.Description, &jobJson,
		&submittedMs, &e.State, &e.Reason, &e.Message, &finishedMs,
	); err != nil {
		return journal.Entry{}, err
	}

	descs := []job.Descriptor{}
	if err := json.Unmarshal([]byte(jobJson), &descs); err != nil {
		return journal.Entry{}, fmt.Errorf("broken job of task %s: %w", e.TaskID, err)
	}
	e.Job = descs
	e.SubmittedAt = time.UnixMilli(submittedMs)
	if finishedMs.Valid {
		at := time.UnixMilli(finishedMs.Int64)
		e.FinishedAt = &at
	}
	return e, nil
}
