package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	xe "github.com/opst/taskmon/pkg/errors"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/retry"
	"k8s.io/utils/clock"
)

const schema = `
CREATE TABLE IF NOT EXISTS "task_journal" (
	"task_id" varchar PRIMARY KEY,
	"application" varchar NOT NULL,
	"description" text NOT NULL,
	"job" text NOT NULL,
	"submitted_at" timestamp with time zone NOT NULL,
	"state" varchar NOT NULL,
	"reason" varchar NOT NULL DEFAULT '',
	"message" text NOT NULL DEFAULT '',
	"finished_at" timestamp with time zone
);
CREATE INDEX IF NOT EXISTS "task_journal_submitted_at" ON "task_journal" ("submitted_at");
`

type pgJournal struct {
	pool *pgxpool.Pool
}

var _ journal.Journal = &pgJournal{}

type Config struct {
	// policy to wait for the database to be ready.
	Policy retry.Policy
	Clock  clock.Clock
}

type Option func(*Config) *Config

// WithConnectPolicy sets how to wait for the database.
//
// Default: every 2 seconds, up to 15 times.
func WithConnectPolicy(p retry.Policy) Option {
	return func(c *Config) *Config {
		c.Policy = p
		return c
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Config) *Config {
		c.Clock = clk
		return c
	}
}

// Open connects to the database and prepares the journal table.
//
// When the database is not ready, Open retries to connect following the connect policy.
func Open(ctx context.Context, url string, options ...Option) (journal.Journal, error) {
	conf := &Config{
		Policy: retry.Fixed{Interval: 2 * time.Second, MaxFailures: 15},
		Clock:  clock.RealClock{},
	}
	for _, opt := range options {
		conf = opt(conf)
	}

	pgconf, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	pgconf.LazyConnect = true

	pool, err := pgxpool.ConnectConfig(ctx, pgconf)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	// the first attempt is sent without waiting.
	first := true
	backoff := retry.PolicyBackoff(conf.Clock, conf.Policy)
	_, err = retry.Blocking(ctx,
		func(ctx context.Context) error {
			if first {
				first = false
				return nil
			}
			return backoff(ctx)
		},
		func() (struct{}, error) {
			if err := pool.Ping(ctx); err != nil {
				return struct{}{}, fmt.Errorf("%w: %w", retry.ErrRetry, err)
			}
			return struct{}{}, nil
		},
	)
	if err != nil {
		pool.Close()
		return nil, xe.WrapWithNote("database is not ready", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, xe.Wrap(err)
	}
	return &pgJournal{pool: pool}, nil
}

func (p *pgJournal) Close() error {
	p.pool.Close()
	return nil
}

func (p *pgJournal) Record(ctx context.Context, entry journal.Entry) error {
	j, err := json.Marshal(entry.Job)
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = p.pool.Exec(ctx,
		`insert into "task_journal"
			("task_id", "application", "description", "job", "submitted_at", "state")
		values ($1, $2, $3, $4, $5, $6)`,
		entry.TaskID, entry.Application, entry.Description, string(j),
		entry.SubmittedAt, journal.StateWatching,
	)
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
		return xe.Wrap(fmt.Errorf("%w: task %s is recorded already", journal.ErrConflict, entry.TaskID))
	} else if err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (p *pgJournal) Finish(ctx context.Context, taskId string, result journal.Result) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var finishedAt *time.Time
	if err := tx.QueryRow(ctx,
		`select "finished_at" from "task_journal" where "task_id" = $1 for update`, taskId,
	).Scan(&finishedAt); errors.Is(err, pgx.ErrNoRows) {
		return xe.Wrap(fmt.Errorf("%w: task %s", journal.ErrMissing, taskId))
	} else if err != nil {
		return xe.Wrap(err)
	}
	if finishedAt != nil {
		return xe.Wrap(fmt.Errorf("%w: task %s has been finished", journal.ErrConflict, taskId))
	}

	if _, err := tx.Exec(ctx,
		`update "task_journal"
		set "state" = $2, "reason" = $3, "message" = $4, "finished_at" = $5
		where "task_id" = $1`,
		taskId, result.State, result.Reason, result.Message, result.At,
	); err != nil {
		return xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (p *pgJournal) Note(ctx context.Context, taskId string, result journal.Result) error {
	tag, err := p.pool.Exec(ctx,
		`update "task_journal" set "reason" = $2, "message" = $3
		where "task_id" = $1 and "finished_at" is null`,
		taskId, result.Reason, result.Message,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if tag.RowsAffected() != 0 {
		return nil
	}

	if _, err := p.Get(ctx, taskId); err != nil {
		return err
	}
	return xe.Wrap(fmt.Errorf("%w: task %s has been finished", journal.ErrConflict, taskId))
}

const columns = `"task_id", "application", "description", "job", "submitted_at", "state", "reason", "message", "finished_at"`

func (p *pgJournal) Get(ctx context.Context, taskId string) (journal.Entry, error) {
	row := p.pool.QueryRow(ctx,
		`select `+columns+` from "task_journal" where "task_id" = $1`, taskId,
	)
	e, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.Entry{}, xe.Wrap(fmt.Errorf("%w: task %s", journal.ErrMissing, taskId))
	} else if err != nil {
		return journal.Entry{}, xe.Wrap(err)
	}
	return e, nil
}

func (p *pgJournal) Find(ctx context.Context, query journal.Query) ([]journal.Entry, error) {
	where := []string{}
	args := []any{}
	if query.Application != "" {
		args = append(args, query.Application)
		where = append(where, fmt.Sprintf(`"application" = $%d`, len(args)))
	}
	if query.Unfinished {
		where = append(where, `"finished_at" is null`)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = journal.DefaultLimit
	}
	args = append(args, limit)

	sql := `select ` + columns + ` from "task_journal"`
	if len(where) != 0 {
		sql += " where " + strings.Join(where, " and ")
	}
	sql += fmt.Sprintf(` order by "submitted_at" desc, "task_id" limit $%d`, len(args))

	rows, err := p.pool.Query(ctx, sql, args...)
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

func scan(row pgx.Row) (journal.Entry, error) {
	var (
		e       journal.Entry
		jobJson string
	)
	if err := row.Scan(
		&e.TaskID, &e.Application, &e.Description, &jobJson,
		&e.SubmittedAt, &e.State, &e.Reason, &e.Message, &e.FinishedAt,
	); err != nil {
		return journal.Entry{}, err
	}

	descs := []job.Descriptor{}
	if err := json.Unmarshal([]byte(jobJson), &descs); err != nil {
		return journal.Entry{}, fmt.Errorf("broken job of task %s: %w", e.TaskID, err)
	}
	e.Job = descs
	return e, nil
}
