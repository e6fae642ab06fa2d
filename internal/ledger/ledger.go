// Package ledger records instrument runs in SQLite: one row per run, its
// event trail and every attributable fault.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

// Ledger is a SQLite-backed run log. It is safe for concurrent use.
type Ledger struct {
	db  *sql.DB
	log logging.Logger
}

// Open creates or opens the ledger at path. ":memory:" is accepted.
func Open(path string, log logging.Logger) (*Ledger, error) {
	if log == nil {
		log = logging.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	// SQLite supports one writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &Ledger{db: db, log: log}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Run is one recorded run.
type Run struct {
	ID         string
	Config     string
	Backend    string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Degraded   bool
}

// Begin inserts a run.
func (l *Ledger) Begin(ctx context.Context, id, config, backend string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, backend, started_at) VALUES (?, ?, ?, ?)`,
		id, config, backend, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// Finish records the final state of a run.
func (l *Ledger) Finish(ctx context.Context, id, state string, degraded bool) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, state = ?, degraded = ? WHERE id = ?`,
		time.Now().UnixNano(), state, degraded, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecordFaults stores every attributable fault in err. Errors carrying no
// fault are stored as runtime faults with their message.
func (l *Ledger) RecordFaults(ctx context.Context, runID string, err error) error {
	if err == nil {
		return nil
	}
	faults := fault.All(err)
	if len(faults) == 0 {
		faults = []*fault.Error{{Kind: fault.Execution, Err: err}}
	}
	tx, txErr := l.db.BeginTx(ctx, nil)
	if txErr != nil {
		return fmt.Errorf("record faults: %w", txErr)
	}
	defer tx.Rollback()
	for _, fe := range faults {
		msg := fe.Error()
		if fe.Err != nil {
			msg = fe.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO faults (run_id, kind, op, engine, channel, waveform, item, message)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, fe.Kind.String(), fe.Op, fe.Engine, fe.Channel, fe.Waveform, fe.Item, msg); err != nil {
			return fmt.Errorf("record fault: %w", err)
		}
	}
	return tx.Commit()
}

// Report implements telemetry.Reporter. Write failures are logged.
func (l *Ledger) Report(e telemetry.Event) {
	if err := l.Append(context.Background(), e); err != nil {
		l.log.Warn("ledger append failed", logging.Err(err))
	}
}

// Append stores one event.
func (l *Ledger) Append(ctx context.Context, e telemetry.Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (run_id, at, kind, engine, channel, from_state, to_state, message, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Run, e.Time.UnixNano(), string(e.Kind), e.Engine, e.Channel, e.From, e.To, e.Message, e.Value)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Get returns one run.
func (l *Ledger) Get(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, config, backend, started_at, finished_at, state, degraded FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, err)
	}
	return r, err
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, config, backend, started_at, finished_at, state, degraded
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Config, &r.Backend, &started, &finished, &r.State, &r.Degraded); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return r, nil
}

// Events returns the event trail of a run in insertion order.
func (l *Ledger) Events(ctx context.Context, runID string) ([]telemetry.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT at, kind, engine, channel, from_state, to_state, message, value
		 FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []telemetry.Event
	for rows.Next() {
		var (
			e    telemetry.Event
			at   int64
			kind string
		)
		if err := rows.Scan(&at, &kind, &e.Engine, &e.Channel, &e.From, &e.To, &e.Message, &e.Value); err != nil {
			return nil, err
		}
		e.Run = runID
		e.Time = time.Unix(0, at)
		e.Kind = telemetry.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Fault is a stored fault.
type Fault struct {
	Kind     string
	Op       string
	Engine   string
	Channel  int
	Waveform int
	Item     int
	Message  string
}

// Faults returns the faults of a run in insertion order.
func (l *Ledger) Faults(ctx context.Context, runID string) ([]Fault, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, op, engine, channel, waveform, item, message
		 FROM faults WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()
	var out []Fault
	for rows.Next() {
		var f Fault
		if err := rows.Scan(&f.Kind, &f.Op, &f.Engine, &f.Channel, &f.Waveform, &f.Item, &f.Message); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
