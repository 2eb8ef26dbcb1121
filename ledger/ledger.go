/*
Copyright © 2024 the IcePhen authors.
This file is part of IcePhen.

IcePhen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

IcePhen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with IcePhen.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ledger records IcePhen runs in a SQLite database: which
// product and years each run covered, the files it wrote, the years it
// skipped, and the phase ordering problems it found.
package ledger

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/icephen/icephen"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Ledger is a run ledger backed by SQLite.
type Ledger struct {
	db *sql.DB

	// Clock stamps run start and finish times.
	Clock clockwork.Clock
}

// Open opens or creates the ledger database at dsn (a file path or
// ":memory:") and brings its schema up to date.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: opening database")
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ledger: enabling foreign keys")
	}
	l := &Ledger{db: db, Clock: clockwork.NewRealClock()}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

var migrations = []string{
	`CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    product TEXT NOT NULL,
    input TEXT NOT NULL,
    output TEXT NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL,
    software_version TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'complete', 'failed')),
    message TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT
);
CREATE TABLE outputs (
    run_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    path TEXT NOT NULL,
    valid INTEGER NOT NULL,
    land INTEGER NOT NULL,
    open_water INTEGER NOT NULL,
    missing INTEGER NOT NULL,
    PRIMARY KEY (run_id, year),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);
CREATE TABLE phase_events (
    run_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    phase TEXT NOT NULL,
    events INTEGER NOT NULL,
    no_event INTEGER NOT NULL,
    missing_window INTEGER NOT NULL,
    PRIMARY KEY (run_id, year, phase),
    FOREIGN KEY (run_id, year) REFERENCES outputs(run_id, year)
);
CREATE TABLE skipped_years (
    run_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    PRIMARY KEY (run_id, year),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);
CREATE TABLE ordering_violations (
    run_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    pair TEXT NOT NULL,
    pixels INTEGER NOT NULL,
    PRIMARY KEY (run_id, year, pair),
    FOREIGN KEY (run_id, year) REFERENCES outputs(run_id, year)
);
CREATE INDEX idx_runs_product ON runs(product);`,
}

// migrate applies the migrations that have not yet been applied,
// tracking progress with SQLite's user_version.
func (l *Ledger) migrate(ctx context.Context) error {
	var version int
	if err := l.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "ledger: reading schema version")
	}
	if version > len(migrations) {
		return errors.Errorf("ledger: database schema version %d is newer than this program (%d)",
			version, len(migrations))
	}
	for v := version; v < len(migrations); v++ {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "ledger: beginning migration")
		}
		if _, err = tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "ledger: applying migration %d", v+1)
		}
		// PRAGMA does not take bind parameters.
		if _, err = tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(v+1)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "ledger: recording migration %d", v+1)
		}
		if err = tx.Commit(); err != nil {
			return errors.Wrapf(err, "ledger: committing migration %d", v+1)
		}
	}
	return nil
}

// Run describes one invocation of the detector over a range of years.
type Run struct {
	ID        string
	Product   string
	Input     string
	Output    string
	FirstYear int
	LastYear  int
	Version   string
	Status    string
	Message   string
	Started   time.Time
	Finished  time.Time // zero while the run is in progress
}

const timeFormat = time.RFC3339Nano

// BeginRun assigns r a new ID, marks it running and stores it.
func (l *Ledger) BeginRun(ctx context.Context, r *Run) error {
	r.ID = uuid.NewString()
	r.Status = StatusRunning
	r.Started = l.Clock.Now().UTC()
	if r.Version == "" {
		r.Version = icephen.Version
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, product, input, output, first_year, last_year,
			software_version, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Product, r.Input, r.Output, r.FirstYear, r.LastYear,
		r.Version, r.Status, r.Started.Format(timeFormat),
	)
	return errors.Wrap(err, "ledger: creating run")
}

// FinishRun marks run id complete, or failed with message if runErr is
// not nil.
func (l *Ledger) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, msg, l.Clock.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return errors.Wrap(err, "ledger: finishing run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

// RecordYear stores the output file of one year together with its pixel
// class counts, per-phase event counts and ordering violations.
func (l *Ledger) RecordYear(ctx context.Context, runID string, r *icephen.YearResult, path string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "ledger: beginning transaction")
	}
	defer tx.Rollback()

	s := r.Stats
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO outputs (run_id, year, path, valid, land, open_water, missing)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Year, path, s.Valid, s.Land, s.OpenWater, s.Missing); err != nil {
		return errors.Wrapf(err, "ledger: recording output for %d", r.Year)
	}
	for _, pg := range r.Phases {
		name := pg.Window.Name
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO phase_events (run_id, year, phase, events, no_event, missing_window)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, r.Year, name, s.Events[name], s.NoEvent[name], s.MissingWindow[name]); err != nil {
			return errors.Wrapf(err, "ledger: recording %s events for %d", name, r.Year)
		}
	}
	for pair, n := range r.OrderingViolations {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ordering_violations (run_id, year, pair, pixels) VALUES (?, ?, ?, ?)`,
			runID, r.Year, pair, n); err != nil {
			return errors.Wrapf(err, "ledger: recording ordering %s for %d", pair, r.Year)
		}
	}
	return errors.Wrap(tx.Commit(), "ledger: committing year")
}

// RecordSkip stores a year that was not processed. phase is empty when
// the whole calendar year lacked coverage.
func (l *Ledger) RecordSkip(ctx context.Context, runID string, year int, phase, reason string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO skipped_years (run_id, year, phase, reason) VALUES (?, ?, ?, ?)`,
		runID, year, phase, reason)
	return errors.Wrapf(err, "ledger: recording skipped year %d", year)
}

// Runs returns the runs of product, newest first. An empty product
// returns every run.
func (l *Ledger) Runs(ctx context.Context, product string) ([]Run, error) {
	query := `
		SELECT id, product, input, output, first_year, last_year,
			software_version, status, message, started_at, finished_at
		FROM runs`
	var args []interface{}
	if product != "" {
		query += ` WHERE product = ?`
		args = append(args, product)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: listing runs")
	}
	defer rows.Close()
	var o []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Product, &r.Input, &r.Output, &r.FirstYear, &r.LastYear,
			&r.Version, &r.Status, &r.Message, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "ledger: scanning run")
		}
		if r.Started, err = time.Parse(timeFormat, started); err != nil {
			return nil, errors.Wrapf(err, "ledger: run %s start time", r.ID)
		}
		if finished.Valid {
			if r.Finished, err = time.Parse(timeFormat, finished.String); err != nil {
				return nil, errors.Wrapf(err, "ledger: run %s finish time", r.ID)
			}
		}
		o = append(o, r)
	}
	return o, errors.Wrap(rows.Err(), "ledger: listing runs")
}

// Run returns the run with the given ID.
func (l *Ledger) Run(ctx context.Context, id string) (*Run, error) {
	runs, err := l.Runs(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "run %s", id)
}

// Output is a file written by a run.
type Output struct {
	Year                            int
	Path                            string
	Valid, Land, OpenWater, Missing int

	// Events holds the number of pixels with an event, per phase.
	Events map[string]int

	// Violations holds the ordering violations, per phase pair.
	Violations map[string]int
}

// Outputs returns the files written by run id, ordered by year.
func (l *Ledger) Outputs(ctx context.Context, id string) ([]Output, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT year, path, valid, land, open_water, missing
		FROM outputs WHERE run_id = ? ORDER BY year`, id)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: listing outputs")
	}
	var o []Output
	byYear := make(map[int]*Output)
	for rows.Next() {
		var out Output
		if err := rows.Scan(&out.Year, &out.Path, &out.Valid, &out.Land, &out.OpenWater, &out.Missing); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "ledger: scanning output")
		}
		out.Events = make(map[string]int)
		out.Violations = make(map[string]int)
		o = append(o, out)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ledger: listing outputs")
	}
	for i := range o {
		byYear[o[i].Year] = &o[i]
	}

	if err := l.scanCounts(ctx, `SELECT year, phase, events FROM phase_events WHERE run_id = ?`, id,
		func(year int, key string, n int) { byYear[year].Events[key] = n }); err != nil {
		return nil, err
	}
	if err := l.scanCounts(ctx, `SELECT year, pair, pixels FROM ordering_violations WHERE run_id = ?`, id,
		func(year int, key string, n int) { byYear[year].Violations[key] = n }); err != nil {
		return nil, err
	}
	return o, nil
}

func (l *Ledger) scanCounts(ctx context.Context, query, id string, f func(year int, key string, n int)) error {
	rows, err := l.db.QueryContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "ledger: querying counts")
	}
	defer rows.Close()
	for rows.Next() {
		var year, n int
		var key string
		if err := rows.Scan(&year, &key, &n); err != nil {
			return errors.Wrap(err, "ledger: scanning counts")
		}
		f(year, key, n)
	}
	return errors.Wrap(rows.Err(), "ledger: querying counts")
}

// Skip is a year a run did not process.
type Skip struct {
	Year   int
	Phase  string
	Reason string
}

// Skips returns the years skipped by run id, ordered by year.
func (l *Ledger) Skips(ctx context.Context, id string) ([]Skip, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT year, phase, reason FROM skipped_years WHERE run_id = ? ORDER BY year`, id)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: listing skipped years")
	}
	defer rows.Close()
	var o []Skip
	for rows.Next() {
		var s Skip
		if err := rows.Scan(&s.Year, &s.Phase, &s.Reason); err != nil {
			return nil, errors.Wrap(err, "ledger: scanning skipped year")
		}
		o = append(o, s)
	}
	return o, errors.Wrap(rows.Err(), "ledger: listing skipped years")
}
