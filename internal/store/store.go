// Package store keeps the history of analysis runs in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoRuns is returned by Latest when no run has been recorded.
var ErrNoRuns = errors.New("no runs recorded")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	state TEXT NOT NULL,
	version TEXT NOT NULL,
	git_commit TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	datasets INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	anomalies INTEGER NOT NULL,
	optimal_mtu INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS rankings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	rank INTEGER NOT NULL,
	label TEXT NOT NULL,
	overall_score REAL NOT NULL,
	avg_bandwidth_mbps REAL NOT NULL,
	avg_jitter_ms REAL NOT NULL,
	success_rate REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS rankings_label ON rankings(label);
`

// Run is the summary of a recorded run.
type Run struct {
	RunID      string
	State      string
	Version    string
	GitCommit  string
	StartTime  time.Time
	EndTime    time.Time
	Datasets   int
	Errors     int
	Anomalies  int
	OptimalMtu int
}

// Ranking is the position of a configuration in one run.
type Ranking struct {
	RunID            string
	StartTime        time.Time
	Rank             int
	Label            string
	OverallScore     float64
	AvgBandwidthMbps float64
	AvgJitterMs      float64
	SuccessRate      float64
}

// Store is a run history backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating it if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves the summary and the overall ranking of a run. Recording the
// same run twice is an error.
func (s *Store) Record(ctx context.Context, data *model.ArchivalData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(run_id, state, version, git_commit, start_time, end_time, datasets, errors, anomalies, optimal_mtu)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.RunID, data.State, data.Version, data.GitShortCommit,
		data.StartTime.UTC(), data.EndTime.UTC(),
		len(data.Datasets), len(data.Errors), len(data.Anomalies),
		data.Comparison.MtuImpact.OptimalMtu)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", data.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rankings
		(run_id, rank, label, overall_score, avg_bandwidth_mbps, avg_jitter_ms, success_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range data.Comparison.OverallRanking {
		_, err := stmt.ExecContext(ctx, data.RunID, r.Rank, r.Label, r.OverallScore,
			r.AvgBandwidthMbps, r.AvgJitterMs, r.SuccessRate)
		if err != nil {
			return fmt.Errorf("insert ranking %s: %w", r.Label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug("Run recorded", "run", data.RunID, "rankings", len(data.Comparison.OverallRanking))
	return nil
}

// Runs returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, state, version, git_commit,
		start_time, end_time, datasets, errors, anomalies, optimal_mtu
		FROM runs ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.State, &r.Version, &r.GitCommit, &r.StartTime,
			&r.EndTime, &r.Datasets, &r.Errors, &r.Anomalies, &r.OptimalMtu); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the most recent run.
func (s *Store) Latest(ctx context.Context) (Run, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

// History returns the ranking of the configuration label in every recorded
// run, oldest first.
func (s *Store) History(ctx context.Context, label string) ([]Ranking, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT k.run_id, r.start_time, k.rank, k.label,
		k.overall_score, k.avg_bandwidth_mbps, k.avg_jitter_ms, k.success_rate
		FROM rankings k JOIN runs r ON r.run_id = k.run_id
		WHERE k.label = ? ORDER BY r.start_time ASC, r.id ASC`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []Ranking{}
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.RunID, &r.StartTime, &r.Rank, &r.Label, &r.OverallScore,
			&r.AvgBandwidthMbps, &r.AvgJitterMs, &r.SuccessRate); err != nil {
			return nil, err
		}
		history = append(history, r)
	}
	return history, rows.Err()
}
