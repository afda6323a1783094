package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// The sqlite3 driver registers itself as "sqlite3".
	_ "github.com/mattn/go-sqlite3"

	"github.com/goblimey/go-rtkpost/rdnap"
	"github.com/goblimey/go-rtkpost/rtkpost"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS fixes (
		source TEXT NOT NULL,
		time TIMESTAMP NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		height INTEGER NOT NULL,
		hmsl INTEGER NOT NULL,
		hacc INTEGER NOT NULL,
		vacc INTEGER NOT NULL,
		numsv INTEGER NOT NULL,
		pdop REAL NOT NULL,
		PRIMARY KEY (source, time)
	)`,
	`CREATE TABLE IF NOT EXISTS solutions (
		source TEXT NOT NULL,
		time TIMESTAMP NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		height REAL NOT NULL,
		q INTEGER NOT NULL,
		ns INTEGER NOT NULL,
		sdn REAL NOT NULL,
		sde REAL NOT NULL,
		sdu REAL NOT NULL,
		x REAL,
		y REAL,
		z REAL,
		PRIMARY KEY (source, time)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		job_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		class TEXT NOT NULL,
		solutions INTEGER NOT NULL,
		missing INTEGER NOT NULL,
		error TEXT NOT NULL,
		observed TIMESTAMP NOT NULL,
		through TIMESTAMP NOT NULL,
		finished TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_source ON runs (source, finished)`,
}

// fixRow is a row of the fixes table.
type fixRow struct {
	Source string `db:"source"`
	Fix
}

// solutionRow is a row of the solutions table.  The local coordinates are
// NULL when they could not be worked out.
type solutionRow struct {
	Source    string          `db:"source"`
	Time      time.Time       `db:"time"`
	Latitude  float64         `db:"lat"`
	Longitude float64         `db:"lon"`
	Height    float64         `db:"height"`
	Quality   int             `db:"q"`
	NumSats   int             `db:"ns"`
	SDN       float64         `db:"sdn"`
	SDE       float64         `db:"sde"`
	SDU       float64         `db:"sdu"`
	X         sql.NullFloat64 `db:"x"`
	Y         sql.NullFloat64 `db:"y"`
	Z         sql.NullFloat64 `db:"z"`
}

func toSolutionRow(source string, s rtkpost.Solution) solutionRow {
	row := solutionRow{
		Source:    source,
		Time:      s.Time.UTC(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Height:    s.Height,
		Quality:   int(s.Quality),
		NumSats:   s.NumSatellites,
		SDN:       s.SDN,
		SDE:       s.SDE,
		SDU:       s.SDU,
	}
	if s.Local != nil {
		row.X = sql.NullFloat64{Float64: s.Local.X, Valid: true}
		row.Y = sql.NullFloat64{Float64: s.Local.Y, Valid: true}
		row.Z = sql.NullFloat64{Float64: s.Local.Z, Valid: true}
	}
	return row
}

func (row *solutionRow) solution() rtkpost.Solution {
	s := rtkpost.Solution{
		Time:          row.Time.UTC(),
		Latitude:      row.Latitude,
		Longitude:     row.Longitude,
		Height:        row.Height,
		Quality:       rtkpost.Quality(row.Quality),
		NumSatellites: row.NumSats,
		SDN:           row.SDN,
		SDE:           row.SDE,
		SDU:           row.SDU,
	}
	if row.X.Valid && row.Y.Valid && row.Z.Valid {
		s.Local = &rdnap.Point{X: row.X.Float64, Y: row.Y.Float64, Z: row.Z.Float64}
	}
	return s
}

// SQLStore is a Store in an SQL database, by default SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if necessary) an SQLite database file.
func OpenSQLite(name string) (*SQLStore, error) {
	// Writes are serialised by SQLite anyway.  One connection avoids "database
	// is locked" errors and makes ":memory:" databases work.
	return Open("sqlite3", name+"?_busy_timeout=5000", 1)
}

// Open connects to a database and creates the tables if they don't exist.
// maxConns limits the open connections, zero meaning no limit.
func Open(driver, dsn string, maxConns int) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	for _, statement := range schema {
		if _, err := db.Exec(statement); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating the schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// replace deletes the rows for a source and inserts new ones in one
// transaction.
func (s *SQLStore) replace(ctx context.Context, table, source, insert string, rows []interface{}) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE source = ?"), source); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ReplaceFixes(ctx context.Context, source string, fixes []Fix) error {
	const insert = `INSERT INTO fixes (source, time, lat, lon, height, hmsl, hacc, vacc, numsv, pdop)
		VALUES (:source, :time, :lat, :lon, :height, :hmsl, :hacc, :vacc, :numsv, :pdop)`
	fixes = uniqueFixes(fixes)
	rows := make([]interface{}, len(fixes))
	for i, f := range fixes {
		f.Time = f.Time.UTC()
		rows[i] = fixRow{Source: source, Fix: f}
	}
	return s.replace(ctx, "fixes", source, insert, rows)
}

func (s *SQLStore) Fixes(ctx context.Context, source string) ([]Fix, error) {
	var rows []fixRow
	query := s.db.Rebind("SELECT * FROM fixes WHERE source = ? ORDER BY time")
	if err := s.db.SelectContext(ctx, &rows, query, source); err != nil {
		return nil, err
	}
	fixes := make([]Fix, len(rows))
	for i := range rows {
		fixes[i] = rows[i].Fix
		fixes[i].Time = fixes[i].Time.UTC()
	}
	return fixes, nil
}

func (s *SQLStore) ReplaceSolutions(ctx context.Context, source string, solutions []rtkpost.Solution) error {
	const insert = `INSERT INTO solutions (source, time, lat, lon, height, q, ns, sdn, sde, sdu, x, y, z)
		VALUES (:source, :time, :lat, :lon, :height, :q, :ns, :sdn, :sde, :sdu, :x, :y, :z)`
	solutions = uniqueSolutions(solutions)
	rows := make([]interface{}, len(solutions))
	for i, solution := range solutions {
		rows[i] = toSolutionRow(source, solution)
	}
	return s.replace(ctx, "solutions", source, insert, rows)
}

func (s *SQLStore) Solutions(ctx context.Context, source string) ([]rtkpost.Solution, error) {
	var rows []solutionRow
	query := s.db.Rebind("SELECT * FROM solutions WHERE source = ? ORDER BY time")
	if err := s.db.SelectContext(ctx, &rows, query, source); err != nil {
		return nil, err
	}
	solutions := make([]rtkpost.Solution, len(rows))
	for i := range rows {
		solutions[i] = rows[i].solution()
	}
	return solutions, nil
}

func (s *SQLStore) RecordRun(ctx context.Context, run rtkpost.Run) error {
	const insert = `INSERT INTO runs (job_id, source, state, class, solutions, missing, error, observed, through, finished)
		VALUES (:job_id, :source, :state, :class, :solutions, :missing, :error, :observed, :through, :finished)`
	run.Observed = run.Observed.UTC()
	run.Through = run.Through.UTC()
	run.Finished = run.Finished.UTC()
	_, err := s.db.NamedExecContext(ctx, insert, run)
	return err
}

func (s *SQLStore) Runs(ctx context.Context, source string) ([]rtkpost.Run, error) {
	runs := make([]rtkpost.Run, 0)
	query := s.db.Rebind("SELECT * FROM runs WHERE source = ? ORDER BY finished")
	if err := s.db.SelectContext(ctx, &runs, query, source); err != nil {
		return nil, err
	}
	return utcRuns(runs), nil
}

func (s *SQLStore) LatestRuns(ctx context.Context) ([]rtkpost.Run, error) {
	runs := make([]rtkpost.Run, 0)
	if err := s.db.SelectContext(ctx, &runs, "SELECT * FROM runs"); err != nil {
		return nil, err
	}
	return latestPerSource(utcRuns(runs)), nil
}

func utcRuns(runs []rtkpost.Run) []rtkpost.Run {
	for i := range runs {
		runs[i].Observed = runs[i].Observed.UTC()
		runs[i].Through = runs[i].Through.UTC()
		runs[i].Finished = runs[i].Finished.UTC()
	}
	return runs
}
