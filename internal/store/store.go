// Package store persists runs, expression results and bias profiles in
// DuckDB, and caches parsed annotations as gob files.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		annotation VARCHAR,
		alignments VARCHAR,
		strategy VARCHAR,
		library VARCHAR,
		paired BOOLEAN,
		read_length BIGINT,
		loci INTEGER,
		solved INTEGER,
		single INTEGER,
		empty INTEGER,
		degraded INTEGER,
		failed INTEGER,
		over_predicted INTEGER,
		under_predicted INTEGER,
		alignments_seen BIGINT,
		mapped BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS locus_results (
		run_id VARCHAR,
		locus_id VARCHAR,
		chrom VARCHAR,
		start_pos BIGINT,
		end_pos BIGINT,
		strand TINYINT,
		state VARCHAR,
		method VARCHAR,
		status VARCHAR,
		transcripts INTEGER,
		mapped INTEGER,
		error VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS expression_results (
		run_id VARCHAR,
		locus_id VARCHAR,
		transcript_id VARCHAR,
		gene_id VARCHAR,
		exonic_length BIGINT,
		reads DOUBLE,
		abundance DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS bias_profiles (
		name VARCHAR,
		resolution INTEGER,
		cutoff DOUBLE,
		bin INTEGER,
		upper DOUBLE,
		reads INTEGER,
		direction VARCHAR,
		cell INTEGER,
		weight DOUBLE,
		PRIMARY KEY (name, bin, direction, cell)
	)`,
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
