package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inodb/isodecon/internal/locus"
)

// RunInfo describes one quantification run.
type RunInfo struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // Zero until FinishRun
	Annotation string
	Alignments string
	Strategy   string
	Library    string
	Paired     bool
	ReadLength int64
	Stats      locus.Stats
}

// BeginRun records a new run and returns its ID.
func (s *Store) BeginRun(info RunInfo) (string, error) {
	id := uuid.NewString()
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO runs (run_id, started_at, annotation, alignments, strategy, library, paired, read_length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, info.StartedAt, info.Annotation, info.Alignments, info.Strategy, info.Library, info.Paired, info.ReadLength)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final statistics of a run.
func (s *Store) FinishRun(id string, st locus.Stats) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ?, loci = ?, solved = ?, single = ?, empty = ?,
		degraded = ?, failed = ?, over_predicted = ?, under_predicted = ?, alignments_seen = ?, mapped = ?
		WHERE run_id = ?`,
		time.Now().UTC(), st.Loci, st.Solved, st.Single, st.Empty,
		st.Degraded, st.Failed, st.OverPredicted, st.UnderPredicted,
		st.Mapping.Alignments, st.Mapping.Mapped, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: no such run", id)
	}
	return nil
}

// Run returns the run with the given ID.
func (s *Store) Run(id string) (*RunInfo, error) {
	var (
		info     RunInfo
		finished sql.NullTime
		stats    [10]sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT run_id, started_at, finished_at, annotation, alignments, strategy, library,
		paired, read_length, loci, solved, single, empty, degraded, failed, over_predicted, under_predicted,
		alignments_seen, mapped
		FROM runs WHERE run_id = ?`, id).Scan(
		&info.ID, &info.StartedAt, &finished, &info.Annotation, &info.Alignments, &info.Strategy, &info.Library,
		&info.Paired, &info.ReadLength,
		&stats[0], &stats[1], &stats[2], &stats[3], &stats[4], &stats[5], &stats[6], &stats[7],
		&stats[8], &stats[9],
	)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	if finished.Valid {
		info.FinishedAt = finished.Time
	}
	v := func(i int) int { return int(stats[i].Int64) }
	info.Stats = locus.Stats{
		Loci:           v(0),
		Solved:         v(1),
		Single:         v(2),
		Empty:          v(3),
		Degraded:       v(4),
		Failed:         v(5),
		OverPredicted:  v(6),
		UnderPredicted: v(7),
	}
	info.Stats.Mapping.Alignments = v(8)
	info.Stats.Mapping.Mapped = v(9)
	return &info, nil
}
