package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	goduckdb "github.com/marcboeker/go-duckdb"
	"go.uber.org/multierr"

	"github.com/inodb/isodecon/internal/locus"
)

// ResultWriter appends locus results of one run to DuckDB. It implements
// locus.ResultWriter.
type ResultWriter struct {
	mu    sync.Mutex
	runID string
	conn  *sql.Conn
	loci  *goduckdb.Appender
	exprs *goduckdb.Appender
}

// NewResultWriter opens appenders on the locus and expression tables.
func (s *Store) NewResultWriter(ctx context.Context, runID string) (*ResultWriter, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	w := &ResultWriter{runID: runID, conn: conn}
	if err := conn.Raw(func(driverConn any) error {
		var err error
		if w.loci, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "locus_results"); err != nil {
			return err
		}
		w.exprs, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "expression_results")
		return err
	}); err != nil {
		return nil, multierr.Append(fmt.Errorf("create appender: %w", err), w.Close())
	}
	return w, nil
}

// WriteLocus appends r. Failed loci store NULL reads and abundances.
func (w *ResultWriter) WriteLocus(r *locus.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errMsg any
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	if err := w.loci.AppendRow(
		w.runID, r.Locus, r.Chrom, r.Start, r.End, r.Strand,
		r.State.String(), r.Method.String(), r.Status.String(),
		int32(len(r.Transcripts)), int32(r.Stats.Mapping.Mapped), errMsg,
	); err != nil {
		return fmt.Errorf("append locus %s: %w", r.Locus, err)
	}

	for _, t := range r.Transcripts {
		var reads, abundance any
		if r.OK() {
			reads, abundance = t.Reads, t.Abundance
		}
		if err := w.exprs.AppendRow(
			w.runID, r.Locus, t.ID, t.GeneID, t.ExonicLength, reads, abundance,
		); err != nil {
			return fmt.Errorf("append transcript %s: %w", t.ID, err)
		}
	}
	return nil
}

// Flush writes appended rows to the tables.
func (w *ResultWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return multierr.Append(w.loci.Flush(), w.exprs.Flush())
}

// Close flushes and releases the appenders and the connection.
func (w *ResultWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.loci != nil {
		err = multierr.Append(err, w.loci.Close())
	}
	if w.exprs != nil {
		err = multierr.Append(err, w.exprs.Close())
	}
	return multierr.Append(err, w.conn.Close())
}
