// Package output provides expression result writers.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/inodb/isodecon/internal/locus"
)

// TabWriter writes per-transcript expression in tab-delimited format. Each
// locus is written in one critical section, so concurrent callers never
// interleave the rows of two loci.
type TabWriter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	columns []string
	header  bool
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Transcript",
			"Gene",
			"Locus",
			"Exonic_length",
			"Reads",
			"RPK",
			"Method",
			"Status",
		},
	}
}

// WriteHeader writes the header line. Later calls do nothing.
func (tw *TabWriter) WriteHeader() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.writeHeader()
}

func (tw *TabWriter) writeHeader() error {
	if tw.header {
		return nil
	}
	tw.header = true
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// WriteLocus writes one row per transcript of r. Failed loci print NA in
// the value columns.
func (tw *TabWriter) WriteLocus(r *locus.Result) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if err := tw.writeHeader(); err != nil {
		return err
	}

	status := r.State.String()
	if r.Method == locus.MethodLP {
		status = r.Status.String()
	}
	for _, t := range r.Transcripts {
		reads, rpk := "NA", "NA"
		if r.OK() {
			reads = formatFloat(t.Reads)
			rpk = formatFloat(t.Abundance)
		}
		gene := t.GeneID
		if gene == "" {
			gene = "-"
		}
		values := []string{
			t.ID,
			gene,
			r.Locus,
			strconv.FormatInt(t.ExonicLength, 10),
			reads,
			rpk,
			r.Method.String(),
			status,
		}
		if _, err := tw.w.WriteString(strings.Join(values, "\t") + "\n"); err != nil {
			return fmt.Errorf("write locus %s: %w", r.Locus, err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.w.Flush()
}
