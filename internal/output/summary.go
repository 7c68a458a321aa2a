package output

import (
	"fmt"
	"io"

	"github.com/inodb/isodecon/internal/locus"
)

// WriteSummary writes end-of-run statistics as tab-separated key/value
// lines.
func WriteSummary(w io.Writer, s locus.Stats) error {
	m := s.Mapping
	rows := []struct {
		key string
		val int
	}{
		{"loci", s.Loci},
		{"loci_solved", s.Solved},
		{"loci_single", s.Single},
		{"loci_empty", s.Empty},
		{"loci_degraded", s.Degraded},
		{"loci_failed", s.Failed},
		{"loci_over_predicted", s.OverPredicted},
		{"loci_under_predicted", s.UnderPredicted},
		{"alignments", m.Alignments},
		{"mapped", m.Mapped},
		{"sense", m.Sense},
		{"antisense", m.Antisense},
		{"fragments", m.Fragments},
		{"unannotated", m.Unannotated},
		{"no_evidence", m.NoEvidence},
		{"pair_no_evidence", m.PairNoEvidence},
		{"wrong_orientation", m.WrongOrientation},
		{"orphans", m.Orphans},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", r.key, r.val); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
