package mapping

import (
	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
)

// Stats tallies mapping outcomes for one locus. Per-locus values are merged
// by a single collector, so the type carries no synchronization.
type Stats struct {
	Alignments       int // Alignments presented to the mapper
	Mapped           int // Reads or fragments counted on a link
	Sense            int
	Antisense        int
	Fragments        int // Pairs counted on a paired super-edge
	Unannotated      int // Reads whose blocks match no edge chain
	NoEvidence       int // Reads on a chain no transcript traverses
	PairNoEvidence   int // Resolved pairs outside every transcript's insert window
	WrongOrientation int // Pairs with both mates on the same strand
	Orphans          int // Paired reads whose mate is missing from the locus
}

// Counted returns the units estimation works in: fragments in a paired run,
// mapped reads otherwise. Mates counted alone are tallied in Mapped but
// never estimated in a paired run.
func (s Stats) Counted(paired bool) int {
	if paired {
		return s.Fragments
	}
	return s.Mapped
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Alignments += o.Alignments
	s.Mapped += o.Mapped
	s.Sense += o.Sense
	s.Antisense += o.Antisense
	s.Fragments += o.Fragments
	s.Unannotated += o.Unannotated
	s.NoEvidence += o.NoEvidence
	s.PairNoEvidence += o.PairNoEvidence
	s.WrongOrientation += o.WrongOrientation
	s.Orphans += o.Orphans
}

// exonicSpan returns the left-to-right exonic interval covered by a, or false
// if any block leaves the transcript's exons.
func exonicSpan(tr *annotation.Transcript, a *alignment.Alignment) (int64, int64, bool) {
	for _, b := range a.Blocks {
		if _, ok := tr.ExonicOffset(b.Start); !ok {
			return 0, 0, false
		}
		if _, ok := tr.ExonicOffset(b.End - 1); !ok {
			return 0, 0, false
		}
	}
	lo, _ := tr.ExonicOffset(a.Start)
	hi, _ := tr.ExonicOffset(a.End - 1)
	return lo, hi + 1, true
}

// InsertSizes returns the exonic fragment lengths of the properly oriented
// pairs among alns that lie entirely within the exons of tr.
func InsertSizes(tr *annotation.Transcript, alns []*alignment.Alignment) []float64 {
	byName := make(map[string][]*alignment.Alignment)
	var order []string
	for _, a := range alns {
		if !a.Paired {
			continue
		}
		if _, ok := byName[a.Key()]; !ok {
			order = append(order, a.Key())
		}
		byName[a.Key()] = append(byName[a.Key()], a)
	}

	var sizes []float64
	for _, k := range order {
		mates := byName[k]
		if len(mates) != 2 || mates[0].Strand == mates[1].Strand {
			continue
		}
		lo1, hi1, ok1 := exonicSpan(tr, mates[0])
		lo2, hi2, ok2 := exonicSpan(tr, mates[1])
		if !ok1 || !ok2 {
			continue
		}
		sizes = append(sizes, float64(max(hi1, hi2)-min(lo1, lo2)))
	}
	return sizes
}
