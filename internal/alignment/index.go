package alignment

import (
	"fmt"
	"sort"

	"github.com/biogo/store/interval"

	"github.com/inodb/isodecon/internal/annotation"
)

// indexed adapts an Alignment to interval.IntInterface.
type indexed struct {
	aln *Alignment
	uid uintptr
}

func (n indexed) Overlap(b interval.IntRange) bool {
	return int(n.aln.Start) < b.End && int(n.aln.End) > b.Start
}

func (n indexed) ID() uintptr { return n.uid }

func (n indexed) Range() interval.IntRange {
	return interval.IntRange{Start: int(n.aln.Start), End: int(n.aln.End)}
}

// query is a half-open interval.IntOverlapper.
type query struct {
	start, end int
}

func (q query) Overlap(b interval.IntRange) bool {
	return q.start < b.End && q.end > b.Start
}

// Index holds alignments in per-chromosome interval trees. After Finish it
// is read-only and safe for concurrent queries.
type Index struct {
	trees      map[string]*interval.IntTree
	nextID     uintptr
	intergenic int
	finished   bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{trees: make(map[string]*interval.IntTree)}
}

// Add inserts an alignment. It must not be called after Finish.
func (x *Index) Add(a *Alignment) error {
	if x.finished {
		return fmt.Errorf("alignment index: add after finish")
	}
	t, ok := x.trees[a.Chrom]
	if !ok {
		t = &interval.IntTree{}
		x.trees[a.Chrom] = t
	}
	x.nextID++
	if err := t.Insert(indexed{aln: a, uid: x.nextID}, true); err != nil {
		return fmt.Errorf("index alignment %s: %w", a.Name, err)
	}
	return nil
}

// Finish adjusts subtree ranges; it must be called before querying.
func (x *Index) Finish() {
	for _, t := range x.trees {
		t.AdjustRanges()
	}
	x.finished = true
}

// Len returns the number of indexed alignments.
func (x *Index) Len() int {
	return int(x.nextID)
}

// Intergenic returns the number of alignments dropped by Build because they
// overlapped no locus.
func (x *Index) Intergenic() int {
	return x.intergenic
}

// Overlapping implements Source.
func (x *Index) Overlapping(chrom string, start, end int64) ([]*Alignment, error) {
	t, ok := x.trees[chrom]
	if !ok {
		return nil, nil
	}
	hits := t.Get(query{start: int(start), end: int(end)})
	out := make([]*Alignment, len(hits))
	for i, h := range hits {
		out[i] = h.(indexed).aln
	}
	SortAlignments(out)
	return out, nil
}

// SortAlignments orders alignments by start, name and mate number so batch
// processing is independent of insertion order.
func SortAlignments(alns []*Alignment) {
	sort.SliceStable(alns, func(i, j int) bool {
		a, b := alns[i], alns[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.First != b.First {
			return a.First
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Strand > b.Strand
	})
}

// Build reads every alignment from r into memory, for inputs without a BAM
// index. If loci is non-nil, alignments that overlap no locus are counted
// as intergenic and not indexed.
func Build(r *Reader, loci *annotation.LocusIndex) (*Index, error) {
	x := NewIndex()
	for {
		a, err := r.Next()
		if err != nil {
			return nil, err
		}
		if a == nil {
			break
		}
		// LocusIndex works in 1-based inclusive coordinates.
		if loci != nil && !loci.Any(a.Chrom, a.Start+1, a.End) {
			x.intergenic++
			continue
		}
		if err := x.Add(a); err != nil {
			return nil, err
		}
	}
	x.Finish()
	return x, nil
}

// FromSlice indexes alignments held in memory.
func FromSlice(alns []*Alignment) (*Index, error) {
	x := NewIndex()
	for _, a := range alns {
		if err := x.Add(a); err != nil {
			return nil, err
		}
	}
	x.Finish()
	return x, nil
}
