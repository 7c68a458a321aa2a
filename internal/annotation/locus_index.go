package annotation

import "sort"

// LocusIndex provides O(log n + k) overlap queries over loci using a
// sorted-slice approach. Loci are indexed once and never modified after build.
type LocusIndex struct {
	chroms map[string]*locusTree
}

type locusTree struct {
	intervals []locusInterval
	maxEnd    []int64 // maxEnd[i] = max(end) for intervals[:i+1]
}

type locusInterval struct {
	start int64
	end   int64
	locus *Locus
}

// BuildLocusIndex creates an index over the given loci.
func BuildLocusIndex(loci []*Locus) *LocusIndex {
	byChrom := make(map[string][]locusInterval)
	for _, l := range loci {
		byChrom[l.Chrom] = append(byChrom[l.Chrom], locusInterval{start: l.Start, end: l.End, locus: l})
	}

	idx := &LocusIndex{chroms: make(map[string]*locusTree, len(byChrom))}
	for chrom, intervals := range byChrom {
		sort.Slice(intervals, func(i, j int) bool {
			return intervals[i].start < intervals[j].start
		})

		// Prefix-max array: maxEnd[i] = max(end) for intervals[:i+1]
		maxEnd := make([]int64, len(intervals))
		maxEnd[0] = intervals[0].end
		for i := 1; i < len(intervals); i++ {
			maxEnd[i] = max(maxEnd[i-1], intervals[i].end)
		}
		idx.chroms[chrom] = &locusTree{intervals: intervals, maxEnd: maxEnd}
	}
	return idx
}

// Overlapping returns all loci on chrom whose [Start, End] range intersects
// the 1-based inclusive interval [start, end].
func (x *LocusIndex) Overlapping(chrom string, start, end int64) []*Locus {
	t, ok := x.chroms[chrom]
	if !ok {
		return nil
	}

	// Candidates must have start <= end; hi is the first index past them.
	hi := sort.Search(len(t.intervals), func(i int) bool {
		return t.intervals[i].start > end
	})

	var result []*Locus
	for i := hi - 1; i >= 0; i-- {
		// Prune: no interval in [0, i] reaches start.
		if t.maxEnd[i] < start {
			break
		}
		if t.intervals[i].end >= start {
			result = append(result, t.intervals[i].locus)
		}
	}
	return result
}

// Any reports whether any locus intersects [start, end] on chrom.
func (x *LocusIndex) Any(chrom string, start, end int64) bool {
	return len(x.Overlapping(chrom, start, end)) > 0
}
