package annotation

import (
	"fmt"
	"sort"
	"strings"
)

// Locus is a maximal cluster of same-strand transcripts with overlapping
// genomic extent. It is the unit of deconvolution.
type Locus struct {
	ID          string        // e.g. 12:25205246-25250929:-
	Chrom       string        // Chromosome
	Start       int64         // Locus start position (1-based)
	End         int64         // Locus end position (1-based, inclusive)
	Strand      int8          // +1 (forward) or -1 (reverse)
	Transcripts []*Transcript // Ordered by (Start, ID); index is the transcript's set index
}

// IsForwardStrand returns true if the locus is on the forward strand.
func (l *Locus) IsForwardStrand() bool {
	return l.Strand == 1
}

// IsReverseStrand returns true if the locus is on the reverse strand.
func (l *Locus) IsReverseStrand() bool {
	return l.Strand == -1
}

// Contains returns true if the given position is within the locus boundaries.
func (l *Locus) Contains(pos int64) bool {
	return pos >= l.Start && pos <= l.End
}

// GeneIDs returns the distinct gene IDs of the locus in first-seen order.
func (l *Locus) GeneIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range l.Transcripts {
		if t.GeneID != "" && !seen[t.GeneID] {
			seen[t.GeneID] = true
			ids = append(ids, t.GeneID)
		}
	}
	return ids
}

// Source yields loci as ordered groups of transcripts. A locus is never split
// across two yields.
type Source interface {
	Loci() []*Locus
}

func strandChar(s int8) string {
	if s == -1 {
		return "-"
	}
	return "+"
}

// NewLocus builds a locus from transcripts on one chromosome and strand.
func NewLocus(transcripts []*Transcript) *Locus {
	sorted := make([]*Transcript, len(transcripts))
	copy(sorted, transcripts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].ID < sorted[j].ID
	})

	l := &Locus{
		Chrom:       sorted[0].Chrom,
		Strand:      sorted[0].Strand,
		Start:       sorted[0].Start,
		End:         sorted[0].End,
		Transcripts: sorted,
	}
	for _, t := range sorted[1:] {
		l.End = max(l.End, t.End)
	}
	l.ID = fmt.Sprintf("%s:%d-%d:%s", l.Chrom, l.Start, l.End, strandChar(l.Strand))
	return l
}

// GroupLoci clusters transcripts into loci. Transcripts without exons are
// ignored. Loci are returned in chromosome, start, strand order.
func GroupLoci(transcripts []*Transcript) []*Locus {
	type key struct {
		chrom  string
		strand int8
	}
	groups := make(map[key][]*Transcript)
	for _, t := range transcripts {
		if len(t.Exons) == 0 {
			continue
		}
		k := key{t.Chrom, t.Strand}
		groups[k] = append(groups[k], t)
	}

	var loci []*Locus
	for _, ts := range groups {
		sort.Slice(ts, func(i, j int) bool {
			if ts[i].Start != ts[j].Start {
				return ts[i].Start < ts[j].Start
			}
			return ts[i].ID < ts[j].ID
		})
		cluster := []*Transcript{ts[0]}
		end := ts[0].End
		for _, t := range ts[1:] {
			if t.Start <= end {
				cluster = append(cluster, t)
				end = max(end, t.End)
				continue
			}
			loci = append(loci, NewLocus(cluster))
			cluster = []*Transcript{t}
			end = t.End
		}
		loci = append(loci, NewLocus(cluster))
	}

	sort.Slice(loci, func(i, j int) bool {
		a, b := loci[i], loci[j]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Strand > b.Strand
	})
	return loci
}

// Describe returns a short human-readable summary used in log messages.
func (l *Locus) Describe() string {
	ids := make([]string, len(l.Transcripts))
	for i, t := range l.Transcripts {
		ids[i] = t.ID
	}
	return l.ID + " [" + strings.Join(ids, ",") + "]"
}
