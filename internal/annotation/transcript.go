// Package annotation provides the transcript model, GTF loading and grouping
// of overlapping isoforms into loci.
package annotation

import "sort"

// Transcript represents a specific gene isoform.
type Transcript struct {
	ID       string // Transcript ID (e.g., ENST00000311936)
	GeneID   string // Parent gene ID
	GeneName string // Parent gene symbol
	Chrom    string // Chromosome
	Start    int64  // Transcript start (1-based)
	End      int64  // Transcript end (1-based, inclusive)
	Strand   int8   // +1 or -1
	Biotype  string // Transcript biotype
	Exons    []Exon // Exons in ascending genomic order
}

// Exon represents a single exon within a transcript.
type Exon struct {
	Number int   // Exon number (1-based, transcription order)
	Start  int64 // Genomic start (1-based)
	End    int64 // Genomic end (1-based, inclusive)
}

// Len returns the exon length in nucleotides.
func (e Exon) Len() int64 {
	return e.End - e.Start + 1
}

// Span is a 0-based half-open genomic interval.
type Span struct {
	Start int64
	End   int64
}

// Len returns End-Start.
func (s Span) Len() int64 {
	return s.End - s.Start
}

// IsForwardStrand returns true if the transcript is on the forward strand.
func (t *Transcript) IsForwardStrand() bool {
	return t.Strand == 1
}

// IsReverseStrand returns true if the transcript is on the reverse strand.
func (t *Transcript) IsReverseStrand() bool {
	return t.Strand == -1
}

// Contains returns true if the given position is within the transcript boundaries.
func (t *Transcript) Contains(pos int64) bool {
	return pos >= t.Start && pos <= t.End
}

// SortExons orders exons by genomic start and refreshes Start/End from them.
func (t *Transcript) SortExons() {
	sort.Slice(t.Exons, func(i, j int) bool {
		return t.Exons[i].Start < t.Exons[j].Start
	})
	if len(t.Exons) > 0 {
		t.Start = t.Exons[0].Start
		t.End = t.Exons[len(t.Exons)-1].End
	}
}

// ExonicLength returns the sum of exon lengths.
func (t *Transcript) ExonicLength() int64 {
	var n int64
	for _, e := range t.Exons {
		n += e.Len()
	}
	return n
}

// Spans returns the exons as 0-based half-open intervals in genomic order.
func (t *Transcript) Spans() []Span {
	spans := make([]Span, len(t.Exons))
	for i, e := range t.Exons {
		spans[i] = Span{Start: e.Start - 1, End: e.End}
	}
	return spans
}

// ExonicOffset maps a 0-based genomic position to its 0-based offset in the
// exon-collapsed sequence, counted left to right along the genome.
// The second result is false if pos is intronic or outside the transcript.
func (t *Transcript) ExonicOffset(pos int64) (int64, bool) {
	var off int64
	for _, e := range t.Exons {
		s := e.Start - 1
		if pos < s {
			return 0, false
		}
		if pos < e.End {
			return off + pos - s, true
		}
		off += e.Len()
	}
	return 0, false
}

// GenomicPos maps a left-to-right exonic offset back to a 0-based genomic
// position. The second result is false if off is out of range.
func (t *Transcript) GenomicPos(off int64) (int64, bool) {
	if off < 0 {
		return 0, false
	}
	for _, e := range t.Exons {
		if off < e.Len() {
			return e.Start - 1 + off, true
		}
		off -= e.Len()
	}
	return 0, false
}

// Oriented converts a left-to-right exonic interval [off, off+span) to the
// 5'->3' offset of its first base on the transcript strand.
func (t *Transcript) Oriented(off, span int64) int64 {
	if t.IsReverseStrand() {
		return t.ExonicLength() - off - span
	}
	return off
}
