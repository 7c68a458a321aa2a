// Package alignment provides the read alignment model and BAM/SAM sources.
package alignment

import (
	"github.com/biogo/hts/sam"

	"github.com/inodb/isodecon/internal/annotation"
)

// Block is an ungapped aligned segment, 0-based half-open.
type Block struct {
	Start int64
	End   int64
}

// Len returns the number of reference bases covered by the block.
func (b Block) Len() int64 {
	return b.End - b.Start
}

// Alignment is a mapped read. Coordinates are 0-based half-open.
type Alignment struct {
	Name      string  // Read name, the pairing token for mates
	Chrom     string  // Normalized chromosome name
	Strand    int8    // +1 or -1
	Start     int64   // Leftmost aligned reference base
	End       int64   // One past the rightmost aligned reference base
	Blocks    []Block // Ungapped segments split at skipped regions (CIGAR N)
	Paired    bool    // Read is part of a pair
	First     bool    // Read is mate 1 of a pair
	MateChrom string  // Normalized mate chromosome, empty if unknown
	MateStart int64   // Mate start, meaningful when MateChrom is set
}

// Key returns the token correlating the two mates of a pair.
func (a *Alignment) Key() string {
	return a.Name
}

// AlignedLength returns the number of reference bases covered by the blocks.
func (a *Alignment) AlignedLength() int64 {
	var n int64
	for _, b := range a.Blocks {
		n += b.Len()
	}
	return n
}

// IsSpliced reports whether the alignment has more than one block.
func (a *Alignment) IsSpliced() bool {
	return len(a.Blocks) > 1
}

// Source yields the alignments overlapping a genomic interval.
type Source interface {
	// Overlapping returns alignments on chrom intersecting the 0-based
	// half-open interval [start, end), in a deterministic order. It must
	// be safe for concurrent use.
	Overlapping(chrom string, start, end int64) ([]*Alignment, error)
}

// BlocksFromCigar splits a CIGAR into reference blocks starting at pos.
// Deletions extend the current block; skipped regions start a new one.
func BlocksFromCigar(pos int64, cigar sam.Cigar) []Block {
	var blocks []Block
	cur := Block{Start: pos, End: pos}
	for _, co := range cigar {
		n := int64(co.Len())
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion:
			cur.End += n
		case sam.CigarSkipped:
			if cur.Len() > 0 {
				blocks = append(blocks, cur)
			}
			cur = Block{Start: cur.End + n, End: cur.End + n}
		}
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// FromRecord converts a mapped SAM record. It returns nil for records
// without any aligned reference bases.
func FromRecord(r *sam.Record) *Alignment {
	if r.Ref == nil {
		return nil
	}
	blocks := BlocksFromCigar(int64(r.Pos), r.Cigar)
	if len(blocks) == 0 {
		return nil
	}
	a := &Alignment{
		Name:   r.Name,
		Chrom:  annotation.NormalizeChrom(r.Ref.Name()),
		Strand: 1,
		Start:  blocks[0].Start,
		End:    blocks[len(blocks)-1].End,
		Blocks: blocks,
		Paired: r.Flags&sam.Paired != 0,
		First:  r.Flags&sam.Read1 != 0,
	}
	if r.Flags&sam.Reverse != 0 {
		a.Strand = -1
	}
	if a.Paired && r.Flags&sam.MateUnmapped == 0 && r.MateRef != nil {
		a.MateChrom = annotation.NormalizeChrom(r.MateRef.Name())
		a.MateStart = int64(r.MatePos)
	}
	return a
}
