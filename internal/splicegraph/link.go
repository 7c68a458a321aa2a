// Package splicegraph builds the per-locus splice graph: edges with uniform
// transcript membership and super-edges chaining them across splice
// junctions, contiguous boundaries and paired-end fragments.
package splicegraph

import (
	"fmt"

	"github.com/inodb/isodecon/internal/tset"
)

// Kind tags the variant a Link holds.
type Kind uint8

const (
	// KindEdge is a maximal genomic segment traversed by a fixed transcript set.
	KindEdge Kind = iota
	// KindSuper is a chain of two or more edges that a read spans, across a
	// splice junction or a contiguous edge boundary.
	KindSuper
	// KindPaired joins the links of the two mates of a fragment.
	KindPaired
)

func (k Kind) String() string {
	switch k {
	case KindEdge:
		return "edge"
	case KindSuper:
		return "super"
	case KindPaired:
		return "paired"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Direction is the orientation of a read relative to its locus.
type Direction int

const (
	Sense Direction = iota
	Antisense
)

// Directions lists both orientations in index order.
var Directions = [2]Direction{Sense, Antisense}

func (d Direction) String() string {
	if d == Antisense {
		return "antisense"
	}
	return "sense"
}

// Link is an Edge or a SuperEdge. Kind selects which fields are meaningful:
// chain holds the elementary edges of KindEdge (itself) and KindSuper links,
// mates holds the two mate links of KindPaired.
type Link struct {
	id     int
	kind   Kind
	start  int64 // 0-based
	end    int64 // half-open
	edge   int   // edge index, KindEdge only
	chain  []*Link
	mates  [2]*Link
	set    tset.Set
	counts [2]int
}

// ID is the link's index in Graph.Links.
func (l *Link) ID() int { return l.id }

// Kind returns the variant tag.
func (l *Link) Kind() Kind { return l.kind }

// Start returns the 0-based genomic start.
func (l *Link) Start() int64 { return l.start }

// End returns the half-open genomic end.
func (l *Link) End() int64 { return l.end }

// Len returns End-Start.
func (l *Link) Len() int64 { return l.end - l.start }

// Set returns the transcripts consistent with the link. It is never empty.
func (l *Link) Set() tset.Set { return l.set }

// Chain returns the elementary edges of an edge or super-edge in genomic
// order, and nil for paired links.
func (l *Link) Chain() []*Link { return l.chain }

// Mates returns the left and right mate links of a paired link.
func (l *Link) Mates() (*Link, *Link) { return l.mates[0], l.mates[1] }

// Count returns the number of reads observed in direction d.
func (l *Link) Count(d Direction) int { return l.counts[d] }

// Total returns the sense plus antisense count.
func (l *Link) Total() int { return l.counts[Sense] + l.counts[Antisense] }

// Add records one read in direction d.
func (l *Link) Add(d Direction) { l.counts[d]++ }

func (l *Link) String() string {
	switch l.kind {
	case KindPaired:
		return fmt.Sprintf("paired#%d(%d|%d)%s", l.id, l.mates[0].id, l.mates[1].id, l.set)
	case KindSuper:
		ids := make([]int, len(l.chain))
		for i, e := range l.chain {
			ids[i] = e.id
		}
		return fmt.Sprintf("super#%d%v[%d,%d)%s", l.id, ids, l.start, l.end, l.set)
	}
	return fmt.Sprintf("edge#%d[%d,%d)%s", l.id, l.start, l.end, l.set)
}
