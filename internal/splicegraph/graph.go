package splicegraph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/tset"
)

// Outcome classifies the result of resolving a read against the graph.
type Outcome int

const (
	// Resolved means the read matched a link exactly.
	Resolved Outcome = iota
	// Unannotated means the block structure matched no edge chain.
	Unannotated
	// NoEvidence means the chain exists genomically but no transcript
	// traverses it contiguously.
	NoEvidence
)

// InsertWindow bounds admissible fragment lengths measured on the transcript.
type InsertWindow struct {
	Min int64
	Max int64
}

// Graph is the splice graph of one locus. It is owned by a single goroutine.
type Graph struct {
	locus *annotation.Locus
	n     int
	nodes []int64
	edges []*Link
	links []*Link

	// paths[t] lists the edge indices traversed by transcript t in order;
	// offsets[t][e] is the left-to-right exonic offset of edge e in t, or -1.
	paths   [][]int
	offsets [][]int64
	pathPos [][]int

	chains map[string]*Link
	pairs  map[[2]int]*Link
}

// Build constructs the graph of a locus and its eager super-edges.
func Build(locus *annotation.Locus) *Graph {
	n := len(locus.Transcripts)
	g := &Graph{
		locus:  locus,
		n:      n,
		chains: make(map[string]*Link),
		pairs:  make(map[[2]int]*Link),
	}

	spans := make([][]annotation.Span, n)
	var bounds []int64
	for t, tr := range locus.Transcripts {
		spans[t] = tr.Spans()
		for _, s := range spans[t] {
			bounds = append(bounds, s.Start, s.End)
		}
	}
	g.nodes = uniqueSorted(bounds)

	// Membership of each elementary interval [nodes[i], nodes[i+1]).
	members := make([]tset.Set, max(len(g.nodes)-1, 0))
	for i := range members {
		members[i] = tset.New(n)
	}
	for t := range spans {
		for _, s := range spans[t] {
			lo := sort.Search(len(g.nodes), func(i int) bool { return g.nodes[i] >= s.Start })
			for i := lo; i < len(members) && g.nodes[i] < s.End; i++ {
				members[i].Add(t)
			}
		}
	}

	// Merge adjacent intervals with identical membership into maximal edges.
	var cur *Link
	for i, m := range members {
		if m.IsEmpty() {
			cur = nil
			continue
		}
		if cur != nil && cur.end == g.nodes[i] && cur.set.Equal(m) {
			cur.end = g.nodes[i+1]
			continue
		}
		cur = &Link{
			kind:  KindEdge,
			start: g.nodes[i],
			end:   g.nodes[i+1],
			edge:  len(g.edges),
			set:   m,
		}
		cur.chain = []*Link{cur}
		g.edges = append(g.edges, cur)
		g.add(cur)
	}

	g.paths = make([][]int, n)
	g.offsets = make([][]int64, n)
	g.pathPos = make([][]int, n)
	for t := 0; t < n; t++ {
		g.offsets[t] = make([]int64, len(g.edges))
		g.pathPos[t] = make([]int, len(g.edges))
		var off int64
		for ei, e := range g.edges {
			g.offsets[t][ei] = -1
			g.pathPos[t][ei] = -1
			if e.set.Contains(t) {
				g.pathPos[t][ei] = len(g.paths[t])
				g.paths[t] = append(g.paths[t], ei)
				g.offsets[t][ei] = off
				off += e.Len()
			}
		}
	}

	// Eager super-edges for every adjacency a transcript traverses.
	for t := 0; t < n; t++ {
		p := g.paths[t]
		for i := 0; i+1 < len(p); i++ {
			g.Chain([]*Link{g.edges[p[i]], g.edges[p[i+1]]})
		}
	}
	return g
}

func uniqueSorted(v []int64) []int64 {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	out := v[:0]
	for i, x := range v {
		if i == 0 || x != v[i-1] {
			out = append(out, x)
		}
	}
	return out
}

func (g *Graph) add(l *Link) {
	l.id = len(g.links)
	g.links = append(g.links, l)
}

// Locus returns the locus the graph was built from.
func (g *Graph) Locus() *annotation.Locus { return g.locus }

// NumTranscripts returns the locus transcript count, the capacity of every
// link's set.
func (g *Graph) NumTranscripts() int { return g.n }

// Nodes returns the distinct splice-site and boundary coordinates.
func (g *Graph) Nodes() []int64 { return g.nodes }

// Edges returns the elementary edges in genomic order.
func (g *Graph) Edges() []*Link { return g.edges }

// Links returns every edge and super-edge in creation order.
func (g *Graph) Links() []*Link { return g.links }

// Path returns the edges traversed by transcript t in genomic order.
func (g *Graph) Path(t int) []*Link {
	out := make([]*Link, len(g.paths[t]))
	for i, ei := range g.paths[t] {
		out[i] = g.edges[ei]
	}
	return out
}

// edgeAt returns the edge containing genomic position pos.
func (g *Graph) edgeAt(pos int64) *Link {
	i := sort.Search(len(g.edges), func(i int) bool { return g.edges[i].end > pos })
	if i == len(g.edges) || g.edges[i].start > pos {
		return nil
	}
	return g.edges[i]
}

func chainKey(chain []*Link) string {
	var b strings.Builder
	for i, e := range chain {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(e.edge))
	}
	return b.String()
}

// Chain returns the super-edge for a run of two or more edges, creating it if
// some transcript traverses the run contiguously. It returns nil when no
// transcript does; that result is cached too.
func (g *Graph) Chain(chain []*Link) *Link {
	key := chainKey(chain)
	if l, ok := g.chains[key]; ok {
		return l
	}

	set := chain[0].set.Clone()
	for _, e := range chain[1:] {
		set = set.Intersect(e.set)
	}
	for _, t := range set.Indices() {
		for i := 0; i+1 < len(chain); i++ {
			if g.pathPos[t][chain[i+1].edge] != g.pathPos[t][chain[i].edge]+1 {
				set.Remove(t)
				break
			}
		}
	}
	if set.IsEmpty() {
		g.chains[key] = nil
		return nil
	}

	l := &Link{
		kind:  KindSuper,
		start: chain[0].start,
		end:   chain[len(chain)-1].end,
		chain: append([]*Link(nil), chain...),
		set:   set,
	}
	g.add(l)
	g.chains[key] = l
	return l
}

// Resolve finds the link whose structure matches the blocks exactly: every
// internal block boundary must coincide with an edge boundary at a junction,
// and no block may extend into a region without edges.
func (g *Graph) Resolve(blocks []alignment.Block) (*Link, Outcome) {
	if len(blocks) == 0 {
		return nil, Unannotated
	}
	var chain []*Link
	for bi, b := range blocks {
		e := g.edgeAt(b.Start)
		if e == nil {
			return nil, Unannotated
		}
		if bi > 0 {
			prev := chain[len(chain)-1]
			if b.Start != e.start || e.edge <= prev.edge || prev.end == e.start {
				return nil, Unannotated
			}
		}
		chain = append(chain, e)
		for e.end < b.End {
			if e.edge+1 == len(g.edges) {
				return nil, Unannotated
			}
			next := g.edges[e.edge+1]
			if next.start != e.end {
				return nil, Unannotated
			}
			e = next
			chain = append(chain, e)
		}
		if bi < len(blocks)-1 && e.end != b.End {
			return nil, Unannotated
		}
	}
	if len(chain) == 1 {
		return chain[0], Resolved
	}
	if l := g.Chain(chain); l != nil {
		return l, Resolved
	}
	return nil, NoEvidence
}

// Window returns the range [lo, hi] of left-to-right exonic start offsets in
// transcript t of reads of length readLen that resolve exactly to the edge or
// super-edge l. ok is false if t does not traverse l or no start fits.
func (g *Graph) Window(t int, l *Link, readLen int64) (lo, hi int64, ok bool) {
	if l.kind == KindPaired || !l.set.Contains(t) {
		return 0, 0, false
	}
	first, last := l.chain[0], l.chain[len(l.chain)-1]
	a1 := g.offsets[t][first.edge]
	b1 := a1 + first.Len()
	ak := g.offsets[t][last.edge]
	bk := ak + last.Len()
	lo = max(a1, ak-readLen+1)
	hi = min(b1-1, bk-readLen)
	return lo, hi, lo <= hi
}

// EffectiveLength returns the largest number of read start positions, over
// the member transcripts, at which a read resolves to l. A paired link counts
// the starts its shorter mate admits. Zero marks a degenerate link.
func (g *Graph) EffectiveLength(l *Link, readLen int64) int64 {
	var best int64
	for _, t := range l.set.Indices() {
		var n int64
		switch l.kind {
		case KindEdge, KindSuper:
			if lo, hi, ok := g.Window(t, l, readLen); ok {
				n = hi - lo + 1
			}
		case KindPaired:
			lo1, hi1, ok1 := g.Window(t, l.mates[0], readLen)
			lo2, hi2, ok2 := g.Window(t, l.mates[1], readLen)
			if ok1 && ok2 {
				n = min(hi1-lo1, hi2-lo2) + 1
			}
		}
		best = max(best, n)
	}
	return best
}

// fragmentRange returns the fragment lengths [fmin, fmax] realizable by a
// pair whose left mate resolves to a and right mate to b on transcript t.
func (g *Graph) fragmentRange(t int, a, b *Link, readLen int64) (fmin, fmax int64, ok bool) {
	lo1, hi1, ok1 := g.Window(t, a, readLen)
	lo2, hi2, ok2 := g.Window(t, b, readLen)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	// Right mate starts at x+F-readLen for left mate start x.
	fmin = max(lo2-hi1+readLen, readLen)
	fmax = hi2 - lo1 + readLen
	return fmin, fmax, fmin <= fmax
}

// Pair returns the paired super-edge joining the left mate link a and the
// right mate link b, creating it if some transcript admits a fragment length
// inside w. It returns nil when none does; that result is cached too.
func (g *Graph) Pair(a, b *Link, readLen int64, w InsertWindow) *Link {
	key := [2]int{a.id, b.id}
	if l, ok := g.pairs[key]; ok {
		return l
	}

	set := a.set.Intersect(b.set)
	for _, t := range set.Indices() {
		fmin, fmax, ok := g.fragmentRange(t, a, b, readLen)
		if !ok || fmax < w.Min || fmin > w.Max {
			set.Remove(t)
		}
	}
	if set.IsEmpty() {
		g.pairs[key] = nil
		return nil
	}

	l := &Link{
		kind:  KindPaired,
		start: min(a.start, b.start),
		end:   max(a.end, b.end),
		mates: [2]*Link{a, b},
		set:   set,
	}
	g.add(l)
	g.pairs[key] = l
	return l
}

// PairWindows returns, for each admissible fragment length F in w sampled at
// up to samples evenly spaced values, the range of left-mate start offsets
// in t for which both mates resolve to the paired link's mate links.
// Each returned element is {lo, hi}; empty ranges are omitted.
func (g *Graph) PairWindows(t int, l *Link, readLen int64, w InsertWindow, samples int) (ranges [][2]int64, tried int) {
	a, b := l.mates[0], l.mates[1]
	lo1, hi1, ok1 := g.Window(t, a, readLen)
	lo2, hi2, ok2 := g.Window(t, b, readLen)
	if !ok1 || !ok2 {
		return nil, 0
	}
	fmin := max(w.Min, readLen)
	fmax := w.Max
	if fmax < fmin {
		return nil, 0
	}
	if samples < 1 {
		samples = 1
	}
	span := fmax - fmin
	step := span / int64(samples)
	if step < 1 {
		step = 1
	}
	for f := fmin; f <= fmax; f += step {
		tried++
		shift := f - readLen
		lo := max(lo1, lo2-shift)
		hi := min(hi1, hi2-shift)
		if lo <= hi {
			ranges = append(ranges, [2]int64{lo, hi})
		}
	}
	return ranges, tried
}

// Reset zeroes every link counter so the graph can be mapped again.
func (g *Graph) Reset() {
	for _, l := range g.links {
		l.counts = [2]int{}
	}
}
