package splicegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/tset"
)

func tx(id string, strand int8, exons ...[2]int64) *annotation.Transcript {
	t := &annotation.Transcript{ID: id, GeneID: "G1", Chrom: "1", Strand: strand}
	for i, e := range exons {
		t.Exons = append(t.Exons, annotation.Exon{Number: i + 1, Start: e[0], End: e[1]})
	}
	t.SortExons()
	return t
}

// twoIsoforms shares [1500,2000) between a three-edge and a two-edge path:
//
//	T0: [1000,1500)[1500,2000) .. [2500,3000)
//	T1:            [1500,2000) ..............  [3500,4000)
func twoIsoforms() *Graph {
	return Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", 1, [2]int64{1001, 2000}, [2]int64{2501, 3000}),
		tx("T1", 1, [2]int64{1501, 2000}, [2]int64{3501, 4000}),
	}))
}

func blocks(b ...[2]int64) []alignment.Block {
	out := make([]alignment.Block, len(b))
	for i, x := range b {
		out[i] = alignment.Block{Start: x[0], End: x[1]}
	}
	return out
}

func TestBuild(t *testing.T) {
	g := twoIsoforms()

	assert.Equal(t, []int64{1000, 1500, 2000, 2500, 3000, 3500, 4000}, g.Nodes())

	edges := g.Edges()
	require.Len(t, edges, 4)
	want := []struct {
		start, end int64
		set        tset.Set
	}{
		{1000, 1500, tset.FromIndices(2, 0)},
		{1500, 2000, tset.FromIndices(2, 0, 1)},
		{2500, 3000, tset.FromIndices(2, 0)},
		{3500, 4000, tset.FromIndices(2, 1)},
	}
	for i, w := range want {
		assert.Equal(t, KindEdge, edges[i].Kind())
		assert.Equal(t, w.start, edges[i].Start(), "edge %d", i)
		assert.Equal(t, w.end, edges[i].End(), "edge %d", i)
		assert.True(t, w.set.Equal(edges[i].Set()), "edge %d set %s", i, edges[i].Set())
	}

	assert.Equal(t, []*Link{edges[0], edges[1], edges[2]}, g.Path(0))
	assert.Equal(t, []*Link{edges[1], edges[3]}, g.Path(1))

	// Three eager super-edges, one per path adjacency.
	links := g.Links()
	require.Len(t, links, 7)
	for i, l := range links {
		assert.Equal(t, i, l.ID())
		assert.False(t, l.Set().IsEmpty())
		assert.True(t, l.Set().SubsetOf(tset.Full(2)))
	}
	assert.Equal(t, KindSuper, links[4].Kind())
}

func TestBuildMergesUniformIntervals(t *testing.T) {
	// T1's abutting exons put a node at 2000 inside a region both
	// transcripts cover; it must not split the edge.
	g := Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", 1, [2]int64{1001, 3000}),
		tx("T1", 1, [2]int64{1001, 2000}, [2]int64{2001, 3000}, [2]int64{5001, 5100}),
	}))
	require.Len(t, g.Edges(), 2)
	assert.Equal(t, int64(1000), g.Edges()[0].Start())
	assert.Equal(t, int64(3000), g.Edges()[0].End())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		blocks  []alignment.Block
		outcome Outcome
		kind    Kind
		set     []int
	}{
		{"inside one edge", blocks([2]int64{1200, 1250}), Resolved, KindEdge, []int{0}},
		{"contiguous boundary", blocks([2]int64{1480, 1530}), Resolved, KindSuper, []int{0}},
		{"junction T0", blocks([2]int64{1950, 2000}, [2]int64{2500, 2550}), Resolved, KindSuper, []int{0}},
		{"junction T1", blocks([2]int64{1950, 2000}, [2]int64{3500, 3550}), Resolved, KindSuper, []int{1}},
		{"three-edge chain", blocks([2]int64{1450, 2000}, [2]int64{2500, 2520}), Resolved, KindSuper, []int{0}},
		{"runs into intron", blocks([2]int64{1950, 2050}), Unannotated, 0, nil},
		{"donor off boundary", blocks([2]int64{1950, 1990}, [2]int64{2500, 2550}), Unannotated, 0, nil},
		{"acceptor off boundary", blocks([2]int64{1950, 2000}, [2]int64{2510, 2550}), Unannotated, 0, nil},
		{"intergenic", blocks([2]int64{100, 150}), Unannotated, 0, nil},
		{"no transcript skips both", blocks([2]int64{1450, 1500}, [2]int64{3500, 3550}), NoEvidence, 0, nil},
		{"mixed path", blocks([2]int64{1450, 2000}, [2]int64{3500, 3520}), NoEvidence, 0, nil},
	}

	g := twoIsoforms()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, outcome := g.Resolve(tt.blocks)
			assert.Equal(t, tt.outcome, outcome)
			if tt.outcome != Resolved {
				assert.Nil(t, l)
				return
			}
			require.NotNil(t, l)
			assert.Equal(t, tt.kind, l.Kind())
			assert.True(t, tset.FromIndices(2, tt.set...).Equal(l.Set()), "got %s", l.Set())
		})
	}
}

func TestResolveCachesChains(t *testing.T) {
	g := twoIsoforms()
	b := blocks([2]int64{1450, 2000}, [2]int64{2500, 2520})

	l1, _ := g.Resolve(b)
	n := len(g.Links())
	l2, _ := g.Resolve(b)
	assert.Same(t, l1, l2)
	assert.Len(t, g.Links(), n)

	miss := blocks([2]int64{1450, 1500}, [2]int64{3500, 3550})
	g.Resolve(miss)
	g.Resolve(miss)
	assert.Len(t, g.Links(), n, "negative lookups never create links")
}

func TestWindow(t *testing.T) {
	g := twoIsoforms()
	e := g.Edges()

	lo, hi, ok := g.Window(0, e[0], 50)
	require.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(450), hi)

	// T1 starts at e1, so e1 is at exonic offset 0 there.
	lo, hi, ok = g.Window(1, e[1], 50)
	require.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(450), hi)

	junction, _ := g.Resolve(blocks([2]int64{1950, 2000}, [2]int64{2500, 2550}))
	lo, hi, ok = g.Window(0, junction, 50)
	require.True(t, ok)
	assert.Equal(t, int64(951), lo)
	assert.Equal(t, int64(999), hi)

	_, _, ok = g.Window(1, junction, 50)
	assert.False(t, ok, "T1 does not traverse the junction")

	_, _, ok = g.Window(0, e[0], 600)
	assert.False(t, ok, "read longer than the edge")
}

func TestPair(t *testing.T) {
	t.Run("outside window", func(t *testing.T) {
		g := twoIsoforms()
		e := g.Edges()
		// On T0 the fragment spanning e0..e2 is at least 600 long.
		assert.Nil(t, g.Pair(e[0], e[2], 50, InsertWindow{Min: 100, Max: 500}))
		assert.Len(t, g.Links(), 7)
	})

	t.Run("admissible", func(t *testing.T) {
		g := twoIsoforms()
		e := g.Edges()
		p := g.Pair(e[0], e[2], 50, InsertWindow{Min: 100, Max: 600})
		require.NotNil(t, p)
		assert.Equal(t, KindPaired, p.Kind())
		assert.True(t, tset.FromIndices(2, 0).Equal(p.Set()))
		left, right := p.Mates()
		assert.Same(t, e[0], left)
		assert.Same(t, e[2], right)
		assert.Nil(t, p.Chain())
		assert.Same(t, p, g.Pair(e[0], e[2], 50, InsertWindow{Min: 100, Max: 600}))
	})

	t.Run("same link both mates", func(t *testing.T) {
		g := twoIsoforms()
		e := g.Edges()
		p := g.Pair(e[1], e[1], 50, InsertWindow{Min: 100, Max: 600})
		require.NotNil(t, p)
		assert.True(t, tset.Full(2).Equal(p.Set()))
	})

	t.Run("windows", func(t *testing.T) {
		g := twoIsoforms()
		e := g.Edges()
		p := g.Pair(e[1], e[3], 50, InsertWindow{Min: 100, Max: 600})
		require.NotNil(t, p)
		assert.True(t, tset.FromIndices(2, 1).Equal(p.Set()))

		ranges, tried := g.PairWindows(1, p, 50, InsertWindow{Min: 100, Max: 600}, 5)
		assert.Equal(t, 6, tried)
		require.NotEmpty(t, ranges)
		assert.Equal(t, [2]int64{450, 450}, ranges[0])

		ranges, _ = g.PairWindows(0, p, 50, InsertWindow{Min: 100, Max: 600}, 5)
		assert.Empty(t, ranges, "T0 does not contain e3")
	})
}

func TestCounts(t *testing.T) {
	g := twoIsoforms()
	e := g.Edges()[0]
	e.Add(Sense)
	e.Add(Sense)
	e.Add(Antisense)
	assert.Equal(t, 2, e.Count(Sense))
	assert.Equal(t, 1, e.Count(Antisense))
	assert.Equal(t, 3, e.Total())

	g.Reset()
	assert.Zero(t, e.Total())
}
