package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/splicegraph"
)

func tx(id string, exons ...[2]int64) *annotation.Transcript {
	t := &annotation.Transcript{ID: id, GeneID: "G1", Chrom: "1", Strand: 1}
	for i, e := range exons {
		t.Exons = append(t.Exons, annotation.Exon{Number: i + 1, Start: e[0], End: e[1]})
	}
	t.SortExons()
	return t
}

func graph() *splicegraph.Graph {
	return splicegraph.Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", [2]int64{1001, 2000}, [2]int64{2501, 3000}),
		tx("T1", [2]int64{1501, 2000}, [2]int64{3501, 4000}),
		tx("T2", [2]int64{1501, 2000}, [2]int64{2501, 3000}),
	}))
}

func TestPartitionCompleteness(t *testing.T) {
	g := graph()
	// Grow a few on-demand links as well.
	g.Resolve([]alignment.Block{{Start: 1450, End: 2000}, {Start: 2500, End: 2520}})
	e := g.Edges()
	g.Pair(e[0], e[2], 50, splicegraph.InsertWindow{Min: 100, Max: 1000})

	x := Build(g, 50, nil)

	seen := make(map[int]int)
	for pi, p := range x.Partitions() {
		require.NotEmpty(t, p.Links)
		for _, l := range p.Links {
			_, dup := seen[l.ID()]
			assert.False(t, dup, "link %s in two partitions", l)
			seen[l.ID()] = pi
			assert.True(t, p.Set.Equal(l.Set()))
			assert.Same(t, p, x.Of(l))
		}
	}
	assert.Len(t, seen, len(g.Links()), "every link is partitioned")

	for _, a := range g.Links() {
		for _, b := range g.Links() {
			if a.Set().Equal(b.Set()) {
				assert.Same(t, x.Of(a), x.Of(b), "%s and %s", a, b)
			} else {
				assert.NotSame(t, x.Of(a), x.Of(b))
			}
		}
	}

	for i := 1; i < x.Len(); i++ {
		assert.Less(t, x.Partitions()[i-1].Links[0].ID(), x.Partitions()[i].Links[0].ID(),
			"partitions ordered by first link")
	}
}

func TestPartitionStatistics(t *testing.T) {
	g := splicegraph.Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", [2]int64{1001, 2000}, [2]int64{2501, 3000}),
		tx("T1", [2]int64{1501, 2000}, [2]int64{3501, 4000}),
	}))
	e := g.Edges()
	for i := 0; i < 45; i++ {
		e[0].Add(splicegraph.Sense)
		e[2].Add(splicegraph.Antisense)
	}

	x := Build(g, 50, nil)
	p := x.Of(e[0])
	// e0, e2 and the two T0-only junction super-edges.
	require.Len(t, p.Links, 4)
	sense, anti := p.Samples[splicegraph.Sense], p.Samples[splicegraph.Antisense]
	require.Len(t, sense, 4)
	require.Len(t, anti, 4)

	// Each direction sees one link at coverage a and three at zero.
	a := 45.0 / 451
	assert.InDelta(t, a, sense[0], 1e-12)
	assert.Zero(t, anti[0])
	assert.InDelta(t, a, anti[1], 1e-12)

	var eff float64
	for _, l := range p.Links {
		eff += float64(g.EffectiveLength(l, 50))
	}
	require.Equal(t, eff, floats.Sum(p.Weights))
	mean := 45 / eff
	variance := (451*(a-mean)*(a-mean) + (eff-451)*mean*mean) / (eff - 1)
	for _, d := range splicegraph.Directions {
		assert.InDelta(t, mean, p.Mean[d], 1e-12, "%s pooled coverage", d)
		assert.InDelta(t, variance, p.Variance[d], 1e-12, "%s", d)
	}
	assert.InDelta(t, 45, p.Expected(splicegraph.Sense, int64(eff)), 1e-9)

	single := x.Of(e[1])
	require.Len(t, single.Links, 1)
	assert.Zero(t, single.Mean)
	assert.Zero(t, single.Variance)
}

func TestPartitionSamplesCountedLinksOnly(t *testing.T) {
	g := splicegraph.Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", [2]int64{1001, 2000}),
	}))
	e := g.Edges()[0]
	pl := g.Pair(e, e, 50, splicegraph.InsertWindow{Min: 100, Max: 600})
	require.NotNil(t, pl)
	for i := 0; i < 8; i++ {
		pl.Add(splicegraph.Sense)
	}
	// Mates counted alone sit on the edge.
	for i := 0; i < 30; i++ {
		e.Add(splicegraph.Antisense)
	}

	paired := func(l *splicegraph.Link) bool { return l.Kind() == splicegraph.KindPaired }
	x := Build(g, 50, paired)
	p := x.Of(e)
	require.Same(t, p, x.Of(pl), "edge and pair share the transcript set")
	require.Len(t, p.Links, 2, "every link is still partitioned")
	require.Len(t, p.Samples[splicegraph.Sense], 1)
	assert.Zero(t, p.Samples[splicegraph.Antisense][0], "unpaired mates are not sampled")
	assert.Greater(t, p.Mean[splicegraph.Sense], 0.0)
	assert.Zero(t, p.Variance[splicegraph.Sense])

	all := Build(g, 50, nil).Of(e)
	assert.Len(t, all.Samples[splicegraph.Antisense], 2)
	assert.Greater(t, all.Mean[splicegraph.Antisense], 0.0)
}

func TestDegenerateLinksHaveNoSamples(t *testing.T) {
	g := splicegraph.Build(annotation.NewLocus([]*annotation.Transcript{
		tx("T0", [2]int64{1001, 1020}),
		tx("T1", [2]int64{1001, 1020}, [2]int64{1101, 1200}),
	}))
	x := Build(g, 50, nil)
	shared := x.Of(g.Edges()[0])
	for _, d := range splicegraph.Directions {
		assert.Empty(t, shared.Samples[d], "20bp edge cannot hold a 50bp read")
	}
	assert.Zero(t, g.EffectiveLength(g.Edges()[0], 50))
}
