// Package partition groups splice-graph links by identical transcript set
// and summarizes the observed coverage of each group.
package partition

import (
	"gonum.org/v1/gonum/stat"

	"github.com/inodb/isodecon/internal/splicegraph"
	"github.com/inodb/isodecon/internal/tset"
)

// Partition is the set of links sharing one transcript set.
type Partition struct {
	Set   tset.Set
	Links []*splicegraph.Link

	// Samples[d] holds count(d)/effective-length per counted, non-degenerate
	// link, indexed by splicegraph.Direction. Weights holds the effective
	// lengths, so Mean is the pooled per-base coverage.
	Samples  [2][]float64
	Weights  []float64
	Mean     [2]float64
	Variance [2]float64
}

// Expected returns the count in direction d that the partition's mean
// coverage predicts on a link of effective length eff.
func (p *Partition) Expected(d splicegraph.Direction, eff int64) float64 {
	return p.Mean[d] * float64(eff)
}

// Index assigns every link of a graph to exactly one partition.
type Index struct {
	parts  []*Partition
	byLink []int
}

// Build partitions the links of g. Partitions are ordered by the first link
// in g.Links that carries their set. Only links for which counted returns
// true contribute coverage samples; a nil counted samples every link.
func Build(g *splicegraph.Graph, readLen int64, counted func(*splicegraph.Link) bool) *Index {
	links := g.Links()
	x := &Index{byLink: make([]int, len(links))}
	byKey := make(map[string]int)
	for _, l := range links {
		key := l.Set().Key()
		pi, ok := byKey[key]
		if !ok {
			pi = len(x.parts)
			byKey[key] = pi
			x.parts = append(x.parts, &Partition{Set: l.Set()})
		}
		p := x.parts[pi]
		p.Links = append(p.Links, l)
		x.byLink[l.ID()] = pi

		if counted != nil && !counted(l) {
			continue
		}
		if eff := g.EffectiveLength(l, readLen); eff > 0 {
			p.Weights = append(p.Weights, float64(eff))
			for _, d := range splicegraph.Directions {
				p.Samples[d] = append(p.Samples[d], float64(l.Count(d))/float64(eff))
			}
		}
	}
	for _, p := range x.parts {
		p.summarize()
	}
	return x
}

func (p *Partition) summarize() {
	for d, samples := range p.Samples {
		switch len(samples) {
		case 0:
		case 1:
			p.Mean[d] = samples[0]
		default:
			p.Mean[d], p.Variance[d] = stat.MeanVariance(samples, p.Weights)
		}
	}
}

// Partitions returns the partitions in creation order.
func (x *Index) Partitions() []*Partition {
	return x.parts
}

// Len returns the number of partitions.
func (x *Index) Len() int {
	return len(x.parts)
}

// Of returns the partition holding l.
func (x *Index) Of(l *splicegraph.Link) *Partition {
	return x.parts[x.byLink[l.ID()]]
}
