package constraint

import (
	"fmt"
	"math"

	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/lp"
	"github.com/inodb/isodecon/internal/partition"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// Defaults for Options.
const (
	DefaultSegments    = 8
	DefaultTailPenalty = 1000
	DefaultPairSamples = 32
)

// Options configures a Builder.
type Options struct {
	Strategy    Strategy
	Segments    int     // Pieces of the Gaussian penalty
	TailPenalty float64 // Multiplier on the last piece's slope
	ReadLength  int64
	Paired      bool
	Insert      splicegraph.InsertWindow
	PairSamples int // Fragment lengths sampled per paired link
}

func (o *Options) setDefaults() {
	if o.Segments <= 0 {
		o.Segments = DefaultSegments
	}
	if o.TailPenalty <= 0 {
		o.TailPenalty = DefaultTailPenalty
	}
	if o.PairSamples <= 0 {
		o.PairSamples = DefaultPairSamples
	}
}

// RowLink reports whether l's counts enter the program. Paired runs count
// fragments on paired links; the other links only hold mates counted alone.
func (o Options) RowLink(l *splicegraph.Link) bool {
	return o.Paired == (l.Kind() == splicegraph.KindPaired)
}

// rowSpec is one (link, direction) deconvolution row with its members.
type rowSpec struct {
	link       *splicegraph.Link
	dir        splicegraph.Direction
	obs        float64
	members    []int
	f          []float64 // Expected share per member, parallel to members
	effLen     int64
	expected   float64 // Count the link's partition predicts
	variance   float64
	degenerate bool
}

// Layout maps a built problem's variables back to transcripts.
type Layout struct {
	NumVars int
	NumRows int
	// Flux[t] is the variable index of C_t.
	Flux []int
	// Contribs[t] lists the contribution variables of transcript t.
	Contribs [][]int
	// CCheck[t] is the total expected share of t's reads over all rows.
	CCheck []float64
	// Observed is the sum of observed counts over all rows.
	Observed float64
}

// Builder emits the program of one locus. It is owned by the locus worker.
type Builder struct {
	g       *splicegraph.Graph
	profile *bias.Profile
	opts    Options
	rows    []rowSpec
	share   [2]float64
	ccheck  []float64
}

// New precomputes the rows of g's program. Counts on g must be final and
// parts should sample the links opts.RowLink selects.
func New(g *splicegraph.Graph, parts *partition.Index, profile *bias.Profile, opts Options) *Builder {
	opts.setDefaults()
	b := &Builder{
		g:       g,
		profile: profile,
		opts:    opts,
		ccheck:  make([]float64, g.NumTranscripts()),
	}

	var links []*splicegraph.Link
	for _, l := range g.Links() {
		if opts.RowLink(l) {
			links = append(links, l)
		}
	}

	var sense, total float64
	for _, l := range links {
		sense += float64(l.Count(splicegraph.Sense))
		total += float64(l.Total())
	}
	b.share = [2]float64{0.5, 0.5}
	if total > 0 {
		b.share = [2]float64{sense / total, 1 - sense/total}
	}

	for _, l := range links {
		members := l.Set().Indices()
		eff := g.EffectiveLength(l, opts.ReadLength)
		part := parts.Of(l)
		for _, d := range splicegraph.Directions {
			r := rowSpec{
				link:     l,
				dir:      d,
				obs:      float64(l.Count(d)),
				members:  members,
				f:        make([]float64, len(members)),
				effLen:   eff,
				expected: part.Expected(d, eff),
				variance: part.Variance[d],
			}
			expected := false
			if eff > 0 && b.share[d] > 0 {
				for i, t := range members {
					r.f[i] = b.share[d] * b.fraction(t, l, d)
					b.ccheck[t] += r.f[i]
					expected = expected || r.f[i] > 0
				}
			}
			r.degenerate = !expected
			b.rows = append(b.rows, r)
		}
	}
	return b
}

// fraction returns the share of transcript t's reads in direction d that
// resolve to l.
func (b *Builder) fraction(t int, l *splicegraph.Link, d splicegraph.Direction) float64 {
	tr := b.g.Locus().Transcripts[t]
	readLen := b.opts.ReadLength
	if l.Kind() != splicegraph.KindPaired {
		lo, hi, ok := b.g.Window(t, l, readLen)
		if !ok {
			return 0
		}
		return b.profile.Fraction(tr, lo, hi, readLen, d)
	}

	ranges, tried := b.g.PairWindows(t, l, readLen, b.opts.Insert, b.opts.PairSamples)
	if tried == 0 {
		return 0
	}
	var f float64
	for _, r := range ranges {
		f += b.profile.Fraction(tr, r[0], r[1], readLen, d)
	}
	return f / float64(tried)
}

// Share returns the fraction of the locus's counted reads in direction d.
func (b *Builder) Share(d splicegraph.Direction) float64 {
	return b.share[d]
}

// CCheck returns the total expected share of each transcript's reads over
// all rows.
func (b *Builder) CCheck() []float64 {
	return b.ccheck
}

// Count sizes the program without a solver.
func (b *Builder) Count() (vars, rows int, err error) {
	var c lp.Counter
	if _, err := b.emit(&c); err != nil {
		return 0, 0, err
	}
	return c.Vars, c.Rows, nil
}

// Build emits the program into p, which must have room for the sizes Count
// reported.
func (b *Builder) Build(p lp.Problem) (*Layout, error) {
	return b.emit(p)
}

// emit is the single code path shared by Count and Build.
func (b *Builder) emit(p lp.Problem) (*Layout, error) {
	n := b.g.NumTranscripts()
	lay := &Layout{
		Flux:     make([]int, n),
		Contribs: make([][]int, n),
		CCheck:   b.ccheck,
	}
	next := 0
	alloc := func() int {
		next++
		return next - 1
	}
	for t := 0; t < n; t++ {
		lay.Flux[t] = alloc()
	}

	for ri := range b.rows {
		r := &b.rows[ri]
		lay.Observed += r.obs

		idx := make([]int, 0, len(r.members)+2*(b.opts.Segments+1))
		coef := make([]float64, 0, cap(idx))
		for i, t := range r.members {
			x := alloc()
			lay.Contribs[t] = append(lay.Contribs[t], x)
			if math.IsNaN(r.f[i]) || math.IsInf(r.f[i], 0) {
				return nil, fmt.Errorf("link %s %s: non-finite share for transcript %d", r.link, r.dir, t)
			}
			if err := p.AddConstraint([]int{x, lay.Flux[t]}, []float64{1, -r.f[i]}, lp.EQ, 0); err != nil {
				return nil, fmt.Errorf("flux row for link %s: %w", r.link, err)
			}
			lay.NumRows++
			idx = append(idx, x)
			coef = append(coef, 1)
		}

		costs := b.slackCost(r)
		for i, sign := range [2]float64{1, -1} {
			for _, seg := range costs[i] {
				s := alloc()
				p.SetObjective(s, seg.cost)
				if !math.IsInf(seg.upper, 1) {
					p.SetUpperBound(s, seg.upper)
				}
				idx = append(idx, s)
				coef = append(coef, sign)
			}
		}
		if err := p.AddConstraint(idx, coef, lp.EQ, r.obs); err != nil {
			return nil, fmt.Errorf("deconvolution row for link %s: %w", r.link, err)
		}
		lay.NumRows++
	}
	lay.NumVars = next
	return lay, nil
}

// Rows returns the number of deconvolution rows.
func (b *Builder) Rows() int {
	return len(b.rows)
}
