// Package locus solves loci end to end and runs many of them on a bounded
// worker pool.
package locus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/constraint"
	"github.com/inodb/isodecon/internal/lp"
	"github.com/inodb/isodecon/internal/mapping"
	"github.com/inodb/isodecon/internal/partition"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// DefaultMaxVariables is the largest program solved before a locus falls
// back to proportional splitting. The simplex backend is dense, so its
// memory grows with the square of this.
const DefaultMaxVariables = 4000

// Options configures a Solver.
type Options struct {
	ReadLength   int64
	Paired       bool
	Insert       splicegraph.InsertWindow
	Library      mapping.Library
	Strategy     constraint.Strategy
	Segments     int
	TailPenalty  float64
	PairSamples  int
	MaxVariables int
}

func (o Options) mapping() mapping.Options {
	return mapping.Options{
		Paired:     o.Paired,
		ReadLength: o.ReadLength,
		Insert:     o.Insert,
		Library:    o.Library,
	}
}

func (o Options) constraint() constraint.Options {
	return constraint.Options{
		Strategy:    o.Strategy,
		Segments:    o.Segments,
		TailPenalty: o.TailPenalty,
		ReadLength:  o.ReadLength,
		Paired:      o.Paired,
		Insert:      o.Insert,
		PairSamples: o.PairSamples,
	}
}

// Solver runs one locus through graph construction, read mapping, program
// construction, solving and normalization. It holds no per-locus state and
// is safe for concurrent use.
type Solver struct {
	opts    Options
	mapper  *mapping.Mapper
	profile *bias.Profile
	backend lp.Solver
	logger  *zap.Logger
}

// NewSolver creates a solver. A nil profile is replaced by a uniform one.
func NewSolver(opts Options, profile *bias.Profile, backend lp.Solver) *Solver {
	if opts.MaxVariables <= 0 {
		opts.MaxVariables = DefaultMaxVariables
	}
	if profile == nil {
		profile = bias.Uniform(bias.DefaultBounds, bias.DefaultResolution)
	}
	return &Solver{
		opts:    opts,
		mapper:  mapping.New(opts.mapping()),
		profile: profile,
		backend: backend,
		logger:  zap.NewNop(),
	}
}

// SetLogger sets the logger for per-locus diagnostics.
func (s *Solver) SetLogger(l *zap.Logger) {
	s.logger = l
	s.mapper.SetLogger(l)
}

// Options returns the solver configuration.
func (s *Solver) Options() Options {
	return s.opts
}

// run carries one locus through its states.
type run struct {
	*Solver
	machine
	locus  *annotation.Locus
	logger *zap.Logger
	res    *Result
	graph  *splicegraph.Graph
}

// Solve processes one locus. Failures are reported in the result, never
// returned: a failed locus must not stop the run.
func (s *Solver) Solve(ctx context.Context, loc *annotation.Locus, alns []*alignment.Alignment) *Result {
	r := &run{
		Solver: s,
		locus:  loc,
		logger: s.logger.With(zap.String("locus", loc.ID)),
		res: &Result{
			Locus:  loc.ID,
			Chrom:  loc.Chrom,
			Start:  loc.Start,
			End:    loc.End,
			Strand: loc.Strand,
			Stats:  Stats{Loci: 1},
		},
	}
	if err := r.solve(ctx, alns); err != nil {
		r.fail(err)
	}
	r.res.State = r.state
	return r.res
}

func (r *run) fail(err error) {
	r.logger.Warn("locus failed", zap.Stringer("state", r.state), zap.Error(err))
	r.state = Failed
	r.res.Err = err
	r.res.Stats.Failed++
	r.res.Transcripts = r.emit(nil, nil)
}

func (r *run) solve(ctx context.Context, alns []*alignment.Alignment) error {
	r.graph = splicegraph.Build(r.locus)
	if err := r.to(GraphBuilt); err != nil {
		return err
	}

	m := r.mapper.Map(r.graph, alns)
	r.res.Stats.Mapping = m.Stats
	if err := r.to(Mapped); err != nil {
		return err
	}

	counted := m.Stats.Counted(r.opts.Paired)
	if len(r.locus.Transcripts) == 1 {
		return r.single(counted)
	}
	if counted == 0 {
		return r.empty()
	}

	copts := r.opts.constraint()
	parts := partition.Build(r.graph, r.opts.ReadLength, copts.RowLink)
	b := constraint.New(r.graph, parts, r.profile, copts)
	vars, rows, err := b.Count()
	if err != nil {
		return fmt.Errorf("count program: %w", err)
	}
	if err := r.to(Counted); err != nil {
		return err
	}
	if vars > r.opts.MaxVariables {
		r.logger.Info("locus over variable ceiling, splitting proportionally",
			zap.Int("variables", vars), zap.Int("max", r.opts.MaxVariables))
		return r.proportional()
	}

	p := r.backend.NewProblem(vars, rows)
	defer p.Dispose()
	lay, err := b.Build(p)
	if err != nil {
		return fmt.Errorf("build program: %w", err)
	}
	if err := r.to(Built); err != nil {
		return err
	}

	status, x := p.Solve(ctx)
	r.res.Method = MethodLP
	r.res.Status = status
	if err := r.to(Solved); err != nil {
		return err
	}
	if status != lp.Optimal {
		return fmt.Errorf("solve %d variables, %d rows: %s", vars, rows, status)
	}

	n := Normalize(r.locus.Transcripts, x, lay, r.profile, r.logger)
	if err := r.to(Normalized); err != nil {
		return err
	}
	r.res.Stats.Solved++
	if n.OverPredicted() {
		r.res.Stats.OverPredicted++
	}
	if n.UnderPredicted() {
		r.res.Stats.UnderPredicted++
	}
	r.res.Transcripts = r.emit(n.Reads, n.Abundance)
	return nil
}

// single reports every counted read or fragment of a one-transcript locus.
func (r *run) single(counted int) error {
	if err := r.to(Normalized); err != nil {
		return err
	}
	tr := r.locus.Transcripts[0]
	reads := float64(counted)
	r.res.Method = MethodSingle
	r.res.Stats.Single++
	r.res.Transcripts = r.emit([]float64{reads}, []float64{rpk(reads, tr)})
	return nil
}

func (r *run) empty() error {
	if err := r.to(Normalized); err != nil {
		return err
	}
	n := len(r.locus.Transcripts)
	r.res.Method = MethodEmpty
	r.res.Stats.Empty++
	r.res.Transcripts = r.emit(make([]float64, n), make([]float64, n))
	return nil
}

// proportional splits each counted link among its members by their read
// density on the links unique to them. Members without a unique link share
// equally.
func (r *run) proportional() error {
	if err := r.to(Normalized); err != nil {
		return err
	}
	n := len(r.locus.Transcripts)
	var reads, eff = make([]float64, n), make([]float64, n)
	links := r.rowLinks()
	for _, l := range links {
		if l.Set().Len() != 1 {
			continue
		}
		t := l.Set().First()
		reads[t] += float64(l.Total())
		eff[t] += float64(r.graph.EffectiveLength(l, r.opts.ReadLength))
	}
	density := make([]float64, n)
	for t := range density {
		if eff[t] > 0 {
			density[t] = reads[t] / eff[t]
		}
	}

	out := make([]float64, n)
	for _, l := range links {
		total := float64(l.Total())
		if total == 0 {
			continue
		}
		members := l.Set().Indices()
		var sum float64
		for _, t := range members {
			sum += density[t]
		}
		for _, t := range members {
			share := 1 / float64(len(members))
			if sum > 0 {
				share = density[t] / sum
			}
			out[t] += total * share
		}
	}

	abundance := make([]float64, n)
	for t, tr := range r.locus.Transcripts {
		abundance[t] = finite(rpk(out[t]*r.profile.NFactor(tr.ExonicLength()), tr), "abundance", tr, r.logger)
	}
	r.res.Method = MethodProportional
	r.res.Stats.Degraded++
	r.res.Transcripts = r.emit(out, abundance)
	return nil
}

// rowLinks returns the links whose counts enter the program.
func (r *run) rowLinks() []*splicegraph.Link {
	copts := r.opts.constraint()
	var out []*splicegraph.Link
	for _, l := range r.graph.Links() {
		if copts.RowLink(l) {
			out = append(out, l)
		}
	}
	return out
}

// emit builds the per-transcript rows. Nil slices leave the values at 0.
func (r *run) emit(reads, abundance []float64) []Transcript {
	out := make([]Transcript, len(r.locus.Transcripts))
	for t, tr := range r.locus.Transcripts {
		out[t] = Transcript{
			ID:           tr.ID,
			GeneID:       tr.GeneID,
			ExonicLength: tr.ExonicLength(),
		}
		if reads != nil {
			out[t].Reads = reads[t]
			out[t].Abundance = abundance[t]
		}
	}
	return out
}
