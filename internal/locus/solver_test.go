package locus

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/constraint"
	"github.com/inodb/isodecon/internal/lp"
	"github.com/inodb/isodecon/internal/splicegraph"
)

const readLen = 50

func tx(id, chrom string, exons ...[2]int64) *annotation.Transcript {
	t := &annotation.Transcript{ID: id, GeneID: "G" + chrom, Chrom: chrom, Strand: 1}
	for i, e := range exons {
		t.Exons = append(t.Exons, annotation.Exon{Number: i + 1, Start: e[0], End: e[1]})
	}
	t.SortExons()
	return t
}

// readAt places a read of length readLen at left-to-right exonic offset off
// of t, split at t's introns.
func readAt(t *testing.T, tr *annotation.Transcript, name string, strand int8, off int64) *alignment.Alignment {
	t.Helper()
	a := &alignment.Alignment{Name: name, Chrom: tr.Chrom, Strand: strand}
	remaining := int64(readLen)
	for _, s := range tr.Spans() {
		if remaining == 0 {
			break
		}
		if off >= s.Len() {
			off -= s.Len()
			continue
		}
		n := min(remaining, s.Len()-off)
		a.Blocks = append(a.Blocks, alignment.Block{Start: s.Start + off, End: s.Start + off + n})
		remaining -= n
		off = 0
	}
	require.Zero(t, remaining, "read %s runs off %s", name, tr.ID)
	a.Start = a.Blocks[0].Start
	a.End = a.Blocks[len(a.Blocks)-1].End
	return a
}

// tile puts k sense and k antisense reads at every start of tr.
func tile(t *testing.T, tr *annotation.Transcript, k int) []*alignment.Alignment {
	t.Helper()
	var out []*alignment.Alignment
	for off := int64(0); off+readLen <= tr.ExonicLength(); off++ {
		for i := 0; i < k; i++ {
			out = append(out,
				readAt(t, tr, fmt.Sprintf("%s/%d/%d/s", tr.ID, off, i), 1, off),
				readAt(t, tr, fmt.Sprintf("%s/%d/%d/a", tr.ID, off, i), -1, off))
		}
	}
	return out
}

// sharedExon builds two isoforms sharing their middle exon:
//
//	T1: A[1001-2000] S[3001-4000]
//	T2:              S[3001-4000] B[5001-6000]
//
// with reads tiled at one and two per start and direction.
func sharedExon(t *testing.T, chrom string) (*annotation.Locus, []*alignment.Alignment) {
	t1 := tx("T1"+chrom, chrom, [2]int64{1001, 2000}, [2]int64{3001, 4000})
	t2 := tx("T2"+chrom, chrom, [2]int64{3001, 4000}, [2]int64{5001, 6000})
	alns := append(tile(t, t1, 1), tile(t, t2, 2)...)
	return annotation.NewLocus([]*annotation.Transcript{t1, t2}), alns
}

// recorder counts the problems requested from a backend.
type recorder struct {
	lp.Solver
	calls int
}

func (r *recorder) NewProblem(nVars, nRows int) lp.Problem {
	r.calls++
	return r.Solver.NewProblem(nVars, nRows)
}

func newSolver(backend lp.Solver, maxVars int) *Solver {
	return NewSolver(Options{ReadLength: readLen, MaxVariables: maxVars}, nil, backend)
}

func reads(r *Result) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range r.Transcripts {
		out[t.ID] = t.Reads
	}
	return out
}

func TestSingleTranscriptFastPath(t *testing.T) {
	tr := tx("T1", "1", [2]int64{1001, 1500}, [2]int64{2001, 2500})
	loc := annotation.NewLocus([]*annotation.Transcript{tr})
	alns := []*alignment.Alignment{
		readAt(t, tr, "a", 1, 0),
		readAt(t, tr, "b", 1, 480),
		readAt(t, tr, "c", -1, 900),
	}

	rec := &recorder{Solver: lp.NewSimplex(0, 0)}
	res := newSolver(rec, 0).Solve(context.Background(), loc, alns)

	assert.Zero(t, rec.calls)
	require.True(t, res.OK())
	assert.Equal(t, MethodSingle, res.Method)
	require.Len(t, res.Transcripts, 1)
	assert.Equal(t, 3.0, res.Transcripts[0].Reads)
	assert.InDelta(t, 3.0, res.Transcripts[0].Abundance, 1e-12)
	assert.Equal(t, Stats{Mapping: res.Stats.Mapping, Loci: 1, Single: 1}, res.Stats)
	assert.Equal(t, 3, res.Stats.Mapping.Mapped)
}

func TestFluxConservation(t *testing.T) {
	for _, strategy := range []constraint.Strategy{constraint.Partition, constraint.Gaussian, constraint.Linear} {
		t.Run(strategy.String(), func(t *testing.T) {
			loc, alns := sharedExon(t, "1")
			rec := &recorder{Solver: lp.NewSimplex(0, 0)}
			s := NewSolver(Options{ReadLength: readLen, Strategy: strategy}, nil, rec)
			res := s.Solve(context.Background(), loc, alns)

			require.NoError(t, res.Err)
			require.True(t, res.OK(), "state %s status %s", res.State, res.Status)
			assert.Equal(t, 1, rec.calls)
			assert.Equal(t, MethodLP, res.Method)
			assert.Equal(t, lp.Optimal, res.Status)

			r := reads(res)
			require.Greater(t, r["T11"], 0.0)
			assert.InEpsilon(t, 2.0, r["T21"]/r["T11"], 0.05)
			assert.InDelta(t, float64(len(alns)), r["T11"]+r["T21"], 1e-3)
			assert.Equal(t, 1, res.Stats.Solved)
			assert.Zero(t, res.Stats.OverPredicted+res.Stats.UnderPredicted)
		})
	}
}

// fragments places n pairs on tr, the i-th starting at exonic offset
// i*step with fragment lengths cycling through [100, 400).
func fragments(t *testing.T, tr *annotation.Transcript, n int, step int64) []*alignment.Alignment {
	t.Helper()
	var out []*alignment.Alignment
	for i := 0; i < n; i++ {
		frag := 100 + int64(i*37)%300
		off := (int64(i) * step) % (tr.ExonicLength() - frag + 1)
		name := fmt.Sprintf("%s/p%d", tr.ID, i)
		a := readAt(t, tr, name, 1, off)
		b := readAt(t, tr, name, -1, off+frag-readLen)
		a.Paired, a.First = true, true
		b.Paired = true
		out = append(out, a, b)
	}
	return out
}

// orphans places n paired reads on tr whose mates are absent.
func orphans(t *testing.T, tr *annotation.Transcript, n int, from int64) []*alignment.Alignment {
	t.Helper()
	var out []*alignment.Alignment
	for i := 0; i < n; i++ {
		a := readAt(t, tr, fmt.Sprintf("%s/o%d", tr.ID, i), 1, from+int64(i)*20)
		a.Paired, a.First = true, true
		out = append(out, a)
	}
	return out
}

func pairedSolver(strategy constraint.Strategy) *Solver {
	return NewSolver(Options{
		ReadLength: readLen,
		Paired:     true,
		Insert:     splicegraph.InsertWindow{Min: 100, Max: 400},
		Strategy:   strategy,
	}, nil, lp.NewSimplex(0, 0))
}

func TestPairedSingleTranscriptCountsFragments(t *testing.T) {
	tr := tx("T1", "1", [2]int64{1001, 3000})
	loc := annotation.NewLocus([]*annotation.Transcript{tr})
	alns := append(fragments(t, tr, 10, 150), orphans(t, tr, 10, 0)...)

	res := pairedSolver(constraint.Partition).Solve(context.Background(), loc, alns)

	require.True(t, res.OK())
	assert.Equal(t, MethodSingle, res.Method)
	assert.Equal(t, 10, res.Stats.Mapping.Fragments)
	assert.Equal(t, 10, res.Stats.Mapping.Orphans)
	assert.Equal(t, 20, res.Stats.Mapping.Mapped, "orphan mates are tallied one by one")
	assert.Equal(t, 10.0, res.Transcripts[0].Reads, "only fragments are estimated")
}

func TestPairedLocusConservesFragments(t *testing.T) {
	t1 := tx("T1", "1", [2]int64{1001, 2000}, [2]int64{3001, 4000})
	t2 := tx("T2", "1", [2]int64{3001, 4000}, [2]int64{5001, 6000})
	loc := annotation.NewLocus([]*annotation.Transcript{t1, t2})
	var alns []*alignment.Alignment
	alns = append(alns, fragments(t, t1, 200, 9)...)
	alns = append(alns, fragments(t, t2, 400, 4)...)
	// Orphans on the shared exon.
	alns = append(alns, orphans(t, t1, 10, 1000)...)

	res := pairedSolver(constraint.Gaussian).Solve(context.Background(), loc, alns)

	require.NoError(t, res.Err)
	require.True(t, res.OK(), "state %s status %s", res.State, res.Status)
	assert.Equal(t, MethodLP, res.Method)
	assert.Equal(t, 600, res.Stats.Mapping.Fragments)
	assert.Equal(t, 10, res.Stats.Mapping.Orphans)

	r := reads(res)
	assert.InDelta(t, 600, r["T1"]+r["T2"], 1e-6, "fragments, as on the single-transcript path")
	assert.Greater(t, r["T2"], r["T1"])
}

// ramp returns a profile whose start density rises linearly from 5' to 3'.
func ramp() *bias.Profile {
	p := bias.Uniform(nil, 20)
	for i := range p.Bins {
		for _, track := range [][]float64{p.Bins[i].Sense, p.Bins[i].Antisense} {
			for j := range track {
				track[j] = 0.5 + float64(j)/float64(len(track)-1)
			}
		}
	}
	return p
}

func TestMinusStrandWithPositionalBias(t *testing.T) {
	loc, alns := sharedExon(t, "1")
	for _, tr := range loc.Transcripts {
		tr.Strand = -1
	}
	loc.Strand = -1
	require.NoError(t, ramp().Validate())

	solve := func(p *bias.Profile) *Result {
		s := NewSolver(Options{ReadLength: readLen, Strategy: constraint.Gaussian}, p, lp.NewSimplex(0, 0))
		return s.Solve(context.Background(), loc, alns)
	}
	biased, flat := solve(ramp()), solve(nil)

	require.True(t, biased.OK(), "state %s status %s", biased.State, biased.Status)
	assert.Equal(t, MethodLP, biased.Method)
	r := reads(biased)
	for id, v := range r {
		assert.Greater(t, v, 0.0, id)
		assert.False(t, math.IsNaN(v), id)
	}
	assert.InDelta(t, float64(len(alns)), r["T11"]+r["T21"], 1e-3)
	assert.NotEqual(t, reads(flat), r, "the profile moves the estimate")
}

func TestZeroProfileLocusReportsNoReads(t *testing.T) {
	loc, alns := sharedExon(t, "1")
	p := bias.Uniform(nil, 10)
	for i := range p.Bins {
		clear(p.Bins[i].Sense)
		clear(p.Bins[i].Antisense)
	}
	core, logs := observer.New(zap.WarnLevel)
	p.SetLogger(zap.New(core))

	res := NewSolver(Options{ReadLength: readLen}, p, lp.NewSimplex(0, 0)).Solve(context.Background(), loc, alns)

	require.True(t, res.OK(), "state %s status %s err %v", res.State, res.Status, res.Err)
	for _, tr := range res.Transcripts {
		assert.Zero(t, tr.Reads)
		assert.Zero(t, tr.Abundance)
	}
	assert.NotZero(t, logs.FilterMessage("non-finite bias fraction, using 0").Len())
}

func TestVariableCeilingDegrades(t *testing.T) {
	loc, alns := sharedExon(t, "1")
	rec := &recorder{Solver: lp.NewSimplex(0, 0)}
	res := newSolver(rec, 10).Solve(context.Background(), loc, alns)

	assert.Zero(t, rec.calls)
	require.True(t, res.OK())
	assert.Equal(t, MethodProportional, res.Method)
	assert.Equal(t, 1, res.Stats.Degraded)

	r := reads(res)
	assert.InDelta(t, 3902, r["T11"], 1e-9)
	assert.InDelta(t, 7804, r["T21"], 1e-9)
}

// infeasible builds a locus whose shared exon holds no reads although its
// only other member needs many:
//
//	T0: A[1001-1100]
//	T1: A[1001-1100] B[2001-2100]
func infeasible(t *testing.T, chrom string) (*annotation.Locus, []*alignment.Alignment) {
	t0 := tx("T0"+chrom, chrom, [2]int64{1001, 1100})
	t1 := tx("T1"+chrom, chrom, [2]int64{1001, 1100}, [2]int64{2001, 2100})
	var alns []*alignment.Alignment
	// 10 reads per start on B alone (offsets 100..150) and across the
	// junction (offsets 51..99).
	for off := int64(51); off <= 150; off++ {
		for i := 0; i < 10; i++ {
			alns = append(alns, readAt(t, t1, fmt.Sprintf("r%d/%d", off, i), 1, off))
		}
	}
	return annotation.NewLocus([]*annotation.Transcript{t0, t1}), alns
}

func TestInfeasibleLocusFails(t *testing.T) {
	loc, alns := infeasible(t, "1")
	core, logs := observer.New(zap.WarnLevel)
	s := newSolver(lp.NewSimplex(0, 0), 0)
	s.SetLogger(zap.New(core))
	res := s.Solve(context.Background(), loc, alns)

	failed := logs.FilterMessage("locus failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "solved", failed[0].ContextMap()["state"], "fails after the solve returns")

	assert.Equal(t, Failed, res.State)
	assert.Equal(t, MethodLP, res.Method)
	assert.NotEqual(t, lp.Optimal, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Stats.Failed)
	require.Len(t, res.Transcripts, 2)
	for _, tr := range res.Transcripts {
		assert.Zero(t, tr.Reads)
	}
	assert.Equal(t, 1000, res.Stats.Mapping.Mapped)
}

func TestEmptyLocus(t *testing.T) {
	loc, _ := sharedExon(t, "1")
	rec := &recorder{Solver: lp.NewSimplex(0, 0)}
	res := newSolver(rec, 0).Solve(context.Background(), loc, nil)
	assert.Zero(t, rec.calls)
	assert.True(t, res.OK())
	assert.Equal(t, MethodEmpty, res.Method)
	assert.Equal(t, 1, res.Stats.Empty)
}

func TestStateMachine(t *testing.T) {
	var m machine
	require.NoError(t, m.to(GraphBuilt))
	assert.ErrorIs(t, m.to(Solved), ErrIllegalTransition)
	require.NoError(t, m.to(Mapped))
	require.NoError(t, m.to(Counted))
	require.NoError(t, m.to(Built))
	require.NoError(t, m.to(Solved))
	require.NoError(t, m.to(Normalized))
	assert.ErrorIs(t, m.to(Failed), ErrIllegalTransition)

	m = machine{state: Solved}
	require.NoError(t, m.to(Failed))
	assert.True(t, m.state.Terminal())
	assert.ErrorIs(t, m.to(Normalized), ErrIllegalTransition)

	assert.Equal(t, "graph_built", GraphBuilt.String())
}
