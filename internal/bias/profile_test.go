package bias

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/mapping"
	"github.com/inodb/isodecon/internal/splicegraph"
)

func transcript(strand int8) *annotation.Transcript {
	t := &annotation.Transcript{ID: "T", Chrom: "1", Strand: strand,
		Exons: []annotation.Exon{{Number: 1, Start: 1001, End: 1600}, {Number: 2, Start: 2001, End: 2400}}}
	t.SortExons()
	return t
}

func TestUniformFraction(t *testing.T) {
	p := Uniform(nil, 0)
	require.NoError(t, p.Validate())
	tr := transcript(1)
	require.Equal(t, int64(1000), tr.ExonicLength())

	tests := []struct {
		name   string
		lo, hi int64
		want   float64
	}{
		{"whole transcript", 0, 950, 1},
		{"first tenth", 0, 94, 95.0 / 951},
		{"single start", 500, 500, 1.0 / 951},
		{"clamped", -10, 2000, 1},
		{"empty", 10, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, d := range splicegraph.Directions {
				assert.InDelta(t, tt.want, p.Fraction(tr, tt.lo, tt.hi, 50, d), 1e-12)
			}
		})
	}

	assert.Zero(t, p.Fraction(tr, 0, 10, 1500, splicegraph.Sense), "read longer than transcript")
	assert.Equal(t, 1.0, p.NFactor(1000))
}

func TestFractionNonFiniteIsZeroed(t *testing.T) {
	p := Uniform(nil, 10)
	core, logs := observer.New(zap.WarnLevel)
	p.SetLogger(zap.New(core))
	tr := transcript(1)
	bin := &p.Bins[p.BinIndex(tr.ExonicLength())]
	clear(bin.Sense)
	bin.Antisense[3] = math.Inf(1)

	assert.Zero(t, p.Fraction(tr, 0, 100, 50, splicegraph.Sense), "empty track")
	require.Equal(t, 1, logs.FilterMessage("non-finite bias fraction, using 0").Len())

	// Cell 3 covers oriented starts 286..380 of 951.
	assert.Zero(t, p.Fraction(tr, 0, 100, 50, splicegraph.Antisense), "finite window of an infinite total")
	assert.Equal(t, 1, logs.Len())
	assert.Zero(t, p.Fraction(tr, 300, 310, 50, splicegraph.Antisense), "infinite window of an infinite total")
	assert.Equal(t, 2, logs.Len())

	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "T", fields["transcript"])
	assert.Equal(t, "antisense", fields["direction"])
}

func TestBinIndex(t *testing.T) {
	p := Uniform(nil, 10)
	assert.Equal(t, 0, p.BinIndex(500))
	assert.Equal(t, 1, p.BinIndex(1000))
	assert.Equal(t, 3, p.BinIndex(7999))
	assert.Equal(t, 4, p.BinIndex(1_000_000))
}

func fivePrimeHits(tr *annotation.Transcript, n int, d splicegraph.Direction) []mapping.Hit {
	var hits []mapping.Hit
	for off := int64(0); off < int64(n); off++ {
		// Oriented offset off on the transcript strand.
		lr := off
		if tr.IsReverseStrand() {
			lr = tr.ExonicLength() - off - 50
		}
		pos, ok := tr.GenomicPos(lr)
		if !ok {
			panic("offset outside transcript")
		}
		hits = append(hits, mapping.Hit{Aln: &alignment.Alignment{Start: pos}, Dir: d})
	}
	return hits
}

func TestLearnerFivePrimeBias(t *testing.T) {
	l := NewLearner(nil, 100, DefaultCutoff, 50)
	tr := transcript(1)
	acc := l.NewAccumulation()
	l.Observe(acc, tr, fivePrimeHits(tr, 100, splicegraph.Sense))
	assert.Equal(t, 100, acc.Reads())

	p := l.Finish(acc)
	require.NoError(t, p.Validate())
	b := p.Bins[p.BinIndex(1000)]
	assert.Equal(t, 100, b.Reads)
	assert.Greater(t, b.Sense[0], 1.0)
	assert.Less(t, b.Sense[99], DefaultCutoff)
	assert.Equal(t, ones(100), b.Antisense, "antisense track without data stays uniform")
	assert.InDelta(t, 100, sum(b.Sense), 1e-9, "mean 1")

	head := p.Fraction(tr, 0, 94, 50, splicegraph.Sense)
	tail := p.Fraction(tr, 856, 950, 50, splicegraph.Sense)
	assert.Greater(t, head, 0.5)
	assert.Less(t, tail, 0.01)

	// The same profile read on the reverse strand puts the 5' end on the right.
	rev := transcript(-1)
	assert.InDelta(t, head, p.Fraction(rev, 856, 950, 50, splicegraph.Sense), 1e-12)
	assert.InDelta(t, tail, p.Fraction(rev, 0, 94, 50, splicegraph.Sense), 1e-12)

	assert.Greater(t, p.NFactor(1000), 1.0, "mass below the cutoff inflates the factor")
	assert.Equal(t, 1.0, p.NFactor(5000), "untouched bins stay uniform")
}

func TestLearnerReverseStrandObservations(t *testing.T) {
	l := NewLearner(nil, 100, DefaultCutoff, 50)
	rev := transcript(-1)
	acc := l.NewAccumulation()
	l.Observe(acc, rev, fivePrimeHits(rev, 100, splicegraph.Antisense))
	p := l.Finish(acc)
	b := p.Bins[p.BinIndex(1000)]
	assert.Greater(t, b.Antisense[0], b.Antisense[99], "oriented 5' end of a reverse transcript")
}

func TestAccumulationMerge(t *testing.T) {
	l := NewLearner(nil, 20, DefaultCutoff, 50)
	tr := transcript(1)

	a, b := l.NewAccumulation(), l.NewAccumulation()
	l.Observe(a, tr, fivePrimeHits(tr, 30, splicegraph.Sense))
	l.Observe(b, tr, fivePrimeHits(tr, 300, splicegraph.Antisense))
	a.AddInserts([]float64{200})
	b.AddInserts([]float64{300})

	ab, ba := l.NewAccumulation(), l.NewAccumulation()
	require.NoError(t, ab.Merge(a))
	require.NoError(t, ab.Merge(b))
	require.NoError(t, ba.Merge(b))
	require.NoError(t, ba.Merge(a))
	assert.Equal(t, l.Finish(ab).Bins, l.Finish(ba).Bins)
	assert.Equal(t, 330, ab.Reads())
	assert.ElementsMatch(t, []float64{200, 300}, ab.Inserts())

	other := NewLearner(nil, 10, DefaultCutoff, 50).NewAccumulation()
	assert.Error(t, ab.Merge(other))
}

func TestSmoothKeepsConstant(t *testing.T) {
	v := []float64{2, 2, 2, 2, 2, 2}
	assert.InDeltaSlice(t, v, smooth(v, 2), 1e-12)
	assert.InDeltaSlice(t, ones(6), normalize(smooth(v, 2)), 1e-12)
}

func TestInsertWindow(t *testing.T) {
	assert.Equal(t, DefaultInsertWindow, InsertWindow([]float64{250, 260}, zap.NewNop()))

	var sizes []float64
	for i := 0; i < 1000; i++ {
		sizes = append(sizes, float64(200+i%100))
	}
	w := InsertWindow(sizes, zap.NewNop())
	assert.Equal(t, int64(200), w.Min)
	assert.Equal(t, int64(298), w.Max, "empirical 99th percentile")
}

func TestValidate(t *testing.T) {
	p := Uniform([]float64{1000, 2000}, 10)
	assert.Error(t, p.Validate(), "last bin bounded")

	p = Uniform(nil, 10)
	p.Bins[1].Sense = p.Bins[1].Sense[:5]
	assert.Error(t, p.Validate())

	p = Uniform([]float64{2000, 1000, math.Inf(1)}, 10)
	assert.Error(t, p.Validate())
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}
