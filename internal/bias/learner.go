package bias

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/mapping"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// Accumulation holds read-start counts from one or more single-isoform loci.
// Accumulations are built independently per locus and merged, so learning
// needs no shared state between workers.
type Accumulation struct {
	bounds     []float64
	resolution int
	counts     [][2][]float64 // [bin][direction][cell]
	reads      []int
	inserts    []float64
}

// Learner builds a Profile from single-isoform loci.
type Learner struct {
	bounds     []float64
	resolution int
	cutoff     float64
	readLen    int64
	logger     *zap.Logger
}

// NewLearner creates a learner. readLen is the nominal read length used to
// place read starts.
func NewLearner(bounds []float64, resolution int, cutoff float64, readLen int64) *Learner {
	if len(bounds) == 0 {
		bounds = DefaultBounds
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Learner{
		bounds:     bounds,
		resolution: resolution,
		cutoff:     cutoff,
		readLen:    readLen,
		logger:     zap.NewNop(),
	}
}

// SetLogger sets the logger.
func (l *Learner) SetLogger(lg *zap.Logger) {
	l.logger = lg
}

// NewAccumulation returns an empty accumulation sized for this learner.
func (l *Learner) NewAccumulation() *Accumulation {
	a := &Accumulation{
		bounds:     l.bounds,
		resolution: l.resolution,
		counts:     make([][2][]float64, len(l.bounds)),
		reads:      make([]int, len(l.bounds)),
	}
	for i := range a.counts {
		a.counts[i][splicegraph.Sense] = make([]float64, l.resolution)
		a.counts[i][splicegraph.Antisense] = make([]float64, l.resolution)
	}
	return a
}

// Observe records the read starts of hits on the single transcript t.
func (l *Learner) Observe(acc *Accumulation, t *annotation.Transcript, hits []mapping.Hit) {
	length := t.ExonicLength()
	n := length - l.readLen + 1
	if n <= 0 {
		return
	}
	bin := sort.Search(len(acc.bounds), func(i int) bool { return float64(length) < acc.bounds[i] })
	bin = min(bin, len(acc.bounds)-1)
	m := int64(acc.resolution)
	for _, h := range hits {
		off, ok := t.ExonicOffset(h.Aln.Start)
		if !ok {
			continue
		}
		p := t.Oriented(off, l.readLen)
		if p < 0 || p >= n {
			continue
		}
		acc.counts[bin][h.Dir][p*m/n]++
		acc.reads[bin]++
	}
}

// AddInserts records exonic fragment lengths.
func (acc *Accumulation) AddInserts(sizes []float64) {
	acc.inserts = append(acc.inserts, sizes...)
}

// Reads returns the number of read starts recorded.
func (acc *Accumulation) Reads() int {
	n := 0
	for _, r := range acc.reads {
		n += r
	}
	return n
}

// Inserts returns the recorded fragment lengths.
func (acc *Accumulation) Inserts() []float64 {
	return acc.inserts
}

// Merge adds o into acc. Counts are integral, so the result does not depend
// on merge order.
func (acc *Accumulation) Merge(o *Accumulation) error {
	if len(o.counts) != len(acc.counts) || o.resolution != acc.resolution {
		return fmt.Errorf("merge bias accumulation: shape %dx%d != %dx%d",
			len(o.counts), o.resolution, len(acc.counts), acc.resolution)
	}
	for i := range acc.counts {
		for d := range acc.counts[i] {
			floats.Add(acc.counts[i][d], o.counts[i][d])
		}
		acc.reads[i] += o.reads[i]
	}
	acc.inserts = append(acc.inserts, o.inserts...)
	return nil
}

// Finish smooths and normalizes the accumulated counts into a profile. Bins
// or tracks without any read start stay uniform.
func (l *Learner) Finish(acc *Accumulation) *Profile {
	p := Uniform(l.bounds, l.resolution)
	p.Cutoff = l.cutoff
	p.logger = l.logger
	for i := range acc.counts {
		p.Bins[i].Reads = acc.reads[i]
		for _, d := range splicegraph.Directions {
			raw := acc.counts[i][d]
			if floats.Sum(raw) == 0 {
				continue
			}
			track := normalize(smooth(raw, max(1, l.resolution/10)))
			if d == splicegraph.Sense {
				p.Bins[i].Sense = track
			} else {
				p.Bins[i].Antisense = track
			}
		}
		l.logger.Debug("bias bin learned",
			zap.Float64("upper", p.Bins[i].Upper),
			zap.Int("reads", acc.reads[i]))
	}
	return p
}

// minCell keeps every cell strictly positive so no start position becomes
// impossible.
const minCell = 1e-3

// smooth applies a symmetric triangular kernel of half-width h, renormalizing
// the weights at the edges.
func smooth(v []float64, h int) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		var s, w float64
		for k := -h; k <= h; k++ {
			j := i + k
			if j < 0 || j >= len(v) {
				continue
			}
			wk := float64(h + 1 - abs(k))
			s += wk * v[j]
			w += wk
		}
		out[i] = s / w
	}
	return out
}

func abs(k int) int {
	if k < 0 {
		return -k
	}
	return k
}

// normalize scales v to mean 1 after flooring each cell.
func normalize(v []float64) []float64 {
	mean := floats.Sum(v) / float64(len(v))
	for i := range v {
		v[i] = math.Max(v[i]/mean, minCell)
	}
	floats.Scale(float64(len(v))/floats.Sum(v), v)
	return v
}

// DefaultInsertWindow is used when too few fragments were observed.
var DefaultInsertWindow = splicegraph.InsertWindow{Min: 100, Max: 600}

// MinInsertSamples is the number of fragments needed to estimate a window.
const MinInsertSamples = 100

// InsertWindow estimates the admissible fragment-length window as the 1st to
// 99th percentile of the observed exonic insert sizes.
func InsertWindow(sizes []float64, logger *zap.Logger) splicegraph.InsertWindow {
	if len(sizes) < MinInsertSamples {
		logger.Info("too few fragments for insert window, using default",
			zap.Int("fragments", len(sizes)),
			zap.Int64("min", DefaultInsertWindow.Min),
			zap.Int64("max", DefaultInsertWindow.Max))
		return DefaultInsertWindow
	}
	x := append([]float64(nil), sizes...)
	sort.Float64s(x)
	lo := stat.Quantile(0.01, stat.Empirical, x, nil)
	hi := stat.Quantile(0.99, stat.Empirical, x, nil)
	mean, std := stat.MeanStdDev(x, nil)
	logger.Info("insert window estimated",
		zap.Int("fragments", len(x)),
		zap.Float64("mean", mean),
		zap.Float64("std", std),
		zap.Float64("min", lo),
		zap.Float64("max", hi))
	return splicegraph.InsertWindow{Min: int64(math.Floor(lo)), Max: int64(math.Ceil(hi))}
}
