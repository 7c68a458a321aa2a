// Package bias models positional read-start bias along transcripts.
//
// A Profile holds, per transcript-length bin, two coverage tracks (sense and
// antisense) of Resolution cells over relative 5'->3' position. Each track is
// normalized to mean 1, so a uniform profile is all ones.
package bias

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// DefaultBounds are the default upper bounds of the length bins.
var DefaultBounds = []float64{1000, 2000, 4000, 8000, math.Inf(1)}

// DefaultResolution is the default number of relative-position cells.
const DefaultResolution = 100

// DefaultCutoff is the default track value under which profile mass counts
// as lost to the normalization factor.
const DefaultCutoff = 0.1

// Bin is one length bin of a profile.
type Bin struct {
	Upper     float64   // Exclusive upper bound on exonic length
	Reads     int       // Read starts the bin was learned from
	Sense     []float64 // Mean-1 track
	Antisense []float64 // Mean-1 track
}

// Track returns the track for direction d.
func (b *Bin) Track(d splicegraph.Direction) []float64 {
	if d == splicegraph.Antisense {
		return b.Antisense
	}
	return b.Sense
}

// Profile is a learned or uniform positional bias model. It is read-only
// once built and safe for concurrent use.
type Profile struct {
	Resolution int
	Cutoff     float64
	Bins       []Bin

	logger *zap.Logger
}

// Uniform returns a profile in which every start position is equally likely.
func Uniform(bounds []float64, resolution int) *Profile {
	if len(bounds) == 0 {
		bounds = DefaultBounds
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	p := &Profile{Resolution: resolution, Cutoff: DefaultCutoff, logger: zap.NewNop()}
	for _, u := range bounds {
		p.Bins = append(p.Bins, Bin{Upper: u, Sense: ones(resolution), Antisense: ones(resolution)})
	}
	return p
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// SetLogger sets the logger for numeric warnings.
func (p *Profile) SetLogger(l *zap.Logger) {
	p.logger = l
}

// Validate checks bin bounds and track sizes.
func (p *Profile) Validate() error {
	if p.Resolution <= 0 {
		return fmt.Errorf("bias profile: resolution %d must be positive", p.Resolution)
	}
	if len(p.Bins) == 0 {
		return fmt.Errorf("bias profile: no length bins")
	}
	for i, b := range p.Bins {
		if i > 0 && b.Upper <= p.Bins[i-1].Upper {
			return fmt.Errorf("bias profile: bin bounds not increasing at %d", i)
		}
		if len(b.Sense) != p.Resolution || len(b.Antisense) != p.Resolution {
			return fmt.Errorf("bias profile: bin %d has %d/%d cells, want %d",
				i, len(b.Sense), len(b.Antisense), p.Resolution)
		}
	}
	if !math.IsInf(p.Bins[len(p.Bins)-1].Upper, 1) {
		return fmt.Errorf("bias profile: last bin must be unbounded")
	}
	return nil
}

// BinIndex returns the bin holding transcripts of the given exonic length.
func (p *Profile) BinIndex(length int64) int {
	i := sort.Search(len(p.Bins), func(i int) bool { return float64(length) < p.Bins[i].Upper })
	return min(i, len(p.Bins)-1)
}

// cellRange returns the first and last start position in [0, n) that map to
// cell c out of m.
func cellRange(c, m int, n int64) (int64, int64) {
	lo := (int64(c)*n + int64(m) - 1) / int64(m)
	hi := (int64(c+1)*n+int64(m)-1)/int64(m) - 1
	return lo, hi
}

// mass sums track weights over oriented start positions [lo, hi] of n.
func mass(track []float64, n, lo, hi int64) float64 {
	m := len(track)
	var s float64
	for c := range track {
		clo, chi := cellRange(c, m, n)
		a, b := max(clo, lo), min(chi, hi)
		if a <= b {
			s += float64(b-a+1) * track[c]
		}
	}
	return s
}

// massSlow is the per-position form of mass.
func massSlow(track []float64, n, lo, hi int64) float64 {
	m := int64(len(track))
	var s float64
	for x := lo; x <= hi; x++ {
		s += track[x*m/n]
	}
	return s
}

// Fraction returns the expected share of t's reads of length readLen in
// direction d whose left-to-right exonic start lies in [lo, hi].
func (p *Profile) Fraction(t *annotation.Transcript, lo, hi, readLen int64, d splicegraph.Direction) float64 {
	length := t.ExonicLength()
	n := length - readLen + 1
	if n <= 0 {
		return 0
	}
	lo, hi = max(lo, 0), min(hi, n-1)
	if lo > hi {
		return 0
	}
	// Oriented positions of the window's reads.
	olo, ohi := t.Oriented(lo, readLen), t.Oriented(hi, readLen)
	if olo > ohi {
		olo, ohi = ohi, olo
	}

	track := p.Bins[p.BinIndex(length)].Track(d)
	f := mass(track, n, olo, ohi) / mass(track, n, 0, n-1)
	if isFinite(f) {
		return f
	}
	f = massSlow(track, n, olo, ohi) / massSlow(track, n, 0, n-1)
	if isFinite(f) {
		return f
	}
	p.logger.Warn("non-finite bias fraction, using 0",
		zap.String("transcript", t.ID),
		zap.Int64("lo", lo),
		zap.Int64("hi", hi),
		zap.Stringer("direction", d))
	return 0
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NFactor returns 1/(1-m) where m is the share of the bin's profile mass in
// cells below Cutoff. A uniform profile gives 1.
func (p *Profile) NFactor(length int64) float64 {
	b := &p.Bins[p.BinIndex(length)]
	total := floats.Sum(b.Sense) + floats.Sum(b.Antisense)
	if total <= 0 {
		return 1
	}
	var low float64
	for _, track := range [][]float64{b.Sense, b.Antisense} {
		for _, v := range track {
			if v < p.Cutoff {
				low += v
			}
		}
	}
	m := low / total
	if m >= 1 || !isFinite(m) {
		return 1
	}
	return 1 / (1 - m)
}
