// Package constraint turns a mapped splice graph into a linear program that
// redistributes link read counts over transcripts.
//
// For every counted link and direction the program has a deconvolution row
//
//	sum_t x(t,link,dir) + s+ - s- = observed
//
// and, for every member transcript, a flux row
//
//	x(t,link,dir) - f(t,link,dir) * C_t = 0
//
// where f is the bias-weighted share of t's reads expected on the link and
// C_t is the transcript's total read count. The slack variables carry the
// cost selected by the Strategy.
package constraint

import (
	"fmt"
	"math"
)

// Strategy selects how deviations between observed and expected counts are
// charged. It is chosen once per run.
type Strategy int

const (
	// Partition charges a piecewise-linear Gaussian penalty centred on the
	// count the link's partition predicts, with variance calibrated from the
	// partition, capped at the 1% deviation.
	Partition Strategy = iota
	// Gaussian charges a piecewise-linear Gaussian penalty with Poisson
	// variance and an uncapped, expensive overflow segment.
	Gaussian
	// Linear charges one unit per read of deviation.
	Linear
)

var strategyNames = map[Strategy]string{
	Partition: "partition",
	Gaussian:  "gaussian",
	Linear:    "linear",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown solver strategy %q (want partition, gaussian or linear)", name)
}

// z is the two-sided 1% quantile of the standard normal.
const z = 2.576

// segment is one piece of a slack variable's cost.
type segment struct {
	cost  float64
	upper float64 // +Inf when uncapped
}

// segments returns the pieces of one slack direction for a deviation with
// variance sigma2. Slopes follow the -log density of N(0, sigma2) over K
// equal pieces up to z*sigma.
func segments(k int, sigma2, tailPenalty float64, overflow bool) []segment {
	sigma := math.Sqrt(sigma2)
	w := z * sigma / float64(k)
	out := make([]segment, 0, k+1)
	for i := 0; i < k; i++ {
		out = append(out, segment{
			cost:  float64(2*i+1) * w / (2 * sigma2),
			upper: w,
		})
	}
	last := out[k-1].cost * tailPenalty
	if overflow {
		out = append(out, segment{cost: last, upper: math.Inf(1)})
	} else {
		out[k-1].cost = last
	}
	return out
}

// centred returns the pieces of both slack directions for a penalty with
// variance sigma2 whose minimum lies at slack c, that is where the row's
// contributions sum to obs-c. Slopes left of c are negative; both
// directions still cost at least zero together since slopes increase. c is
// clamped so that zero slack stays inside the capped band.
func centred(k int, sigma2, tailPenalty, c float64) [2][]segment {
	sigma := math.Sqrt(sigma2)
	half := z * sigma
	w := half / float64(k)
	c = max(-(half - w), min(half-w, c))

	type piece struct{ lo, hi, slope float64 }
	pieces := make([]piece, 0, 2*k)
	for i := k - 1; i >= 0; i-- {
		slope := -float64(2*i+1) * w / (2 * sigma2)
		if i == k-1 {
			slope *= tailPenalty
		}
		pieces = append(pieces, piece{c - float64(i+1)*w, c - float64(i)*w, slope})
	}
	for i := 0; i < k; i++ {
		slope := float64(2*i+1) * w / (2 * sigma2)
		if i == k-1 {
			slope *= tailPenalty
		}
		pieces = append(pieces, piece{c + float64(i)*w, c + float64(i+1)*w, slope})
	}

	var out [2][]segment
	for _, p := range pieces {
		if lo := max(p.lo, 0); p.hi > lo {
			out[0] = append(out[0], segment{cost: p.slope, upper: p.hi - lo})
		}
	}
	for i := len(pieces) - 1; i >= 0; i-- {
		p := pieces[i]
		if hi := min(p.hi, 0); hi > p.lo {
			out[1] = append(out[1], segment{cost: -p.slope, upper: hi - p.lo})
		}
	}
	return out
}

// both uses segs for either slack direction.
func both(segs []segment) [2][]segment {
	return [2][]segment{segs, segs}
}

// slackCost returns the cost pieces of the adding and the subtracting slack
// of a row.
func (b *Builder) slackCost(r *rowSpec) [2][]segment {
	if r.degenerate {
		return both([]segment{{cost: 0, upper: math.Inf(1)}})
	}
	switch b.opts.Strategy {
	case Linear:
		return both([]segment{{cost: 1, upper: math.Inf(1)}})
	case Gaussian:
		return both(segments(b.opts.Segments, r.obs+1, b.opts.TailPenalty, true))
	}
	le := float64(r.effLen)
	return centred(b.opts.Segments, r.obs+r.variance*le*le+1, b.opts.TailPenalty, r.obs-r.expected)
}
