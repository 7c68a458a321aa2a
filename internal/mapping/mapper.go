// Package mapping resolves read alignments onto the links of a locus splice
// graph and tallies per-link sense and antisense counts.
package mapping

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// Library is the strandedness protocol of the sequencing library.
type Library string

const (
	// Unstranded libraries are counted as if mate 1 came from the sense strand.
	Unstranded Library = "fr-unstranded"
	// SecondStrand libraries put mate 1 on the transcript strand.
	SecondStrand Library = "fr-secondstrand"
	// FirstStrand libraries (dUTP) put mate 1 on the opposite strand.
	FirstStrand Library = "fr-firststrand"
)

// ParseLibrary validates a library name. The empty string selects Unstranded.
func ParseLibrary(s string) (Library, error) {
	switch Library(s) {
	case "":
		return Unstranded, nil
	case Unstranded, SecondStrand, FirstStrand:
		return Library(s), nil
	}
	return "", fmt.Errorf("unknown library type %q (want %s, %s or %s)", s, Unstranded, SecondStrand, FirstStrand)
}

// Options configures a Mapper.
type Options struct {
	Paired     bool
	ReadLength int64 // Nominal read length used for paired-window geometry
	Insert     splicegraph.InsertWindow
	Library    Library
	KeepHits   bool // Record every counted read in Result.Hits
}

// Hit is one read counted on a link. Mates of a paired fragment are
// recorded individually with the fragment's direction.
type Hit struct {
	Aln  *alignment.Alignment
	Link *splicegraph.Link
	Dir  splicegraph.Direction
}

// Result is the outcome of mapping one locus.
type Result struct {
	Stats Stats
	Hits  []Hit
}

// Mapper maps alignments onto splice graphs. It holds no per-locus state
// and is safe for concurrent use on distinct graphs.
type Mapper struct {
	opts   Options
	logger *zap.Logger
}

// New creates a mapper.
func New(opts Options) *Mapper {
	if opts.Library == "" {
		opts.Library = Unstranded
	}
	return &Mapper{opts: opts, logger: zap.NewNop()}
}

// SetLogger sets the logger for debug messages.
func (m *Mapper) SetLogger(l *zap.Logger) {
	m.logger = l
}

// Options returns the mapper configuration.
func (m *Mapper) Options() Options {
	return m.opts
}

// direction orients a read against the locus. Mate 2 is flipped so both
// mates of a fragment share mate 1's direction.
func (m *Mapper) direction(g *splicegraph.Graph, a *alignment.Alignment) splicegraph.Direction {
	sense := a.Strand == g.Locus().Strand
	if m.opts.Library == FirstStrand {
		sense = !sense
	}
	if a.Paired && !a.First {
		sense = !sense
	}
	if sense {
		return splicegraph.Sense
	}
	return splicegraph.Antisense
}

// Map resolves alignments onto g and increments link counters. Alignments
// must all belong to the locus g was built from.
func (m *Mapper) Map(g *splicegraph.Graph, alns []*alignment.Alignment) Result {
	var res Result
	res.Stats.Alignments = len(alns)
	if !m.opts.Paired {
		for _, a := range alns {
			m.single(g, a, &res)
		}
		return res
	}

	byName := make(map[string][]*alignment.Alignment)
	var order []string
	for _, a := range alns {
		k := a.Key()
		if _, ok := byName[k]; !ok {
			order = append(order, k)
		}
		byName[k] = append(byName[k], a)
	}
	for _, k := range order {
		mates := byName[k]
		if len(mates) != 2 {
			res.Stats.Orphans += len(mates)
			for _, a := range mates {
				m.single(g, a, &res)
			}
			continue
		}
		m.pair(g, mates[0], mates[1], &res)
	}
	return res
}

func (m *Mapper) count(l *splicegraph.Link, a *alignment.Alignment, d splicegraph.Direction, res *Result) {
	l.Add(d)
	res.Stats.Mapped++
	if d == splicegraph.Sense {
		res.Stats.Sense++
	} else {
		res.Stats.Antisense++
	}
	if m.opts.KeepHits {
		res.Hits = append(res.Hits, Hit{Aln: a, Link: l, Dir: d})
	}
}

func (m *Mapper) tally(outcome splicegraph.Outcome, res *Result) {
	switch outcome {
	case splicegraph.Unannotated:
		res.Stats.Unannotated++
	case splicegraph.NoEvidence:
		res.Stats.NoEvidence++
	}
}

func (m *Mapper) single(g *splicegraph.Graph, a *alignment.Alignment, res *Result) {
	l, outcome := g.Resolve(a.Blocks)
	if outcome != splicegraph.Resolved {
		m.tally(outcome, res)
		return
	}
	m.count(l, a, m.direction(g, a), res)
}

// pair counts a fragment on its paired super-edge. When pairing fails, the
// mates that resolved alone are counted on their own links.
func (m *Mapper) pair(g *splicegraph.Graph, a, b *alignment.Alignment, res *Result) {
	la, oa := g.Resolve(a.Blocks)
	lb, ob := g.Resolve(b.Blocks)

	fallback := func() {
		if oa == splicegraph.Resolved {
			m.count(la, a, m.direction(g, a), res)
		} else {
			m.tally(oa, res)
		}
		if ob == splicegraph.Resolved {
			m.count(lb, b, m.direction(g, b), res)
		} else {
			m.tally(ob, res)
		}
	}

	if a.Strand == b.Strand {
		res.Stats.WrongOrientation++
		fallback()
		return
	}
	if oa != splicegraph.Resolved || ob != splicegraph.Resolved {
		fallback()
		return
	}

	left, right := a, b
	ll, lr := la, lb
	if b.Start < a.Start || (b.Start == a.Start && b.First) {
		left, right = b, a
		ll, lr = lb, la
	}
	p := g.Pair(ll, lr, m.opts.ReadLength, m.opts.Insert)
	if p == nil {
		res.Stats.PairNoEvidence++
		m.logger.Debug("pair without transcript evidence",
			zap.String("read", a.Name),
			zap.Stringer("left", ll),
			zap.Stringer("right", lr))
		fallback()
		return
	}

	first := a
	if !a.First {
		first = b
	}
	d := m.direction(g, first)
	p.Add(d)
	res.Stats.Fragments++
	res.Stats.Mapped++
	if d == splicegraph.Sense {
		res.Stats.Sense++
	} else {
		res.Stats.Antisense++
	}
	if m.opts.KeepHits {
		res.Hits = append(res.Hits,
			Hit{Aln: left, Link: ll, Dir: d},
			Hit{Aln: right, Link: lr, Dir: d})
	}
}

// LengthHistogram counts aligned read lengths.
type LengthHistogram map[int64]int

// Add records the aligned length of every alignment.
func (h LengthHistogram) Add(alns []*alignment.Alignment) {
	for _, a := range alns {
		h[a.AlignedLength()]++
	}
}

// Merge adds the counts of o into h.
func (h LengthHistogram) Merge(o LengthHistogram) {
	for k, v := range o {
		h[k] += v
	}
}

// Mode returns the most frequent length, preferring the longer on ties.
// It returns 0 for an empty histogram.
func (h LengthHistogram) Mode() int64 {
	keys := make([]int64, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	var best int64
	n := 0
	for _, k := range keys {
		if h[k] > n {
			best, n = k, h[k]
		}
	}
	return best
}
