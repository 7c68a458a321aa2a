package locus

import (
	"github.com/inodb/isodecon/internal/lp"
	"github.com/inodb/isodecon/internal/mapping"
)

// Method is how a locus's abundances were obtained.
type Method int

const (
	MethodNone         Method = iota // Failed or not solved
	MethodSingle                     // Single-transcript fast path
	MethodEmpty                      // No counted reads
	MethodLP                         // Linear program
	MethodProportional               // Over the variable ceiling
)

func (m Method) String() string {
	switch m {
	case MethodSingle:
		return "single"
	case MethodEmpty:
		return "empty"
	case MethodLP:
		return "lp"
	case MethodProportional:
		return "proportional"
	}
	return "none"
}

// Transcript is the expression of one transcript.
type Transcript struct {
	ID           string
	GeneID       string
	ExonicLength int64
	Reads        float64 // Reads attributed to the transcript
	Abundance    float64 // Reads per kilobase of exonic length
}

// Result is the outcome of solving one locus. It is immutable once emitted.
type Result struct {
	Seq         int // Position of the locus in the run's input order
	Locus       string
	Chrom       string
	Start       int64
	End         int64
	Strand      int8
	State       State
	Method      Method
	Status      lp.Status // Meaningful when Method is MethodLP or the locus failed in the solver
	Transcripts []Transcript
	Stats       Stats
	Err         error // Set when State is Failed for a reason other than the solver status
}

// OK reports whether the locus produced abundances.
func (r *Result) OK() bool {
	return r.State == Normalized
}

// Stats aggregates per-locus outcomes. Workers fill one Stats per locus and
// a single collector merges them.
type Stats struct {
	Mapping        mapping.Stats
	Loci           int
	Solved         int // Loci solved by the linear program
	Single         int // Single-transcript fast path
	Empty          int // Loci without counted reads
	Degraded       int // Over the variable ceiling
	Failed         int
	OverPredicted  int // LP loci whose raw prediction exceeded the observed reads
	UnderPredicted int // LP loci whose raw prediction fell short of them
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Mapping.Merge(o.Mapping)
	s.Loci += o.Loci
	s.Solved += o.Solved
	s.Single += o.Single
	s.Empty += o.Empty
	s.Degraded += o.Degraded
	s.Failed += o.Failed
	s.OverPredicted += o.OverPredicted
	s.UnderPredicted += o.UnderPredicted
}
