package locus

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/constraint"
)

// PredictionTolerance is the relative gap between the reads a solution
// places on the program's rows and the observed reads that is tolerated
// before a locus is tallied as over- or under-predicted.
const PredictionTolerance = 0.01

// Normalization is the rescaled expression of one solved locus.
type Normalization struct {
	Reads     []float64
	Abundance []float64
	Predicted float64 // Reads placed on rows by the raw solution
	Observed  float64
}

// OverPredicted reports whether the raw solution placed more reads on the
// program's rows than were observed.
func (n Normalization) OverPredicted() bool {
	return n.Predicted > n.Observed*(1+PredictionTolerance)+PredictionTolerance
}

// UnderPredicted reports whether the raw solution placed fewer reads on the
// program's rows than were observed.
func (n Normalization) UnderPredicted() bool {
	return n.Predicted < n.Observed*(1-PredictionTolerance)-PredictionTolerance
}

// Normalize turns a raw solution into per-transcript reads and abundances.
// Each transcript's contributions are divided by its expected share of reads
// on the rows, the results are rescaled to the observed reads, and the
// rescaled reads are corrected by the profile's NFactor and reported per
// kilobase of exonic length. Non-finite intermediates are logged and zeroed.
func Normalize(transcripts []*annotation.Transcript, x []float64, lay *constraint.Layout, profile *bias.Profile, logger *zap.Logger) Normalization {
	n := len(transcripts)
	out := Normalization{
		Reads:     make([]float64, n),
		Abundance: make([]float64, n),
		Observed:  lay.Observed,
	}

	raw := make([]float64, n)
	for t := range transcripts {
		var sum float64
		for _, v := range lay.Contribs[t] {
			sum += x[v]
		}
		out.Predicted += finite(sum, "contribution sum", transcripts[t], logger)
		if lay.CCheck[t] > 0 {
			raw[t] = finite(sum/lay.CCheck[t], "raw reads", transcripts[t], logger)
		}
	}

	total := floats.Sum(raw)
	if total <= 0 {
		return out
	}
	scale := lay.Observed / total
	for t, tr := range transcripts {
		out.Reads[t] = finite(raw[t]*scale, "reads", tr, logger)
		out.Abundance[t] = finite(rpk(out.Reads[t]*profile.NFactor(tr.ExonicLength()), tr), "abundance", tr, logger)
	}
	return out
}

// rpk reports reads per kilobase of t's exonic length.
func rpk(reads float64, t *annotation.Transcript) float64 {
	length := t.ExonicLength()
	if length <= 0 {
		return 0
	}
	return reads / (float64(length) / 1000)
}

func finite(v float64, what string, t *annotation.Transcript, logger *zap.Logger) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		logger.Warn("non-finite value replaced by 0",
			zap.String("value", what),
			zap.String("transcript", t.ID),
			zap.Float64("raw", v))
		return 0
	}
	return v
}
