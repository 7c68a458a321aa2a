package locus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/mapping"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// LearnOptions configures a learning pass.
type LearnOptions struct {
	ReadLength int64 // 0 selects the most frequent aligned length
	Paired     bool
	Library    mapping.Library
	Bounds     []float64
	Resolution int
	Cutoff     float64
	Workers    int
}

// Learned is what a learning pass derives from the single-isoform loci.
type Learned struct {
	Profile    *bias.Profile
	Insert     splicegraph.InsertWindow
	ReadLength int64
	Loci       int // Single-isoform loci observed
	Reads      int // Read starts recorded in the profile
}

// partial is one locus's contribution to a learning pass.
type partial struct {
	acc    *bias.Accumulation
	mapped mapping.Stats
	err    error
}

// Learn builds the bias profile, the insert-size window and the nominal read
// length from the single-isoform loci among loci. Each locus is mapped on
// its own graph and the per-locus accumulations are merged by the calling
// goroutine.
func Learn(ctx context.Context, loci []*annotation.Locus, src alignment.Source, opts LearnOptions, logger *zap.Logger) (*Learned, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var singles []*annotation.Locus
	for _, loc := range loci {
		if len(loc.Transcripts) == 1 {
			singles = append(singles, loc)
		}
	}

	readLen := opts.ReadLength
	if readLen <= 0 {
		h := make(mapping.LengthHistogram)
		for _, loc := range singles {
			alns, err := alignmentsFor(src, loc)
			if err != nil {
				return nil, fmt.Errorf("learn: %w", err)
			}
			h.Add(alns)
		}
		readLen = h.Mode()
		if readLen <= 0 {
			return nil, fmt.Errorf("learn: no alignments on single-isoform loci to derive the read length")
		}
		logger.Info("read length from alignments", zap.Int64("read_length", readLen))
	}

	learner := bias.NewLearner(opts.Bounds, opts.Resolution, opts.Cutoff, readLen)
	learner.SetLogger(logger)
	// Mates are placed one at a time, so learning maps unpaired.
	mapper := mapping.New(mapping.Options{
		ReadLength: readLen,
		Library:    opts.Library,
		KeepHits:   true,
	})

	work := func(_ context.Context, _ int, loc *annotation.Locus) partial {
		alns, err := alignmentsFor(src, loc)
		if err != nil {
			return partial{err: err}
		}
		tr := loc.Transcripts[0]
		res := mapper.Map(splicegraph.Build(loc), alns)
		acc := learner.NewAccumulation()
		learner.Observe(acc, tr, res.Hits)
		if opts.Paired {
			acc.AddInserts(mapping.InsertSizes(tr, alns))
		}
		return partial{acc: acc, mapped: res.Stats}
	}

	total := learner.NewAccumulation()
	var stats mapping.Stats
	emit := func(p partial) error {
		if p.err != nil {
			return p.err
		}
		stats.Merge(p.mapped)
		return total.Merge(p.acc)
	}
	if err := dispatch(ctx, max(opts.Workers, 1), singles, work, emit, logger); err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}

	out := &Learned{
		Profile:    learner.Finish(total),
		Insert:     splicegraph.InsertWindow{},
		ReadLength: readLen,
		Loci:       len(singles),
		Reads:      total.Reads(),
	}
	if opts.Paired {
		out.Insert = bias.InsertWindow(total.Inserts(), logger)
	}
	logger.Info("learned bias profile",
		zap.Int("loci", out.Loci),
		zap.Int("read_starts", out.Reads),
		zap.Int("mapped", stats.Mapped),
		zap.Int64("insert_min", out.Insert.Min),
		zap.Int64("insert_max", out.Insert.Max))
	return out, nil
}
