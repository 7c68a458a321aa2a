package main

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/config"
	"github.com/inodb/isodecon/internal/locus"
	"github.com/inodb/isodecon/internal/mapping"
	"github.com/inodb/isodecon/internal/store"
)

// loadAnnotation parses the GTF, going through the gob cache when one is
// configured and still matches the file.
func loadAnnotation(cfg *config.Config, logger *zap.Logger) (*annotation.Annotation, error) {
	path := cfg.Annotation.GTF
	if path == "" {
		return nil, fmt.Errorf("annotation.gtf is required")
	}
	start := time.Now()

	var (
		ac *store.AnnotationCache
		fp store.FileFingerprint
	)
	if cfg.Annotation.CacheDir != "" {
		var err error
		if fp, err = store.StatFile(path); err != nil {
			return nil, fmt.Errorf("stat GTF: %w", err)
		}
		ac = store.NewAnnotationCache(cfg.Annotation.CacheDir)
		if ac.Valid(fp, cfg.Annotation.Biotypes) {
			a := annotation.New()
			err := ac.Load(a)
			if err == nil {
				logger.Info("loaded annotation from cache",
					zap.String("dir", cfg.Annotation.CacheDir),
					zap.Int("transcripts", a.TranscriptCount()),
					zap.Duration("elapsed", time.Since(start)))
				return a, nil
			}
			logger.Warn("annotation cache unreadable, reparsing", zap.Error(err))
		}
	}

	a := annotation.New()
	loader := annotation.NewGTFLoader(path)
	loader.SetBiotypes(cfg.Annotation.Biotypes)
	if err := loader.Load(a); err != nil {
		return nil, fmt.Errorf("load annotation: %w", err)
	}
	logger.Info("loaded annotation",
		zap.String("gtf", path),
		zap.Int("transcripts", a.TranscriptCount()),
		zap.Duration("elapsed", time.Since(start)))

	if ac != nil {
		if err := ac.Write(a, fp, cfg.Annotation.Biotypes); err != nil {
			logger.Warn("could not write annotation cache", zap.Error(err))
		}
	}
	return a, nil
}

// loadAlignments opens the alignment source. An indexed BAM is queried per
// locus; other inputs are read once into memory, keeping only alignments
// that overlap a locus.
func loadAlignments(cfg *config.Config, loci []*annotation.Locus, logger *zap.Logger) (alignment.Source, func() error, error) {
	path := cfg.Alignments.Path
	if path == "" {
		return nil, nil, fmt.Errorf("alignments.path is required")
	}
	filter := alignment.Filter{
		SkipDuplicates: cfg.Alignments.SkipDuplicates,
		MinMapQ:        byte(cfg.Alignments.MinMapQ),
	}
	if path != "-" {
		if bai := alignment.IndexPath(path); bai != "" {
			x, err := alignment.OpenIndexed(path, bai, cfg.Alignments.Threads, filter, cfg.Run.Workers)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("querying indexed alignments", zap.String("path", path), zap.String("index", bai))
			return x, x.Close, nil
		}
	}
	logger.Warn("no BAM index, reading alignments into memory", zap.String("path", path))
	idx, err := buildIndex(path, cfg.Alignments.Threads, filter, loci, logger)
	if err != nil {
		return nil, nil, err
	}
	return idx, func() error { return nil }, nil
}

func buildIndex(path string, threads int, filter alignment.Filter, loci []*annotation.Locus,
	logger *zap.Logger) (_ *alignment.Index, err error) {

	start := time.Now()
	r, err := alignment.NewReader(path, threads, filter)
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	idx, err := alignment.Build(r, annotation.BuildLocusIndex(loci))
	if err != nil {
		return nil, fmt.Errorf("read alignments: %w", err)
	}
	logger.Info("indexed alignments",
		zap.String("path", path),
		zap.Int("records", r.Records()),
		zap.Int("skipped", r.Skipped()),
		zap.Int("indexed", idx.Len()),
		zap.Int("intergenic", idx.Intergenic()),
		zap.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// readLengthSample bounds the alignments readLengthMode looks at.
const readLengthSample = 1_000_000

// readLengthMode returns the most frequent aligned length over the first
// loci holding readLengthSample alignments.
func readLengthMode(loci []*annotation.Locus, src alignment.Source) (int64, error) {
	h := make(mapping.LengthHistogram)
	n := 0
	for _, loc := range loci {
		alns, err := src.Overlapping(loc.Chrom, loc.Start-1, loc.End)
		if err != nil {
			return 0, err
		}
		h.Add(alns)
		if n += len(alns); n >= readLengthSample {
			break
		}
	}
	return h.Mode(), nil
}

// fanout writes each result to every writer. Pool writes come from one
// goroutine, so writers see results in the same order.
type fanout []locus.ResultWriter

func (f fanout) WriteLocus(r *locus.Result) error {
	for _, w := range f {
		if err := w.WriteLocus(r); err != nil {
			return err
		}
	}
	return nil
}
