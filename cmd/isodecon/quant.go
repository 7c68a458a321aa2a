package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/config"
	"github.com/inodb/isodecon/internal/locus"
	"github.com/inodb/isodecon/internal/lp"
	"github.com/inodb/isodecon/internal/output"
	"github.com/inodb/isodecon/internal/splicegraph"
	"github.com/inodb/isodecon/internal/store"
)

// inputFlags registers the flags shared by quant and learn.
func inputFlags(cmd *cobra.Command) map[string]string {
	f := cmd.Flags()
	f.StringP("gtf", "g", "", "Transcript annotation GTF (optionally .gz)")
	f.StringSlice("biotypes", nil, "Only load transcripts of these biotypes")
	f.String("cache-dir", "", "Directory for the parsed-annotation cache")
	f.Int("threads", 1, "BAM decompression threads")
	f.Int("min-mapq", 0, "Minimum mapping quality")
	f.Bool("skip-duplicates", false, "Drop reads flagged as duplicates")
	f.Bool("paired", false, "Count paired-end fragments")
	f.String("library", "fr-unstranded", "Library type: fr-unstranded, fr-secondstrand, fr-firststrand")
	f.Int64("read-length", 0, "Nominal read length (0: most frequent aligned length)")
	f.IntP("workers", "j", 1, "Loci solved in parallel")
	f.String("database", "", "DuckDB database for runs, results and bias profiles")

	return map[string]string{
		"annotation.gtf":             "gtf",
		"annotation.biotypes":        "biotypes",
		"annotation.cache-dir":       "cache-dir",
		"alignments.threads":         "threads",
		"alignments.min-mapq":        "min-mapq",
		"alignments.skip-duplicates": "skip-duplicates",
		"alignments.paired":          "paired",
		"alignments.library":         "library",
		"alignments.read-length":     "read-length",
		"run.workers":                "workers",
		"run.database":               "database",
	}
}

// bindFlags binds config keys to the flags of the command being run. Binding
// happens at run time because quant and learn share key names.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func newQuantCmd() *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "quant [flags] <alignments.bam>",
		Short: "Estimate transcript abundances",
		Long: `Estimate per-transcript abundances from a BAM or SAM file ('-' for SAM on
stdin). Loci are solved in parallel; SIGINT or SIGTERM stops dispatching
new loci and writes the ones in flight before exiting.`,
		Example: `  isodecon quant -g genes.gtf reads.bam
  isodecon quant -g genes.gtf --paired --library fr-firststrand -j 8 -o out.tsv reads.bam
  isodecon quant -g genes.gtf --database runs.duckdb --profile liver reads.bam`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set("alignments.path", args[0])
			return runQuant(cmd.Context(), summary)
		},
	}

	keys := inputFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file (default: stdout)")
	f.Bool("ordered", false, "Write loci in annotation order")
	f.String("strategy", "partition", "Slack cost: partition, gaussian, linear")
	f.Int("max-variables", locus.DefaultMaxVariables, "Largest program solved before splitting proportionally")
	f.Duration("timeout", time.Minute, "Per-locus solver time limit")
	f.Bool("learn", true, "Learn the bias profile from single-isoform loci")
	f.String("profile", "", "Use the named bias profile from --database")
	f.StringVar(&summary, "summary", "", "Write run statistics to this file ('-' for stderr)")

	keys["run.output"] = "output"
	keys["run.ordered"] = "ordered"
	keys["solver.strategy"] = "strategy"
	keys["solver.max-variables"] = "max-variables"
	keys["solver.timeout"] = "timeout"
	keys["bias.learn"] = "learn"
	keys["bias.profile"] = "profile"
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, keys)
	}
	return cmd
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// model is the bias model and fragment geometry a run solves with.
type model struct {
	profile    *bias.Profile
	insert     splicegraph.InsertWindow
	readLength int64
}

// resolveModel loads, learns or defaults the bias profile and fills in the
// read length.
func resolveModel(ctx context.Context, cfg *config.Config, db *store.Store, loci []*annotation.Locus,
	src alignment.Source, logger *zap.Logger) (*model, error) {

	m := &model{
		insert:     splicegraph.InsertWindow{Min: cfg.Bias.InsertMin, Max: cfg.Bias.InsertMax},
		readLength: cfg.Alignments.ReadLength,
	}
	switch {
	case cfg.Bias.Profile != "":
		if db == nil {
			return nil, fmt.Errorf("bias.profile requires run.database")
		}
		p, err := db.LoadProfile(cfg.Bias.Profile, logger)
		if err != nil {
			return nil, err
		}
		m.profile = p
	case cfg.Bias.Learn:
		learned, err := locus.Learn(ctx, loci, src, cfg.LearnOptions(), logger)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if err != nil {
			logger.Warn("bias learning failed, using a uniform profile", zap.Error(err))
			break
		}
		m.profile = learned.Profile
		m.readLength = learned.ReadLength
		if cfg.Alignments.Paired {
			m.insert = learned.Insert
		}
	}
	if m.profile == nil {
		m.profile = bias.Uniform(nil, cfg.Bias.Resolution)
		m.profile.Cutoff = cfg.Bias.Cutoff
		m.profile.SetLogger(logger)
	}
	if m.readLength <= 0 {
		var err error
		if m.readLength, err = readLengthMode(loci, src); err != nil {
			return nil, err
		}
		if m.readLength <= 0 {
			return nil, fmt.Errorf("cannot derive the read length: no alignments on any locus")
		}
		logger.Info("read length from alignments", zap.Int64("read_length", m.readLength))
	}
	return m, nil
}

func runQuant(parent context.Context, summary string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signalContext(parent)
	defer stop()

	a, err := loadAnnotation(cfg, logger)
	if err != nil {
		return err
	}
	loci := a.Loci()
	src, closeSrc, err := loadAlignments(cfg, loci, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeSrc()) }()

	var db *store.Store
	if cfg.Run.Database != "" {
		if db, err = store.Open(cfg.Run.Database); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
	}

	m, err := resolveModel(ctx, cfg, db, loci, src, logger)
	if errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	if err != nil {
		return err
	}

	opts := cfg.LocusOptions()
	opts.ReadLength = m.readLength
	opts.Insert = m.insert
	simplex := lp.NewSimplex(cfg.Solver.Tolerance, cfg.Solver.Timeout)
	simplex.SetLogger(logger)
	solver := locus.NewSolver(opts, m.profile, simplex)
	solver.SetLogger(logger)

	out, closeOut, err := openOutput(cfg.Run.Output)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeOut()) }()
	tab := output.NewTabWriter(out)
	if err := tab.WriteHeader(); err != nil {
		return err
	}
	writers := fanout{tab}

	var (
		runID string
		rw    *store.ResultWriter
	)
	if db != nil {
		runID, err = db.BeginRun(store.RunInfo{
			Annotation: cfg.Annotation.GTF,
			Alignments: cfg.Alignments.Path,
			Strategy:   cfg.Solver.Strategy,
			Library:    string(opts.Library),
			Paired:     opts.Paired,
			ReadLength: opts.ReadLength,
		})
		if err != nil {
			return err
		}
		if rw, err = db.NewResultWriter(ctx, runID); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, rw.Close()) }()
		writers = append(writers, rw)
	}

	logger.Info("solving loci",
		zap.Int("loci", len(loci)),
		zap.Int("workers", cfg.Run.Workers),
		zap.Stringer("strategy", opts.Strategy),
		zap.Int64("read_length", opts.ReadLength),
		zap.Bool("paired", opts.Paired))

	pool := locus.NewPool(solver, src, cfg.Run.Workers)
	pool.SetLogger(logger)
	pool.SetOrdered(cfg.Run.Ordered)
	stats, runErr := pool.Run(ctx, loci, writers)

	err = multierr.Append(err, tab.Flush())
	if db != nil {
		err = multierr.Append(err, rw.Flush())
		err = multierr.Append(err, db.FinishRun(runID, stats))
	}
	if err := writeSummary(summary, stats); err != nil {
		logger.Warn("could not write summary", zap.Error(err))
	}
	logger.Info("run finished",
		zap.Int("loci", stats.Loci),
		zap.Int("solved", stats.Solved),
		zap.Int("single", stats.Single),
		zap.Int("degraded", stats.Degraded),
		zap.Int("failed", stats.Failed),
		zap.Int("mapped", stats.Mapping.Mapped))

	switch {
	case errors.Is(runErr, context.Canceled):
		logger.Warn("run interrupted; results of completed loci were written", zap.Int("loci", stats.Loci))
		return multierr.Append(err, errInterrupted)
	case runErr != nil:
		return multierr.Append(err, runErr)
	}
	return err
}

// openOutput opens path for writing; "-" and "" select stdout.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

func writeSummary(path string, stats locus.Stats) error {
	switch path {
	case "":
		return nil
	case "-":
		return output.WriteSummary(os.Stderr, stats)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	return multierr.Append(output.WriteSummary(f, stats), f.Close())
}
