package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/locus"
	"github.com/inodb/isodecon/internal/store"
)

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn [flags] <name> <alignments.bam>",
		Short: "Learn and store a positional bias profile",
		Long: `Learn the read-start bias profile, insert-size window and read length from
the single-isoform loci and store the profile under <name> in --database.
Later runs reuse it with 'quant --profile <name>'.`,
		Example: `  isodecon learn -g genes.gtf --database runs.duckdb liver reads.bam`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set("alignments.path", args[1])
			return runLearn(cmd.Context(), args[0])
		},
	}
	keys := inputFlags(cmd)
	cmd.Flags().Int("resolution", bias.DefaultResolution, "Relative-position cells per length bin")
	keys["bias.resolution"] = "resolution"
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, keys)
	}
	return cmd
}

func runLearn(parent context.Context, name string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Run.Database == "" {
		return fmt.Errorf("learn needs --database to store the profile")
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

	learned, err := locus.Learn(ctx, loci, src, cfg.LearnOptions(), logger)
	if errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Run.Database)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()
	if err := db.SaveProfile(name, learned.Profile); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("name", name),
		zap.String("database", cfg.Run.Database),
		zap.Int("loci", learned.Loci),
		zap.Int("reads", learned.Reads),
		zap.Int64("read_length", learned.ReadLength),
	}
	if cfg.Alignments.Paired {
		fields = append(fields,
			zap.Int64("insert_min", learned.Insert.Min),
			zap.Int64("insert_max", learned.Insert.Max))
	}
	logger.Info("stored bias profile", fields...)
	return nil
}
