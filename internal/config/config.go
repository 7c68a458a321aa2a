// Package config holds run-wide settings unmarshalled from Viper (see
// cmd/isodecon). Values come from the config file, ISODECON_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/constraint"
	"github.com/inodb/isodecon/internal/locus"
	"github.com/inodb/isodecon/internal/mapping"
)

// AnnotationConfig locates the transcript annotation.
type AnnotationConfig struct {
	// path to the GTF (optionally gzipped)
	GTF string `mapstructure:"gtf"`
	// transcript biotypes to keep; empty keeps all
	Biotypes []string `mapstructure:"biotypes"`
	// directory of the parsed-annotation cache; empty disables it
	CacheDir string `mapstructure:"cache-dir"`
}

// AlignmentConfig describes the read alignments.
type AlignmentConfig struct {
	Path    string `mapstructure:"path"`
	Threads int    `mapstructure:"threads"`
	MinMapQ int    `mapstructure:"min-mapq"`
	// drop records flagged as duplicates
	SkipDuplicates bool `mapstructure:"skip-duplicates"`
	Paired         bool `mapstructure:"paired"`
	// fr-unstranded, fr-secondstrand or fr-firststrand
	Library string `mapstructure:"library"`
	// nominal read length; 0 derives it from the alignments
	ReadLength int64 `mapstructure:"read-length"`
}

// BiasConfig controls the positional bias profile.
type BiasConfig struct {
	// learn a profile from single-isoform loci before solving
	Learn bool `mapstructure:"learn"`
	// name of a stored profile to use instead of learning
	Profile    string  `mapstructure:"profile"`
	Resolution int     `mapstructure:"resolution"`
	Cutoff     float64 `mapstructure:"cutoff"`
	// insert window used when not learned
	InsertMin int64 `mapstructure:"insert-min"`
	InsertMax int64 `mapstructure:"insert-max"`
}

// SolverConfig tunes the per-locus linear program.
type SolverConfig struct {
	// partition, gaussian or linear
	Strategy     string        `mapstructure:"strategy"`
	Segments     int           `mapstructure:"segments"`
	TailPenalty  float64       `mapstructure:"tail-penalty"`
	PairSamples  int           `mapstructure:"pair-samples"`
	MaxVariables int           `mapstructure:"max-variables"`
	Tolerance    float64       `mapstructure:"tolerance"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RunConfig controls scheduling and outputs.
type RunConfig struct {
	Workers int `mapstructure:"workers"`
	// write loci in input order
	Ordered bool `mapstructure:"ordered"`
	// tab-delimited output, "-" for stdout
	Output string `mapstructure:"output"`
	// DuckDB database for runs, results and profiles; empty disables it
	Database string `mapstructure:"database"`
}

// Config is the root-level settings struct.
type Config struct {
	Annotation AnnotationConfig `mapstructure:"annotation"`
	Alignments AlignmentConfig  `mapstructure:"alignments"`
	Bias       BiasConfig       `mapstructure:"bias"`
	Solver     SolverConfig     `mapstructure:"solver"`
	Run        RunConfig        `mapstructure:"run"`
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("alignments.threads", 1)
	v.SetDefault("alignments.library", string(mapping.Unstranded))
	v.SetDefault("bias.learn", true)
	v.SetDefault("bias.resolution", bias.DefaultResolution)
	v.SetDefault("bias.cutoff", bias.DefaultCutoff)
	v.SetDefault("bias.insert-min", bias.DefaultInsertWindow.Min)
	v.SetDefault("bias.insert-max", bias.DefaultInsertWindow.Max)
	v.SetDefault("solver.strategy", constraint.Partition.String())
	v.SetDefault("solver.segments", constraint.DefaultSegments)
	v.SetDefault("solver.tail-penalty", constraint.DefaultTailPenalty)
	v.SetDefault("solver.pair-samples", constraint.DefaultPairSamples)
	v.SetDefault("solver.max-variables", locus.DefaultMaxVariables)
	v.SetDefault("solver.timeout", time.Minute)
	v.SetDefault("run.workers", 1)
	v.SetDefault("run.output", "-")
}

// Load unmarshals and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings no run can use.
func (c *Config) Validate() error {
	if _, err := mapping.ParseLibrary(c.Alignments.Library); err != nil {
		return err
	}
	if _, err := constraint.ParseStrategy(c.Solver.Strategy); err != nil {
		return err
	}
	if c.Alignments.MinMapQ < 0 || c.Alignments.MinMapQ > 255 {
		return fmt.Errorf("alignments.min-mapq %d out of range [0,255]", c.Alignments.MinMapQ)
	}
	if c.Alignments.ReadLength < 0 {
		return fmt.Errorf("alignments.read-length %d must not be negative", c.Alignments.ReadLength)
	}
	if c.Bias.Cutoff < 0 || c.Bias.Cutoff >= 1 {
		return fmt.Errorf("bias.cutoff %g out of range [0,1)", c.Bias.Cutoff)
	}
	if c.Bias.InsertMin > c.Bias.InsertMax {
		return fmt.Errorf("bias.insert-min %d exceeds bias.insert-max %d", c.Bias.InsertMin, c.Bias.InsertMax)
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers %d must be at least 1", c.Run.Workers)
	}
	return nil
}

// LocusOptions converts the settings to solver options. The read length and
// insert window may be replaced by learned values.
func (c *Config) LocusOptions() locus.Options {
	lib, _ := mapping.ParseLibrary(c.Alignments.Library)
	strategy, _ := constraint.ParseStrategy(c.Solver.Strategy)
	return locus.Options{
		ReadLength:   c.Alignments.ReadLength,
		Paired:       c.Alignments.Paired,
		Library:      lib,
		Strategy:     strategy,
		Segments:     c.Solver.Segments,
		TailPenalty:  c.Solver.TailPenalty,
		PairSamples:  c.Solver.PairSamples,
		MaxVariables: c.Solver.MaxVariables,
	}
}

// LearnOptions converts the settings to learning-pass options.
func (c *Config) LearnOptions() locus.LearnOptions {
	lib, _ := mapping.ParseLibrary(c.Alignments.Library)
	return locus.LearnOptions{
		ReadLength: c.Alignments.ReadLength,
		Paired:     c.Alignments.Paired,
		Library:    lib,
		Resolution: c.Bias.Resolution,
		Cutoff:     c.Bias.Cutoff,
		Workers:    c.Run.Workers,
	}
}
