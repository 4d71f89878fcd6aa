// Package pipeline wires the Reader/Parser/Splitter/BinWriter stage and the
// BinReader/Hasher/Distributor/OutputFilter stage into the two runnable
// entry points spec.md §6 names: a full run, and `--bin-stats-only {1|2}`
// for running either stage in isolation against a shared tmp directory
// (spec §8 P5: stage independence).
package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/kmer"
	"github.com/biostreamio/kmerflow/output"
)

// Config is every knob spec §6's CLI surface exposes, flattened into one
// struct validated once before any stage runs (SPEC_FULL.md §2.3).
type Config struct {
	InputPath  string
	TmpDir     string
	OutputPath string

	K int
	M int // minimizer size, must be > 0; cmd/kmerflow fills in planner.DefaultMinimizerSize(B) when -m is absent
	B int // bin (temp-file) count, ideally a power of 4

	Threads int // shared thread budget; clamped per-stage (splitter <=4, hasher as given)
	GPU     bool

	MemoryMB int // must be > 0 (the planner rejects 0); cmd/kmerflow fills in planner.DefaultMemoryBudgetMB() when -e is absent

	ThresholdMin uint32
	Normalize    bool
	OutputFormat output.Format

	Coverage       int
	ErrorRate      float64 // explicit ε; 0 means "estimate or default"
	MinProbability float64
	SkipEstimate   bool

	BinStatsOnly int // 0 = run both stages, 1 = stage 1 only, 2 = stage 2 only
	LeaveBinStat bool
	Histogram    bool

	MaxReadAhead int // distributor read-ahead bound; 0 selects a safe default

	Log zerolog.Logger
}

// Validate performs the ConfigError checks spec §7 requires before any stage
// starts: out-of-range k/m, m >= k, B larger than 4^m, and the assorted
// "must be positive" checks the rest of the pipeline assumes have already
// been done. It does not check the memory budget; the planner reports a
// budget too small for its minimum buffers as a CapacityError.
func (c Config) Validate() error {
	if c.InputPath == "" {
		return kerrors.Config("pipeline", errMissingField{"input path"})
	}
	if c.TmpDir == "" {
		return kerrors.Config("pipeline", errMissingField{"tmp dir"})
	}
	if c.OutputPath == "" {
		return kerrors.Config("pipeline", errMissingField{"output path"})
	}
	if err := kmer.Validate(c.K); err != nil {
		return kerrors.Config("pipeline", err)
	}
	if c.M <= 0 {
		return kerrors.Config("pipeline", errMissingField{"minimizer size"})
	}
	if c.M >= c.K {
		return kerrors.Config("pipeline", errBadMinimizer{c.M, c.K})
	}
	if c.B <= 0 {
		return kerrors.Config("pipeline", errMissingField{"bin count"})
	}
	maxMinimizers := int64(1) << uint(2*c.M)
	if int64(c.B) > maxMinimizers {
		return kerrors.Config("pipeline", errTooManyBins{c.B, c.M, maxMinimizers})
	}
	if c.Threads <= 0 {
		return kerrors.Config("pipeline", errMissingField{"thread count"})
	}
	if c.ThresholdMin < 1 {
		return kerrors.Config("pipeline", errMissingField{"threshold_min"})
	}
	if c.Coverage < 0 {
		return kerrors.Config("pipeline", errMissingField{"coverage"})
	}
	if c.MinProbability <= 0 || c.MinProbability >= 1 {
		return kerrors.Config("pipeline", errBadProbability{c.MinProbability})
	}
	if c.BinStatsOnly != 0 && c.BinStatsOnly != 1 && c.BinStatsOnly != 2 {
		return kerrors.Config("pipeline", errBadStageSelector{c.BinStatsOnly})
	}
	return nil
}

type errMissingField struct{ field string }

func (e errMissingField) Error() string { return "missing or invalid " + e.field }

type errBadMinimizer struct{ m, k int }

func (e errBadMinimizer) Error() string {
	return "minimizer size must be smaller than k-mer size"
}

type errTooManyBins struct {
	b, m int
	max  int64
}

func (e errTooManyBins) Error() string {
	return "bin count exceeds 4^minimizer_size distinct minimizers"
}

type errBadProbability struct{ p float64 }

func (e errBadProbability) Error() string { return "min-probability must be in (0,1)" }

type errBadStageSelector struct{ v int }

func (e errBadStageSelector) Error() string { return "bin-stats-only must be 0, 1, or 2" }

// LogSummary emits a single structured parameter banner before any stage
// runs (SPEC_FULL.md §4, restoring Gerbil's printParamsInfo via the
// structured logger instead of raw printf).
func (c Config) LogSummary() {
	c.Log.Info().
		Str("input", c.InputPath).
		Str("tmp", c.TmpDir).
		Str("output", c.OutputPath).
		Int("k", c.K).
		Int("m", c.M).
		Int("bins", c.B).
		Int("threads", c.Threads).
		Bool("gpu", c.GPU).
		Int("memory_mb", c.MemoryMB).
		Uint32("threshold_min", c.ThresholdMin).
		Bool("normalize", c.Normalize).
		Int("coverage", c.Coverage).
		Float64("error_rate", c.ErrorRate).
		Float64("min_probability", c.MinProbability).
		Msg("starting k-mer count")
}
