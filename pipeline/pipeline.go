package pipeline

import (
	"os"
	"path/filepath"

	"github.com/biostreamio/kmerflow/binio"
	"github.com/biostreamio/kmerflow/parser"
)

// Result is the combined outcome of a one-shot run (both stages back to
// back, spec §8 P5).
type Result struct {
	Stage1 Stage1Result
	Stage2 Stage2Result
}

// LogSummary restores Gerbil's end-of-run printSummary banner (SPEC_FULL.md
// §4) via the structured logger instead of raw printf.
func (r Result) LogSummary(cfg Config) {
	cfg.Log.Info().
		Int("bins", len(r.Stage1.Stats)).
		Int64("bytes_read", r.Stage1.TotalBytes).
		Float64("error_rate", r.Stage1.ErrorRate).
		Uint32("lower_bound", r.Stage2.Lower).
		Uint32("upper_bound", r.Stage2.Upper).
		Uint64("kmers_written", r.Stage2.KmersWritten).
		Msg("k-mer count complete")
}

// Run executes stage 1 then stage 2 against cfg, honoring cfg.BinStatsOnly
// (spec §6, §8 P5): 0 runs both, 1 stops after stage 1 (persisting BinStat),
// 2 loads a previously persisted BinStat and runs only stage 2.
func Run(cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	cfg.LogSummary()

	if cfg.BinStatsOnly == 2 {
		stats, erate, err := loadStage1Result(cfg)
		if err != nil {
			return Result{}, err
		}
		stage2, err := RunStage2Only(cfg, stats, erate)
		if err != nil {
			return Result{}, err
		}
		return Result{Stage1: Stage1Result{Stats: stats, ErrorRate: erate}, Stage2: stage2}, nil
	}

	stage1, err := RunStage1Only(cfg)
	if err != nil {
		return Result{}, err
	}
	if cfg.BinStatsOnly == 1 {
		return Result{Stage1: stage1}, nil
	}

	stage2, err := RunStage2Only(cfg, stage1.Stats, stage1.ErrorRate)
	if err != nil {
		return Result{}, err
	}

	if !cfg.LeaveBinStat && stage1.BinStatPath != "" {
		_ = os.Remove(stage1.BinStatPath)
	}

	return Result{Stage1: stage1, Stage2: stage2}, nil
}

// loadStage1Result reconstructs what stage 2 needs from a bin-stat file a
// prior `--bin-stats-only 1` run left behind, rather than re-running stage 1
// (spec §8 P5). The original per-base error estimate only ever lived in that
// earlier process's memory, so a resumed stage-2-only run falls back to
// parser.DefaultErrorRate unless the caller supplies --error-rate explicitly.
func loadStage1Result(cfg Config) ([]binio.BinStat, float64, error) {
	path := filepath.Join(cfg.TmpDir, binStatFileName)
	stats, err := binio.LoadStats(path, cfg.B)
	if err != nil {
		return nil, 0, err
	}
	erate := cfg.ErrorRate
	if erate <= 0 {
		erate = parser.DefaultErrorRate
	}
	return stats, erate, nil
}
