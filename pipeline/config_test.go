package pipeline

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/output"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		InputPath:      dir,
		TmpDir:         dir,
		OutputPath:     dir + "/out.fa",
		K:              21,
		M:              7,
		B:              16,
		Threads:        2,
		MemoryMB:       256,
		ThresholdMin:   1,
		Normalize:      true,
		OutputFormat:   output.FASTA,
		Coverage:       10,
		MinProbability: 0.95,
		Log:            zerolog.Nop(),
	}
}

func TestConfigValidateAcceptsWellFormed(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestConfigValidateRejectsBadMinimizer(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.M = cfg.K // m must be strictly smaller than k
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for m >= k")
	}
}

func TestConfigValidateRejectsTooManyBins(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.M = 2
	cfg.B = 1000 // 4^2 = 16 distinct minimizers, far fewer than 1000 bins
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for bin count exceeding 4^m")
	}
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.InputPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for missing input path")
	}
}

func TestConfigValidateRejectsBadProbability(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.MinProbability = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for out-of-range min-probability")
	}
}

func TestConfigValidateRejectsBadStageSelector(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.BinStatsOnly = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for bin-stats-only outside {0,1,2}")
	}
}
