package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/pborman/options"
	"github.com/rs/zerolog"
	"github.com/shenwei356/util/bytesize"

	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/output"
	"github.com/biostreamio/kmerflow/pipeline"
	"github.com/biostreamio/kmerflow/planner"
)

func main() {
	opts := &struct {
		K              int          `getopt:"-k --kmer-size               k-mer size"`
		M              int          `getopt:"-m --minimizer-size          minimizer size (0: derive from bin count)"`
		Threads        int          `getopt:"-t --threads                 thread budget shared across splitter/hasher stages"`
		Memory         string       `getopt:"-e --memory                  memory budget, e.g. 4G, 512M (0/empty: derive from system RAM)"`
		ThresholdMin   uint         `getopt:"-l --threshold-min           minimum occurrence count to report"`
		OutputPath     string       `getopt:"-o --output                  output file path"`
		InputPath      string       `getopt:"-i --input                   input file, directory, or .txt manifest"`
		TmpDir         string       `getopt:"--tmp                        temp directory for intermediate bin files"`
		Bins           int          `getopt:"--bins                       bin (temp file) count"`
		GPU            bool         `getopt:"--gpu                        attempt GPU-accelerated hashing, falling back to CPU if unavailable"`
		NoNormalize    bool         `getopt:"--no-normalize               disable canonical (strand-independent) k-mer counting"`
		Coverage       int          `getopt:"--coverage                   expected sequencing coverage, for the reliability band"`
		ErrorRate      float64      `getopt:"--error-rate                 per-base error rate override (0: estimate from input)"`
		MinProbability float64      `getopt:"--min-probability            target tail probability for the reliability band"`
		SkipEstimate   bool         `getopt:"--skip-estimate              skip error-rate estimation, using --error-rate or a fixed default"`
		BinStatsOnly   int          `getopt:"--bin-stats-only             run only stage 1 or only stage 2 (0: both)"`
		LeaveBinStat   bool         `getopt:"--leave-bin-stat             keep binStatFile.txt after a combined run"`
		Histogram      bool         `getopt:"--histogram                  write a count histogram next to the output file"`
		Format         string       `getopt:"-f --format                  output format: fasta or bin"`
		Help           options.Help `getopt:"-h --help                    display help"`
	}{
		K:              21,
		Threads:        4,
		ThresholdMin:   2,
		TmpDir:         os.TempDir(),
		Bins:           512,
		MinProbability: 0.999,
		Format:         "fasta",
	}

	options.RegisterAndParse(opts)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !isatty.IsTerminal(os.Stderr.Fd())}).
		With().Timestamp().Logger()

	memoryMB, err := parseMemoryFlag(opts.Memory)
	if err != nil {
		log.Error().Err(err).Msg("invalid --memory value")
		os.Exit(1)
	}

	format, err := output.ParseFormat(opts.Format)
	if err != nil {
		log.Error().Err(err).Msg("invalid --format value")
		os.Exit(1)
	}

	m := opts.M
	if m <= 0 {
		m = planner.DefaultMinimizerSize(opts.Bins)
	}

	cfg := pipeline.Config{
		InputPath:      opts.InputPath,
		TmpDir:         opts.TmpDir,
		OutputPath:     opts.OutputPath,
		K:              opts.K,
		M:              m,
		B:              opts.Bins,
		Threads:        opts.Threads,
		GPU:            opts.GPU,
		MemoryMB:       memoryMB,
		ThresholdMin:   uint32(opts.ThresholdMin),
		Normalize:      !opts.NoNormalize,
		OutputFormat:   format,
		Coverage:       opts.Coverage,
		ErrorRate:      opts.ErrorRate,
		MinProbability: opts.MinProbability,
		SkipEstimate:   opts.SkipEstimate,
		BinStatsOnly:   opts.BinStatsOnly,
		LeaveBinStat:   opts.LeaveBinStat,
		Histogram:      opts.Histogram,
		Log:            log,
	}

	result, err := pipeline.Run(cfg)
	if err != nil {
		log.Error().Err(err).Msg("fatal error")
		os.Exit(exitCodeFor(err))
	}
	result.LogSummary(cfg)

	if opts.Histogram && cfg.BinStatsOnly != 1 {
		if err := writeHistogram(cfg.OutputPath, result.Stage2.Histogram); err != nil {
			log.Error().Err(err).Msg("failed to write histogram")
			os.Exit(1)
		}
	}
}

// parseMemoryFlag accepts either empty (auto-detect) or a human-readable
// byte size like "4G"/"512M" for -e (spec §6, SPEC_FULL.md §3's
// shenwei356/util/bytesize wiring), returning the budget in MB.
func parseMemoryFlag(s string) (int, error) {
	if s == "" || s == "0" {
		mb, ok := planner.DefaultMemoryBudgetMB()
		if !ok {
			return 0, errors.New("could not auto-detect system memory, pass -e explicitly")
		}
		return mb, nil
	}
	size, err := bytesize.ParseByteSize(s)
	if err != nil {
		return 0, fmt.Errorf("parsing -e %q: %w", s, err)
	}
	mb := int(float64(size) / (1 << 20))
	if mb <= 0 {
		mb = 1
	}
	return mb, nil
}

// writeHistogram appends ".histogram" to outputPath and writes one
// "count\tdistinct_kmers" line per observed count (SPEC_FULL.md §4,
// restoring Gerbil's `--histogram`).
func writeHistogram(outputPath string, hist map[uint32]uint64) error {
	f, err := os.Create(outputPath + ".histogram")
	if err != nil {
		return err
	}
	defer f.Close()
	counts := make([]uint32, 0, len(hist))
	for c := range hist {
		counts = append(counts, c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for _, c := range counts {
		if _, err := fmt.Fprintf(f, "%d\t%d\n", c, hist[c]); err != nil {
			return err
		}
	}
	return nil
}

// exitCodeFor maps the kerrors taxonomy to a distinct process exit code,
// so scripting callers can distinguish a config mistake from an I/O
// failure without parsing the message (spec §7: "the process exits with
// non-zero status").
func exitCodeFor(err error) int {
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) {
		return 1
	}
	switch kerr.Kind {
	case kerrors.KindConfig:
		return 2
	case kerrors.KindIO:
		return 3
	case kerrors.KindFormat:
		return 4
	case kerrors.KindCapacity:
		return 5
	case kerrors.KindInternal:
		return 6
	default:
		return 1
	}
}
