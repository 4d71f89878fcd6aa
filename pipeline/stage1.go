package pipeline

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/biostreamio/kmerflow/binio"
	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/metrics"
	"github.com/biostreamio/kmerflow/minimizer"
	"github.com/biostreamio/kmerflow/parser"
	"github.com/biostreamio/kmerflow/planner"
	"github.com/biostreamio/kmerflow/queue"
	"github.com/biostreamio/kmerflow/reader"
	"github.com/biostreamio/kmerflow/splitter"
)

// binStatFileName is the fixed name spec §6 gives the persisted per-bin
// statistics file within the configured tmp directory.
const binStatFileName = "binStatFile.txt"

// readBundleMaxRecords / readBundleBackingBytes / superItemCap bound one
// bundle instance's capacity; the planner decides how many instances of
// each to pre-allocate, not how big any one of them is.
const (
	fastBundleCapacityBytes = 1 << 20
	readBundleMaxRecords    = 4096
	readBundleBackingBytes  = 1 << 19
	superItemCap            = 256
)

// queueDepthSampleInterval is how often the metrics.QueueDepth gauges are
// refreshed from each stage's live queues (spec §4.1/§5's backpressure
// instrumentation).
const queueDepthSampleInterval = 100 * time.Millisecond

// Stage1Result is what a stage-1-only run reports back (spec §6's
// `--bin-stats-only 1`).
type Stage1Result struct {
	Stats      []binio.BinStat
	ErrorRate  float64
	TotalBytes int64
	BinStatPath string
}

// splitterThreadCount clamps the configured thread budget to the splitter's
// sane range (spec §9: "1-4 configurable splitter threads").
func splitterThreadCount(threads int) int {
	if threads < 1 {
		return 1
	}
	if threads > 4 {
		return 4
	}
	return threads
}

// RunStage1Only executes Reader -> Parser -> Splitter -> BinWriter against
// cfg, persists BinStat to <tmp>/binStatFile.txt, and returns it (spec §6,
// §8 P5). It does not run stage 2.
func RunStage1Only(cfg Config) (Stage1Result, error) {
	if err := cfg.Validate(); err != nil {
		return Stage1Result{}, err
	}

	splitThreads := splitterThreadCount(cfg.Threads)
	plan1, err := planner.Stage1(cfg.MemoryMB, cfg.B, splitThreads)
	if err != nil {
		return Stage1Result{}, err
	}

	fastPool := bundle.NewPool(plan1.FastBundles, func() *bundle.FastBundle {
		return bundle.NewFastBundle(fastBundleCapacityBytes)
	})
	readPool := bundle.NewPool(plan1.ReadBundles, func() *bundle.ReadBundle {
		return bundle.NewReadBundle(readBundleMaxRecords, readBundleBackingBytes)
	})
	superPool := bundle.NewPool(plan1.SuperBundles, func() *bundle.SuperBundle {
		return bundle.NewSuperBundle(superItemCap)
	})

	rdr, err := reader.New(cfg.InputPath, fastPool, plan1.FastBundles, cfg.Log)
	if err != nil {
		return Stage1Result{}, err
	}

	readQueues := rdr.Queues()
	if len(readQueues) == 0 {
		return Stage1Result{}, kerrors.Config("pipeline", errNoInputFiles{})
	}

	mergedReads := queue.NewSPSC[*bundle.ReadBundle](plan1.ReadBundles)
	stopMergedReadsGauge := metrics.SampleQueueDepth("merged_reads", mergedReads.Len, queueDepthSampleInterval)
	defer stopMergedReadsGauge()

	estimator := parser.NewErrorRateEstimator(0)

	errCh := make(chan error, len(readQueues)+splitThreads+2)

	// Each Parser unconditionally finalizes its own `out` queue on return
	// (Run's `defer p.out.Finalize()`), so sharing one queue across the (up
	// to two) parsers would double-close it. Instead each parser gets its
	// own queue and a small fan-in stage merges them into mergedReads,
	// finalizing it exactly once after every source is drained.
	var parseWG sync.WaitGroup
	var fanInWG sync.WaitGroup
	for _, rq := range readQueues {
		parserOut := queue.NewSPSC[*bundle.ReadBundle](plan1.ReadBundles)
		p := parser.New(rdr.FileType(), rq, parserOut, fastPool, readPool, estimator, splitThreads, cfg.Log)
		parseWG.Add(1)
		go func() {
			defer parseWG.Done()
			if err := p.Run(); err != nil {
				errCh <- err
			}
		}()

		fanInWG.Add(1)
		go func(src *queue.SPSC[*bundle.ReadBundle]) {
			defer fanInWG.Done()
			for {
				rb, ok := src.Pop()
				if !ok {
					return
				}
				mergedReads.Push(rb)
			}
		}(parserOut)
	}

	go func() {
		fanInWG.Wait()
		mergedReads.Finalize()
	}()

	order := minimizer.NewOrder(cfg.M)
	binFunc := minimizer.NewFunc(cfg.B)
	superOut := queue.NewBinned[*bundle.SuperBundle](cfg.B, plan1.SuperBundles)
	stopSuperOutGauge := metrics.SampleQueueDepth("super_out", superOut.TotalDepth, queueDepthSampleInterval)
	defer stopSuperOutGauge()

	var splitWG sync.WaitGroup
	for i := 0; i < splitThreads; i++ {
		sp := splitter.New(order, binFunc, cfg.K, cfg.Normalize, mergedReads, superOut, readPool, superPool)
		splitWG.Add(1)
		go func() {
			defer splitWG.Done()
			if err := sp.Run(); err != nil {
				errCh <- err
			}
		}()
	}

	erateForWriter := cfg.ErrorRate
	if erateForWriter <= 0 {
		erateForWriter = parser.DefaultErrorRate
	}
	writer := binio.NewBinWriter(cfg.TmpDir, cfg.B, cfg.K, erateForWriter, plan1.SuperWriterBudgetBytes, superPool, cfg.Log)

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- writer.Run(superOut)
	}()

	go func() {
		splitWG.Wait()
		for bin := 0; bin < cfg.B; bin++ {
			superOut.Finalize(bin)
		}
	}()

	if err := rdr.Run(); err != nil {
		errCh <- err
	}

	parseWG.Wait()
	splitWG.Wait()
	if err := <-writeErrCh; err != nil {
		errCh <- err
	}
	close(errCh)
	for err := range errCh {
		if err != nil {
			return Stage1Result{}, err
		}
	}

	metrics.BytesRead.Add(float64(rdr.TotalBytes()))

	erate := cfg.ErrorRate
	if erate <= 0 {
		if cfg.SkipEstimate {
			erate = parser.DefaultErrorRate
		} else {
			erate = estimator.Rate()
		}
	}

	stats := writer.Stats()
	statPath := filepath.Join(cfg.TmpDir, binStatFileName)
	if err := binio.SaveStats(statPath, stats, true); err != nil {
		return Stage1Result{}, err
	}

	return Stage1Result{
		Stats:       stats,
		ErrorRate:   erate,
		TotalBytes:  rdr.TotalBytes(),
		BinStatPath: statPath,
	}, nil
}

type errNoInputFiles struct{}

func (errNoInputFiles) Error() string { return "no input file groups resolved from input path" }
