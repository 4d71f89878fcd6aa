package pipeline

import (
	"sync"

	"github.com/biostreamio/kmerflow/binio"
	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/distributor"
	"github.com/biostreamio/kmerflow/hasher"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/metrics"
	"github.com/biostreamio/kmerflow/output"
	"github.com/biostreamio/kmerflow/planner"
	"github.com/biostreamio/kmerflow/queue"
	"github.com/biostreamio/kmerflow/reliability"
)

// Stage2Result is what a stage-2-only run reports (spec §6's
// `--bin-stats-only 2`).
type Stage2Result struct {
	KmersWritten uint64
	Lower, Upper uint32
	Histogram    map[uint32]uint64
}

const (
	hasherSubBinFactor  = 4
	hasherMaxSpillDepth = 16
)

// RunStage2Only executes BinReader -> Distributor -> hasher pool ->
// OutputFilter -> Writer (spec §4.6-§4.9) against the bin-stat handed to it
// by stage 1, or loaded independently (spec §8 P5: stage independence).
// erate is the per-base error rate stage 1 estimated (or the configured
// override), used to derive the reliability band.
func RunStage2Only(cfg Config, stats []binio.BinStat, erate float64) (Stage2Result, error) {
	if err := cfg.Validate(); err != nil {
		return Stage2Result{}, err
	}
	numBins := len(stats)
	if numBins == 0 {
		return Stage2Result{}, kerrors.Config("pipeline", errNoBinStats{})
	}

	hasherThreads := cfg.Threads
	if hasherThreads < 1 {
		hasherThreads = 1
	}
	numGPUs := 0
	if cfg.GPU && hasher.GPUAvailable() {
		numGPUs = 1
		hasherThreads--
	}
	if hasherThreads < 1 {
		hasherThreads = 1
	}

	plan2, err := planner.Stage2(cfg.MemoryMB, cfg.K, splitterThreadCount(cfg.Threads), hasherThreads, numGPUs, int(cfg.ThresholdMin), stats)
	if err != nil {
		return Stage2Result{}, err
	}

	superPool := bundle.NewPool(plan2.SuperBundles, func() *bundle.SuperBundle {
		return bundle.NewSuperBundle(superItemCap)
	})

	maxReadAhead := cfg.MaxReadAhead
	if maxReadAhead < 1 {
		maxReadAhead = 2
	}
	dist := distributor.NewFromStats(stats, hasherThreads+numGPUs, maxReadAhead)

	lowerI, upperI := reliability.Bounds(cfg.Coverage, erate, cfg.K, cfg.MinProbability)
	lower, upper := uint32(lowerI), uint32(upperI)

	// binData/binReady are pre-sized for every bin up front: the Distributor
	// only bounds how far the reader may run ahead of the claim index, it
	// does not guarantee a bin's data has finished loading by the time a
	// hasher claims it, so each hasher waits on its bin's own ready signal
	// rather than trusting claim order alone.
	binData := make([][]bundle.SuperMer, numBins)
	binReady := make([]chan struct{}, numBins)
	for i := range binReady {
		binReady[i] = make(chan struct{})
	}

	rdr := binio.NewBinReader(cfg.TmpDir, superPool, cfg.Log)

	var errMu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			bin, ok := dist.NextForReader()
			if !ok {
				return
			}
			items, err := readBin(rdr, bin, plan2.SuperBundles, superPool)
			setErr(err)
			binData[bin] = items
			close(binReady[bin])
		}
	}()

	histPool := hasher.NewPool()
	kmcOut := queue.NewMPSC[*bundle.KmcBundle](plan2.KmcBundles)
	stopKmcOutGauge := metrics.SampleQueueDepth("kmc_out", kmcOut.Len, queueDepthSampleInterval)
	defer stopKmcOutGauge()

	opts := hasher.Options{
		K:             cfg.K,
		Capacity:      int(plan2.HashTableCapacity),
		ThresholdMin:  cfg.ThresholdMin,
		Normalize:     cfg.Normalize,
		MaxProbe:      0,
		SubBinFactor:  hasherSubBinFactor,
		MaxSpillDepth: hasherMaxSpillDepth,
	}

	var hashWG sync.WaitGroup
	for h := 0; h < hasherThreads+numGPUs; h++ {
		h := h
		isGPU := h < numGPUs
		hashWG.Add(1)
		go func() {
			defer hashWG.Done()
			for {
				bin, ok := dist.Claim(h)
				if !ok {
					return
				}
				<-binReady[bin]
				superMers := binData[bin]

				var pairs []bundle.KmcPair
				var err error
				if isGPU {
					pairs, err = hasher.HashGPUBin(bin, superMers, opts, cfg.Log)
				} else {
					pairs, err = hasher.HashBin(bin, superMers, opts)
				}
				binData[bin] = nil
				dist.Release(h)
				if err != nil {
					setErr(err)
					continue
				}
				histPool.Record(pairs)
				metrics.BinsProcessed.Inc()

				kb := bundle.NewKmcBundle(len(pairs))
				for _, p := range pairs {
					kb.Append(p.Kmer, p.Count)
				}
				kmcOut.Push(kb)
			}
		}()
	}

	go func() {
		hashWG.Wait()
		kmcOut.Finalize()
	}()

	writer, err := output.NewWriter(cfg.OutputPath, cfg.K, cfg.OutputFormat)
	if err != nil {
		return Stage2Result{}, err
	}

	var written uint64
	for {
		kb, ok := kmcOut.Pop()
		if !ok {
			break
		}
		for _, p := range kb.Items {
			if !output.Filter(p, lower, upper) {
				continue
			}
			if err := writer.Write(p.Kmer, p.Count); err != nil {
				setErr(err)
				break
			}
			written++
		}
	}
	setErr(writer.Close())
	<-readerDone

	if firstErr != nil {
		return Stage2Result{}, firstErr
	}

	return Stage2Result{
		KmersWritten: written,
		Lower:        lower,
		Upper:        upper,
		Histogram:    histPool.Histogram(),
	}, nil
}

// readBin drains bin's entire super-mer content into memory. It runs
// BinReader.Next against a freshly sized local queue with a concurrent
// drainer so Next's blocking Push never deadlocks regardless of the bin's
// size relative to the queue's capacity.
func readBin(rdr *binio.BinReader, bin, queueCap int, pool *bundle.Pool[bundle.SuperBundle]) ([]bundle.SuperMer, error) {
	if queueCap < 1 {
		queueCap = 1
	}
	local := queue.NewMPSC[*bundle.SuperBundle](queueCap)
	nextErrCh := make(chan error, 1)
	go func() {
		err := rdr.Next(bin, local)
		local.Finalize()
		nextErrCh <- err
	}()

	var items []bundle.SuperMer
	for {
		sb, ok := local.Pop()
		if !ok {
			break
		}
		items = append(items, sb.Items...)
		sb.Reset()
		pool.Put(sb)
	}
	if err := <-nextErrCh; err != nil {
		return nil, err
	}
	return items, nil
}

type errNoBinStats struct{}

func (errNoBinStats) Error() string { return "no bin statistics available for stage 2" }
