// Package binio implements stage 1's BinWriter and stage 2's BinReader (spec.md
// §4.5, §4.6), plus BinStat persistence (binstat.go). Bin files are a simple
// length-prefixed stream of super-mer records, one file per bin.
package binio

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/queue"
)

func binFilePath(tmpDir string, bin int) string {
	return filepath.Join(tmpDir, "bin_"+strconv.Itoa(bin))
}

// BinWriter accumulates SuperBundles per bin in memory and spills the
// largest in-memory bin to disk whenever the aggregate budget is exceeded
// (spec §4.5). Disk writes happen inside a single critical section, so only
// one bin is ever being written at a time — "Bin writer: 1" (spec §5) —
// even though each bin's queue is drained by its own goroutine here.
type BinWriter struct {
	log     zerolog.Logger
	tmpDir  string
	k       int
	erate   float64
	budget  int64

	mu         sync.Mutex
	stacks     [][]*bundle.SuperBundle
	stackBytes []int64
	totalBytes int64
	files      []*bufio.Writer
	rawFiles   []*os.File
	stats      []BinStat

	pool *bundle.Pool[bundle.SuperBundle]
}

// NewBinWriter prepares a writer for numBins bins under tmpDir, with budget
// bytes of in-memory stack headroom before a flush is forced. erate is the
// estimated per-base error rate, used for the unique-k-mer estimate.
func NewBinWriter(tmpDir string, numBins, k int, erate float64, budget int64, pool *bundle.Pool[bundle.SuperBundle], log zerolog.Logger) *BinWriter {
	return &BinWriter{
		log:        log,
		tmpDir:     tmpDir,
		k:          k,
		erate:      erate,
		budget:     budget,
		stacks:     make([][]*bundle.SuperBundle, numBins),
		stackBytes: make([]int64, numBins),
		files:      make([]*bufio.Writer, numBins),
		rawFiles:   make([]*os.File, numBins),
		stats:      make([]BinStat, numBins),
		pool:       pool,
	}
}

// Run drains every bin's queue concurrently until end-of-stream, then
// flushes all remaining in-memory stacks and closes every bin file. The
// caller is responsible for running the splitter stage concurrently so bins
// actually fill.
func (w *BinWriter) Run(in *queue.Binned[*bundle.SuperBundle]) error {
	numBins := in.NumBins()
	var wg sync.WaitGroup
	errCh := make(chan error, numBins)

	for bin := 0; bin < numBins; bin++ {
		wg.Add(1)
		go func(bin int) {
			defer wg.Done()
			for {
				sb, ok := in.Pop(bin)
				if !ok {
					return
				}
				if err := w.ingest(bin, sb); err != nil {
					errCh <- err
					return
				}
			}
		}(bin)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return w.finish()
}

// ingest records one SuperBundle against bin's in-memory stack and flushes
// the globally largest stack (possibly repeatedly) until total in-memory
// bytes are back under budget.
func (w *BinWriter) ingest(bin int, sb *bundle.SuperBundle) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stacks[bin] = append(w.stacks[bin], sb)
	n := int64(sb.Bytes())
	w.stackBytes[bin] += n
	w.totalBytes += n

	var totalKmers uint64
	for _, sm := range sb.Items {
		if l := len(sm.Seq) - w.k + 1; l > 0 {
			totalKmers += uint64(l)
		}
	}
	w.stats[bin].TotalKmers += totalKmers
	w.stats[bin].UniqueEstimate = estimateUnique(w.stats[bin].TotalKmers, w.k, w.erate)
	if avg := float64(w.stats[bin].TotalKmers) / float64(max64(w.stats[bin].UniqueEstimate, 1)); avg > 0 {
		w.stats[bin].MaxCountEstimate = uint64(math.Ceil(avg * 4))
	}

	for w.totalBytes > w.budget {
		victim := w.largestStack()
		if victim < 0 {
			break
		}
		if err := w.flushStack(victim); err != nil {
			return err
		}
	}
	return nil
}

// estimateUnique follows the rough formula spec §4.5 leaves unprescribed:
// unique ≈ total × (1 − exp(−k·ε)) with the factor floored at 0.05, which
// trends toward "many repeats" at low error rates and "most k-mers are
// unique" at high ones — adequate for
// sizing the stage-2 hash table, not for exact counting.
func estimateUnique(total uint64, k int, erate float64) uint64 {
	if total == 0 {
		return 0
	}
	factor := 1 - math.Exp(-float64(k)*erate)
	if factor < 0.05 {
		factor = 0.05
	}
	return uint64(math.Ceil(float64(total) * factor))
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// largestStack returns the bin index with the most in-memory bytes pending,
// or -1 if every stack is empty.
func (w *BinWriter) largestStack() int {
	best := -1
	var bestBytes int64
	for bin, n := range w.stackBytes {
		if n > bestBytes {
			best = bin
			bestBytes = n
		}
	}
	return best
}

// flushStack writes every pending SuperBundle of bin to disk, in arrival
// order (the in-memory container is a stack only in the sense that the
// *largest* one is chosen for eviction; BinFile's on-disk order must still be
// "totally ordered by arrival", spec §3, so items are not written LIFO).
// Caller holds w.mu.
func (w *BinWriter) flushStack(bin int) error {
	bw, err := w.writerFor(bin)
	if err != nil {
		return err
	}
	for _, sb := range w.stacks[bin] {
		for _, sm := range sb.Items {
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(sm.Seq)))
			if _, err := bw.Write(lenBuf[:]); err != nil {
				return kerrors.IOBin("binio", bin, err)
			}
			if _, err := bw.Write(sm.Seq); err != nil {
				return kerrors.IOBin("binio", bin, err)
			}
			w.stats[bin].Bytes += int64(4 + len(sm.Seq))
		}
		sb.Reset()
		w.pool.Put(sb)
	}
	w.stacks[bin] = w.stacks[bin][:0]
	w.totalBytes -= w.stackBytes[bin]
	w.stackBytes[bin] = 0
	return nil
}

func (w *BinWriter) writerFor(bin int) (*bufio.Writer, error) {
	if w.files[bin] != nil {
		return w.files[bin], nil
	}
	f, err := os.Create(binFilePath(w.tmpDir, bin))
	if err != nil {
		return nil, kerrors.IOBin("binio", bin, err)
	}
	w.rawFiles[bin] = f
	w.files[bin] = bufio.NewWriter(f)
	return w.files[bin], nil
}

// finish flushes every remaining in-memory stack and closes all open files.
func (w *BinWriter) finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for bin := range w.stacks {
		if len(w.stacks[bin]) > 0 {
			if err := w.flushStack(bin); err != nil {
				return err
			}
		}
	}
	for bin, bw := range w.files {
		if bw == nil {
			continue
		}
		if err := bw.Flush(); err != nil {
			return kerrors.IOBin("binio", bin, err)
		}
		if err := w.rawFiles[bin].Close(); err != nil {
			return kerrors.IOBin("binio", bin, err)
		}
	}
	w.log.Info().Int64("bytes", w.totalBytes).Msg("bin writer finished")
	return nil
}

// Stats returns the final per-bin statistics, valid only after Run returns.
func (w *BinWriter) Stats() []BinStat {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]BinStat, len(w.stats))
	copy(out, w.stats)
	return out
}
