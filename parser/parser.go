// Package parser implements stage 1's Parser component (spec.md §4.3):
// splitting FastBundles into read records, re-joining records split across
// bundle boundaries, and estimating the per-base sequencing error rate from
// FASTQ quality scores.
package parser

import (
	"math"
	"sync"

	"github.com/pbenner/threadpool"
	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/queue"
	"github.com/biostreamio/kmerflow/reader"
)

// Format is the record format a Parser expects on its input stream.
type Format = reader.FileType

// Parser consumes FastBundles from one reader thread and emits ReadBundles,
// carrying a tail across bundle boundaries so a record split mid-bundle is
// re-joined correctly (spec §4.3).
type Parser struct {
	log              zerolog.Logger
	format           reader.FileType
	in               *queue.SPSC[*bundle.FastBundle]
	out              *queue.SPSC[*bundle.ReadBundle]
	readPool         *bundle.Pool[bundle.FastBundle]
	readBundPool     *bundle.Pool[bundle.ReadBundle]
	estimator        *ErrorRateEstimator
	estimatorThreads int
	qualBatch        [][]byte
}

// estimatorBatchSize is how many FASTQ quality strings accumulate before the
// Parser hands them to the estimator's threadpool-backed fan-out, so the
// per-read scoring work (spec §4.3) is batched rather than dispatched one
// record at a time.
const estimatorBatchSize = 64

// New builds a Parser reading FastBundles of the given format from in and
// producing ReadBundles onto out. estimator may be nil when the caller will
// supply the error rate directly (spec §4.3: "--skip-estimate").
// estimatorThreads sizes the concurrent fan-out used to score each batch of
// sampled quality strings; values < 1 are treated as 1.
func New(format reader.FileType, in *queue.SPSC[*bundle.FastBundle], out *queue.SPSC[*bundle.ReadBundle],
	fastPool *bundle.Pool[bundle.FastBundle], readPool *bundle.Pool[bundle.ReadBundle],
	estimator *ErrorRateEstimator, estimatorThreads int, log zerolog.Logger) *Parser {
	if estimatorThreads < 1 {
		estimatorThreads = 1
	}
	return &Parser{
		log:              log,
		format:           format,
		in:               in,
		out:              out,
		readPool:         fastPool,
		readBundPool:     readPool,
		estimator:        estimator,
		estimatorThreads: estimatorThreads,
	}
}

// Run drains `in` until end-of-stream, emitting ReadBundles onto `out`, then
// finalizes `out`.
func (p *Parser) Run() error {
	defer p.out.Finalize()

	var carry []byte // unterminated tail from the previous FastBundle
	cur := p.readBundPool.Get()
	cur.Reset()

	flush := func() {
		if len(cur.Records) > 0 {
			p.out.Push(cur)
			cur = p.readBundPool.Get()
			cur.Reset()
		}
	}

	for {
		fb, ok := p.in.Pop()
		if !ok {
			break
		}
		data := fb.Data[:fb.Size]
		if len(carry) > 0 {
			data = append(append([]byte{}, carry...), data...)
			carry = nil
		}

		var records [][]byte
		var quals [][]byte
		var tail []byte
		var err error
		switch p.format {
		case reader.FASTA:
			records, tail, err = splitFASTA(data)
		case reader.FASTQ:
			records, quals, tail, err = splitFASTQ(data)
		default:
			err = kerrors.Format("parser", errUnknownFormat{})
		}
		if err != nil {
			p.readPool.Put(fb)
			return err
		}
		carry = tail

		for i, rec := range records {
			if p.estimator != nil && quals != nil {
				p.qualBatch = append(p.qualBatch, quals[i])
				if len(p.qualBatch) >= estimatorBatchSize {
					if err := p.estimator.ObserveBatch(p.qualBatch, p.estimatorThreads); err != nil {
						p.readPool.Put(fb)
						return err
					}
					p.qualBatch = p.qualBatch[:0]
				}
			}
			for !cur.Append(rec) {
				flush()
			}
		}
		p.readPool.Put(fb)
	}
	if len(carry) > 0 {
		// a genuine trailing record with no terminating newline is still
		// valid input; treat it as a final record.
		seq := extractTrailingSeq(carry, p.format)
		if len(seq) > 0 {
			for !cur.Append(seq) {
				flush()
			}
		}
	}
	flush()
	if p.estimator != nil {
		if len(p.qualBatch) > 0 {
			if err := p.estimator.ObserveBatch(p.qualBatch, p.estimatorThreads); err != nil {
				return err
			}
			p.qualBatch = p.qualBatch[:0]
		}
		p.estimator.Finish()
	}
	return nil
}

type errUnknownFormat struct{}

func (errUnknownFormat) Error() string { return "parser: unknown input format" }

// splitFASTA scans `>header\nseq\n` records out of data, returning each
// record's sequence bytes and any unterminated tail to carry forward.
func splitFASTA(data []byte) (records [][]byte, tail []byte, err error) {
	i := 0
	n := len(data)
	for i < n {
		if data[i] != '>' {
			// mid-sequence continuation lines belonging to the previous
			// bundle's carried record are handled by the caller prepending
			// `carry`; reaching here mid-stream without a header is a
			// malformed file.
			return nil, nil, kerrors.Format("parser", errMalformedFASTA{})
		}
		hdrEnd := indexByte(data, i, '\n')
		if hdrEnd < 0 {
			return records, data[i:], nil
		}
		seqStart := hdrEnd + 1
		seqEnd := indexByte(data, seqStart, '\n')
		if seqEnd < 0 {
			return records, data[i:], nil
		}
		records = append(records, data[seqStart:seqEnd])
		i = seqEnd + 1
	}
	return records, nil, nil
}

type errMalformedFASTA struct{}

func (errMalformedFASTA) Error() string { return "malformed FASTA record boundary" }

// splitFASTQ scans `@header\nseq\n+\nqual\n` records, returning sequence and
// quality bytes per record plus any unterminated tail.
func splitFASTQ(data []byte) (records, quals [][]byte, tail []byte, err error) {
	i := 0
	n := len(data)
	for i < n {
		if data[i] != '@' {
			return nil, nil, nil, kerrors.Format("parser", errMalformedFASTQ{})
		}
		hdrEnd := indexByte(data, i, '\n')
		if hdrEnd < 0 {
			return records, quals, data[i:], nil
		}
		seqStart := hdrEnd + 1
		seqEnd := indexByte(data, seqStart, '\n')
		if seqEnd < 0 {
			return records, quals, data[i:], nil
		}
		plusStart := seqEnd + 1
		if plusStart >= n || data[plusStart] != '+' {
			return nil, nil, nil, kerrors.Format("parser", errMalformedFASTQ{})
		}
		plusEnd := indexByte(data, plusStart, '\n')
		if plusEnd < 0 {
			return records, quals, data[i:], nil
		}
		qualStart := plusEnd + 1
		qualEnd := indexByte(data, qualStart, '\n')
		if qualEnd < 0 {
			return records, quals, data[i:], nil
		}
		records = append(records, data[seqStart:seqEnd])
		quals = append(quals, data[qualStart:qualEnd])
		i = qualEnd + 1
	}
	return records, quals, nil, nil
}

type errMalformedFASTQ struct{}

func (errMalformedFASTQ) Error() string { return "malformed FASTQ record boundary" }

func indexByte(data []byte, from int, c byte) int {
	for i := from; i < len(data); i++ {
		if data[i] == c {
			return i
		}
	}
	return -1
}

// extractTrailingSeq best-effort extracts a sequence line from a final,
// newline-less fragment (only the seq line is needed at end of stream).
func extractTrailingSeq(carry []byte, format reader.FileType) []byte {
	lineStart := 0
	for i, c := range carry {
		if c == '\n' {
			line := carry[lineStart:i]
			if len(line) > 0 && line[0] != '>' && line[0] != '@' && line[0] != '+' {
				return line
			}
			lineStart = i + 1
		}
	}
	if lineStart < len(carry) {
		line := carry[lineStart:]
		if len(line) > 0 && line[0] != '>' && line[0] != '@' && line[0] != '+' {
			return line
		}
	}
	return nil
}

// ErrorRateEstimator computes a per-base error rate from FASTQ Phred quality
// scores (spec §4.3): mean Phred → 10^(-Q/10), averaged over a sample of
// reads, clamped to [0.001, 0.5]. It does not block the pipeline: the parser
// feeds it opportunistically and its result is read once, after the parser
// finishes.
type ErrorRateEstimator struct {
	mu         sync.Mutex
	maxSamples int
	sampled    int
	sumErr     float64
	result     float64
	done       bool
}

// NewErrorRateEstimator creates an estimator that samples at most maxSamples
// reads' quality strings.
func NewErrorRateEstimator(maxSamples int) *ErrorRateEstimator {
	if maxSamples <= 0 {
		maxSamples = 10000
	}
	return &ErrorRateEstimator{maxSamples: maxSamples}
}

// perBaseErrorRate converts one read's Phred quality string into a mean
// per-base error probability.
func perBaseErrorRate(qual []byte) float64 {
	var sumQ float64
	for _, q := range qual {
		phred := float64(q) - 33 // Sanger/Illumina 1.8+ offset
		if phred < 0 {
			phred = 0
		}
		sumQ += phred
	}
	meanQ := sumQ / float64(len(qual))
	return math.Pow(10, -meanQ/10)
}

// Observe folds one read's quality string into the running estimate. Safe
// for concurrent use (multiple reader/parser threads may share one
// estimator, spec §4.2's "1 for plain data, 2 when mixed").
func (e *ErrorRateEstimator) Observe(qual []byte) {
	if len(qual) == 0 {
		return
	}
	perBaseErr := perBaseErrorRate(qual)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampled >= e.maxSamples {
		return
	}
	e.sumErr += perBaseErr
	e.sampled++
}

// ObserveBatch scores a batch of quality strings concurrently across
// threads worker goroutines (SPEC_FULL.md's threadpool-backed sampling
// fan-out), then folds the results into the running estimate under a single
// lock. Each job is a pure per-read computation, so the only shared state is
// the output slice it writes into.
func (e *ErrorRateEstimator) ObserveBatch(quals [][]byte, threads int) error {
	n := len(quals)
	if n == 0 {
		return nil
	}
	e.mu.Lock()
	alreadyFull := e.sampled >= e.maxSamples
	e.mu.Unlock()
	if alreadyFull {
		return nil
	}
	if threads < 1 {
		threads = 1
	}

	scores := make([]float64, n)
	ok := make([]bool, n)
	pool := threadpool.New(threads, 100*threads)
	err := pool.RangeJob(0, n, func(i int, pool threadpool.ThreadPool, erf func() error) error {
		if len(quals[i]) == 0 {
			return nil
		}
		scores[i] = perBaseErrorRate(quals[i])
		ok[i] = true
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < n && e.sampled < e.maxSamples; i++ {
		if !ok[i] {
			continue
		}
		e.sumErr += scores[i]
		e.sampled++
	}
	return nil
}

// Finish locks in the estimate; subsequent Observe calls are no-ops.
func (e *ErrorRateEstimator) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	if e.sampled == 0 {
		e.result = DefaultErrorRate
		return
	}
	e.result = clamp(e.sumErr/float64(e.sampled), MinErrorRate, MaxErrorRate)
}

// Rate returns the clamped estimate. Call only after Finish (Run calls it).
func (e *ErrorRateEstimator) Rate() float64 {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if !done {
		e.Finish()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

const (
	// DefaultErrorRate is used when estimation is skipped and the user
	// supplies no explicit value (spec §4.3).
	DefaultErrorRate = 0.15
	MinErrorRate      = 0.001
	MaxErrorRate      = 0.5
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
