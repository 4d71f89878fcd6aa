package parser

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/queue"
	"github.com/biostreamio/kmerflow/reader"
)

func runParser(t *testing.T, format reader.FileType, chunks [][]byte, estimator *ErrorRateEstimator) []string {
	t.Helper()
	in := queue.NewSPSC[*bundle.FastBundle](4)
	out := queue.NewSPSC[*bundle.ReadBundle](4)
	fastPool := bundle.NewPool(4, func() *bundle.FastBundle { return bundle.NewFastBundle(256) })
	readPool := bundle.NewPool(4, func() *bundle.ReadBundle { return bundle.NewReadBundle(16, 1024) })

	p := New(format, in, out, fastPool, readPool, estimator, 2, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	for _, c := range chunks {
		fb := fastPool.Get()
		fb.Reset()
		copy(fb.Data, c)
		fb.Size = len(c)
		in.Push(fb)
	}
	in.Finalize()

	var seqs []string
	for {
		rb, ok := out.Pop()
		if !ok {
			break
		}
		for _, rec := range rb.Records {
			seqs = append(seqs, string(rec.Seq))
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return seqs
}

func TestSplitFASTASingleBundle(t *testing.T) {
	t.Parallel()
	data := []byte(">r1\nACGT\n>r2\nTTTT\n")
	seqs := runParser(t, reader.FASTA, [][]byte{data}, nil)
	want := []string{"ACGT", "TTTT"}
	assertSeqs(t, seqs, want)
}

func TestSplitFASTASplitAcrossBundles(t *testing.T) {
	t.Parallel()
	full := ">r1\nACGTACGT\n>r2\nGGGGCCCC\n"
	// split inside r1's sequence and inside r2's sequence across three bundles
	chunks := [][]byte{
		[]byte(full[:5]),
		[]byte(full[5:20]),
		[]byte(full[20:]),
	}
	seqs := runParser(t, reader.FASTA, chunks, nil)
	want := []string{"ACGTACGT", "GGGGCCCC"}
	assertSeqs(t, seqs, want)
}

func TestSplitFASTQWithEstimator(t *testing.T) {
	t.Parallel()
	// quality 'I' = Phred 40 -> very low error rate, should clamp to MinErrorRate
	data := []byte("@r1\nACGTACGT\n+\nIIIIIIII\n")
	est := NewErrorRateEstimator(100)
	seqs := runParser(t, reader.FASTQ, [][]byte{data}, est)
	assertSeqs(t, seqs, []string{"ACGTACGT"})

	rate := est.Rate()
	if rate != MinErrorRate {
		t.Fatalf("expected clamp to MinErrorRate for high-quality reads, got %v", rate)
	}
}

func assertSeqs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v records, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: got %q want %q", i, got[i], want[i])
		}
	}
}
