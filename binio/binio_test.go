package binio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/queue"
)

func TestBinWriterThenBinReaderRoundTrip(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	const numBins = 2
	const k = 4

	pool := bundle.NewPool(32, func() *bundle.SuperBundle { return bundle.NewSuperBundle(2) })
	in := queue.NewBinned[*bundle.SuperBundle](numBins, 8)

	bin0 := []string{"ACGTACGT", "TTTTGGGG", "CCCCAAAA"}
	bin1 := []string{"GATTACAG", "ACGTTTAA"}

	go func() {
		for _, s := range bin0 {
			sb := pool.Get()
			sb.Reset()
			sb.Append(0, []byte(s))
			in.Push(0, sb)
		}
		in.Finalize(0)
	}()
	go func() {
		for _, s := range bin1 {
			sb := pool.Get()
			sb.Reset()
			sb.Append(1, []byte(s))
			in.Push(1, sb)
		}
		in.Finalize(1)
	}()

	// tiny budget forces a flush after nearly every ingest, exercising the
	// largest-stack eviction path (spec §4.5).
	w := NewBinWriter(tmp, numBins, k, 0.01, 4, pool, zerolog.Nop())
	if err := w.Run(in); err != nil {
		t.Fatalf("BinWriter.Run: %v", err)
	}

	stats := w.Stats()
	if len(stats) != numBins {
		t.Fatalf("got %d stats, want %d", len(stats), numBins)
	}
	for bin, want := range [][]string{bin0, bin1} {
		wantBytes := int64(0)
		for _, s := range want {
			wantBytes += int64(4 + len(s))
		}
		if stats[bin].Bytes != wantBytes {
			t.Fatalf("bin %d: stats.Bytes = %d, want %d", bin, stats[bin].Bytes, wantBytes)
		}
	}

	readPool := bundle.NewPool(8, func() *bundle.SuperBundle { return bundle.NewSuperBundle(64) })
	r := NewBinReader(tmp, readPool, zerolog.Nop())

	for bin, want := range [][]string{bin0, bin1} {
		out := queue.NewMPSC[*bundle.SuperBundle](8)
		if err := r.Next(bin, out); err != nil {
			t.Fatalf("BinReader.Next(%d): %v", bin, err)
		}
		out.Finalize()

		var got []string
		for {
			sb, ok := out.Pop()
			if !ok {
				break
			}
			for _, sm := range sb.Items {
				got = append(got, string(sm.Seq))
			}
		}
		if len(got) != len(want) {
			t.Fatalf("bin %d: got %v, want %v", bin, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("bin %d record %d: got %q, want %q (arrival order must be preserved)", bin, i, got[i], want[i])
			}
		}
	}
}

func TestBinReaderEmptyBinIsNotAnError(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	pool := bundle.NewPool(4, func() *bundle.SuperBundle { return bundle.NewSuperBundle(4) })
	r := NewBinReader(tmp, pool, zerolog.Nop())
	out := queue.NewMPSC[*bundle.SuperBundle](4)
	if err := r.Next(0, out); err != nil {
		t.Fatalf("Next on missing bin file: %v", err)
	}
	out.Finalize()
	if _, ok := out.Pop(); ok {
		t.Fatal("expected no SuperBundles from an empty/missing bin")
	}
}

func TestBinStatSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "binStatFile.txt")

	stats := []BinStat{
		{Bytes: 1024, TotalKmers: 500, UniqueEstimate: 300, MaxCountEstimate: 12},
		{Bytes: 0, TotalKmers: 0, UniqueEstimate: 0, MaxCountEstimate: 0},
		{Bytes: 9999999, TotalKmers: 123456, UniqueEstimate: 99999, MaxCountEstimate: 4},
	}

	for _, withChecksum := range []bool{false, true} {
		if err := SaveStats(path, stats, withChecksum); err != nil {
			t.Fatalf("SaveStats(checksum=%v): %v", withChecksum, err)
		}
		got, err := LoadStats(path, len(stats))
		if err != nil {
			t.Fatalf("LoadStats(checksum=%v): %v", withChecksum, err)
		}
		if len(got) != len(stats) {
			t.Fatalf("got %d stats, want %d", len(got), len(stats))
		}
		for i := range stats {
			if got[i] != stats[i] {
				t.Fatalf("record %d: got %+v, want %+v", i, got[i], stats[i])
			}
		}
	}
}

func TestBinStatChecksumMismatchIsDetected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "binStatFile.txt")
	stats := []BinStat{{Bytes: 10, TotalKmers: 1, UniqueEstimate: 1, MaxCountEstimate: 1}}

	if err := SaveStats(path, stats, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xFF // corrupt the first stats byte, leaving the checksum stale
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadStats(path, len(stats)); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
