package output

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kmer"
)

func TestFilterRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		count, lower, upper uint32
		want                bool
	}{
		{5, 2, 10, true},
		{1, 2, 10, false},
		{11, 2, 10, false},
		{2, 2, 10, true},
		{10, 2, 10, true},
	}
	for _, c := range cases {
		got := Filter(bundle.KmcPair{Count: c.count}, c.lower, c.upper)
		if got != c.want {
			t.Errorf("Filter(count=%d, [%d,%d]) = %v, want %v", c.count, c.lower, c.upper, got, c.want)
		}
	}
}

func TestWriterFASTAFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.fa")
	w, err := NewWriter(path, 4, FASTA)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	enc, _ := kmer.Encode([]byte("ACGT"))
	if err := w.Write(enc, 7); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := ">7\nACGT\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
}

func TestWriterBinaryFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	w, err := NewWriter(path, 4, Binary)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	enc, _ := kmer.Encode([]byte("ACGT"))
	if err := w.Write(enc, 42); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wantLen := 4 + len(enc)
	if len(data) != wantLen {
		t.Fatalf("got %d bytes, want %d", len(data), wantLen)
	}
	gotCount := binary.LittleEndian.Uint32(data[:4])
	if gotCount != 42 {
		t.Fatalf("count = %d, want 42", gotCount)
	}
	if !bytes.Equal(data[4:], enc) {
		t.Fatalf("kmer bytes = %v, want %v", data[4:], enc)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	if f, err := ParseFormat("fasta"); err != nil || f != FASTA {
		t.Fatalf("ParseFormat(fasta) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FASTA {
		t.Fatalf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if f, err := ParseFormat("bin"); err != nil || f != Binary {
		t.Fatalf("ParseFormat(bin) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected an error for an unrecognized format, got %v", err)
	}
}
