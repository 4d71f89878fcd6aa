package output

import (
	"bufio"
	"encoding/binary"
	"os"
	"strconv"

	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/kmer"
)

// Format selects the on-disk encoding of the final (k-mer, count) stream
// (spec §6's `-f {fasta|bin}`).
type Format int

const (
	FASTA Format = iota
	Binary
)

// Writer accepts filtered (k-mer, count) pairs and appends them to the
// configured output file. Not safe for concurrent use; the pipeline's KMC
// writer is single-threaded (spec §5: "KMC writer: 1").
type Writer struct {
	k      int
	format Format
	f      *os.File
	bw     *bufio.Writer
}

// NewWriter creates path (truncating any existing file) and returns a Writer
// that renders packed k-mers of size k in the given format.
func NewWriter(path string, k int, format Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, kerrors.IO("output", err)
	}
	return &Writer{k: k, format: format, f: f, bw: bufio.NewWriter(f)}, nil
}

// Write appends one (k-mer, count) pair. kmerEnc is the packed canonical
// encoding, kmer.ByteLen(k) bytes long.
func (w *Writer) Write(kmerEnc []byte, count uint32) error {
	switch w.format {
	case Binary:
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], count)
		if _, err := w.bw.Write(lenBuf[:]); err != nil {
			return kerrors.IO("output", err)
		}
		if _, err := w.bw.Write(kmerEnc); err != nil {
			return kerrors.IO("output", err)
		}
	default: // FASTA
		if _, err := w.bw.WriteString(">" + strconv.FormatUint(uint64(count), 10) + "\n"); err != nil {
			return kerrors.IO("output", err)
		}
		if _, err := w.bw.Write(kmer.Decode(kmerEnc, w.k)); err != nil {
			return kerrors.IO("output", err)
		}
		if err := w.bw.WriteByte('\n'); err != nil {
			return kerrors.IO("output", err)
		}
	}
	return nil
}

// Close flushes buffered output and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		return kerrors.IO("output", err)
	}
	if err := w.f.Close(); err != nil {
		return kerrors.IO("output", err)
	}
	return nil
}

// ParseFormat maps the `-f` flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "fasta", "":
		return FASTA, nil
	case "bin":
		return Binary, nil
	default:
		return FASTA, kerrors.Config("output", errUnknownFormat{s})
	}
}

type errUnknownFormat struct{ value string }

func (e errUnknownFormat) Error() string { return "unknown output format: " + e.value }
