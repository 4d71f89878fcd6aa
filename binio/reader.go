package binio

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/queue"
)

// BinReader opens bin files in whatever order the Distributor hands it and
// streams their super-mers back out as SuperBundles (spec §4.6). There is a
// single BinReader goroutine (spec §5: "Bin reader (stage 2): 1"); the
// Distributor bounds how far ahead of the hashers it is allowed to run by
// only handing it the next bin while it is fewer than maxReadAhead bins
// ahead of the bins hashers have claimed.
type BinReader struct {
	log    zerolog.Logger
	tmpDir string
	pool   *bundle.Pool[bundle.SuperBundle]
}

// NewBinReader builds a reader over bin files under tmpDir, reusing
// SuperBundles from pool.
func NewBinReader(tmpDir string, pool *bundle.Pool[bundle.SuperBundle], log zerolog.Logger) *BinReader {
	return &BinReader{log: log, tmpDir: tmpDir, pool: pool}
}

// Next reads bin's entire file and pushes its super-mers onto out as
// SuperBundles, respecting out's capacity for backpressure. A bin with no
// file on disk (nothing was ever routed to it) is treated as empty, not an
// error. The caller is responsible for calling Finalize on out once every
// bin in the Distributor's plan has been read.
func (r *BinReader) Next(bin int, out *queue.MPSC[*bundle.SuperBundle]) error {
	f, err := os.Open(binFilePath(r.tmpDir, bin))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return kerrors.IOBin("binio", bin, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	sb := r.pool.Get()
	sb.Reset()

	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(br, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return kerrors.IOBin("binio", bin, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		seq := make([]byte, n)
		if _, err := io.ReadFull(br, seq); err != nil {
			return kerrors.IOBin("binio", bin, err)
		}
		if !sb.Append(bin, seq) {
			out.Push(sb)
			sb = r.pool.Get()
			sb.Reset()
			sb.Append(bin, seq)
		}
	}
	if len(sb.Items) > 0 {
		out.Push(sb)
	} else {
		sb.Reset()
		r.pool.Put(sb)
	}
	return nil
}

// Run reads every bin in order, in the sequence the Distributor supplies
// (nextBin is called once per bin and may block until that bin is ready to
// be claimed), then finalizes out.
func (r *BinReader) Run(numBins int, nextBin func() (bin int, ok bool), out *queue.MPSC[*bundle.SuperBundle]) error {
	defer out.Finalize()
	for {
		bin, ok := nextBin()
		if !ok {
			return nil
		}
		if err := r.Next(bin, out); err != nil {
			return err
		}
	}
}
