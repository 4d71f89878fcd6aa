package binio

import (
	"encoding/binary"
	"hash"
	"os"
	"sync"

	sha256simd "github.com/minio/sha256-simd"

	"github.com/biostreamio/kmerflow/kerrors"
)

// BinStat holds per-bin statistics accumulated by the BinWriter during
// stage 1 and consumed, read-only, by the memory planner and distributor in
// stage 2 (spec.md §3, §4.5, §4.8).
type BinStat struct {
	Bytes            int64  // total bytes written to the bin file
	TotalKmers       uint64 // total k-mer occurrences routed to this bin
	UniqueEstimate   uint64 // cheap estimate of distinct k-mers in the bin
	MaxCountEstimate uint64 // rough upper bound on any single k-mer's count
}

// statRecordSize is the fixed on-disk size of one BinStat record: four
// little-endian 8-byte fields (spec §6: "one fixed-size record per bin in
// bin-id order").
const statRecordSize = 32

var shaPool = sync.Pool{New: func() interface{} { return sha256simd.New() }}

// SaveStats writes one statRecordSize record per bin, in bin-id order, to
// path. When withChecksum is set a trailing 32-byte SHA-256 digest of the
// record bytes is appended, so a later LoadStats can detect truncation or
// corruption of a bin-stat file retained via `--leave-bin-stat` (SPEC_FULL.md
// §3: pooled SHA-256 checksum footer, repurposing the teacher's shaPool
// pattern for a non-Merkle use).
func SaveStats(path string, stats []BinStat, withChecksum bool) error {
	buf := make([]byte, 0, len(stats)*statRecordSize)
	for _, s := range stats {
		var rec [statRecordSize]byte
		binary.LittleEndian.PutUint64(rec[0:8], uint64(s.Bytes))
		binary.LittleEndian.PutUint64(rec[8:16], s.TotalKmers)
		binary.LittleEndian.PutUint64(rec[16:24], s.UniqueEstimate)
		binary.LittleEndian.PutUint64(rec[24:32], s.MaxCountEstimate)
		buf = append(buf, rec[:]...)
	}
	if withChecksum {
		buf = append(buf, checksum(buf)...)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return kerrors.IO("binio", err)
	}
	return nil
}

// LoadStats reads numBins fixed-size records from path, in bin-id order. If
// the file is exactly 32 bytes longer than numBins*statRecordSize, the extra
// bytes are treated as a SHA-256 checksum footer and verified.
func LoadStats(path string, numBins int) ([]BinStat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.IO("binio", err)
	}
	want := numBins * statRecordSize
	switch {
	case len(data) == want:
		// no checksum footer
	case len(data) == want+32:
		body := data[:want]
		sum := data[want:]
		if !bytesEqual(checksum(body), sum) {
			return nil, kerrors.Format("binio", errChecksumMismatch{path})
		}
		data = body
	default:
		return nil, kerrors.Format("binio", errBinStatSize{path, len(data), want})
	}

	stats := make([]BinStat, numBins)
	for i := 0; i < numBins; i++ {
		rec := data[i*statRecordSize : (i+1)*statRecordSize]
		stats[i] = BinStat{
			Bytes:            int64(binary.LittleEndian.Uint64(rec[0:8])),
			TotalKmers:       binary.LittleEndian.Uint64(rec[8:16]),
			UniqueEstimate:   binary.LittleEndian.Uint64(rec[16:24]),
			MaxCountEstimate: binary.LittleEndian.Uint64(rec[24:32]),
		}
	}
	return stats, nil
}

func checksum(data []byte) []byte {
	h := shaPool.Get().(hash.Hash)
	h.Reset()
	h.Write(data)
	sum := h.Sum(nil)
	shaPool.Put(h)
	return sum
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type errChecksumMismatch struct{ path string }

func (e errChecksumMismatch) Error() string { return "bin-stat checksum mismatch: " + e.path }

type errBinStatSize struct {
	path          string
	got, expected int
}

func (e errBinStatSize) Error() string {
	return "bin-stat file " + e.path + " has unexpected size (bin count mismatch)"
}
