// Package planner implements the memory planner (spec.md §4.8): a pure
// function of (budget, thread counts, BinStat) that sizes every bounded
// queue/buffer and the stage-2 hash table. It owns no state and performs no
// I/O; given the same inputs it always returns the same plan (spec P7).
package planner

import (
	"math"
	"strconv"

	"github.com/biostreamio/kmerflow/binio"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/kmer"
)

const mb = 1 << 20

// Per-bundle memory footprints. These stand in for Gerbil's
// FAST_BUNDLE_DATA_SIZE_B / READ_BUNDLE_SIZE_B / SUPER_BUNDLE_DATA_SIZE_B /
// KMER_BUNDLE_DATA_SIZE_B / KMC_BUNDLE_DATA_SIZE_B: fixed per-instance sizes
// used only for planning arithmetic, independent of the bundle package's
// actual Go struct layout.
const (
	fastBundleBytes  = 1 << 20 // 1 MiB
	readBundleBytes  = 1 << 19 // 512 KiB
	superBundleBytes = 1 << 18 // 256 KiB
	kmerBundleBytes  = 1 << 16 // 64 KiB
	kmcBundleBytes   = 1 << 16 // 64 KiB

	baseStage1MB = 64
	baseStage2MB = 64

	minFastBundleBufferMB  = 8
	maxFastBundleBufferMB  = 512
	minReadBundleBufferMB  = 8
	maxReadBundleBufferMB  = 512
	minSuperBundleBufferMB = 8
	maxSuperBundleBufferMB = 512
	minSuperWriterBufferMB = 16

	minSuperBundleBuffer2MB = 8
	minKmerBundleBufferMB   = 8
	minKmcBundleBufferMB    = 8
	minHashTableMB          = 16

	gpuCopyBufferMB          = 64
	failureBuffersPerHasher  = 2
	memKeyHTFraction         = 0.6 // MEM_KEY_HT
)

// Stage1Plan sizes everything the Reader/Parser/Splitter/BinWriter need.
type Stage1Plan struct {
	FastBundles            int
	ReadBundles            int
	SuperBundles           int
	SuperWriterBudgetBytes int64
	MemoryUsedBytes        int64
}

// Stage1 plans stage 1's memory layout for a budget of budgetMB, given the
// configured temp-file (bin) count and splitter thread count (spec §4.8).
func Stage1(budgetMB, tempFiles, splitterThreads int) (Stage1Plan, error) {
	if budgetMB <= 0 {
		return Stage1Plan{}, kerrors.Config("planner", errNonPositiveBudget{})
	}
	budget := int64(budgetMB) * mb

	base := int64(baseStage1MB)*mb + int64(tempFiles*splitterThreads)*superBundleBytes

	fastN := minCount(minFastBundleBufferMB, fastBundleBytes)
	readN := minCount(minReadBundleBufferMB, readBundleBytes)
	superN := minCount(minSuperBundleBufferMB, superBundleBytes)

	used := base + fastN*fastBundleBytes + readN*readBundleBytes + superN*superBundleBytes + int64(minSuperWriterBufferMB)*mb
	if used > budget {
		return Stage1Plan{}, kerrors.Capacity("planner", errBudgetTooSmall{"stage1", used, budget})
	}

	queueUsage := base + fastN*fastBundleBytes + readN*readBundleBytes + superN*superBundleBytes
	// reserve half of whatever remains for the bin-writer stack before
	// growing any queue past its minimum (spec §4.8: "subject to reserving
	// 50% of remaining memory for the bin-writer stack").
	available := (budget - queueUsage) / 2

	optFastN := maxCount(maxFastBundleBufferMB, fastBundleBytes, fastN)
	optReadN := maxCount(maxReadBundleBufferMB, readBundleBytes, readN)
	optSuperN := maxCount(maxSuperBundleBufferMB, superBundleBytes, superN)

	memOptFast := optFastN * fastBundleBytes
	memOptRead := optReadN * readBundleBytes
	memOptSuper := optSuperN * superBundleBytes
	sumOpt := memOptFast + memOptRead + memOptSuper

	if sumOpt > 0 {
		if sumOpt <= available {
			fastN += optFastN
			readN += optReadN
			superN += optSuperN
		} else {
			fastN += proportion(available, memOptFast, sumOpt, fastBundleBytes)
			readN += proportion(available, memOptRead, sumOpt, readBundleBytes)
			superN += proportion(available, memOptSuper, sumOpt, superBundleBytes)
		}
	}

	queueUsage = base + fastN*fastBundleBytes + readN*readBundleBytes + superN*superBundleBytes
	writerBudget := budget - queueUsage // all remaining memory goes to the bin-writer stack

	return Stage1Plan{
		FastBundles:            int(fastN),
		ReadBundles:            int(readN),
		SuperBundles:           int(superN),
		SuperWriterBudgetBytes: writerBudget,
		MemoryUsedBytes:        budget,
	}, nil
}

// Stage2Plan sizes everything the BinReader/Hasher/OutputFilter need.
type Stage2Plan struct {
	SuperBundles      int
	KmerBundles       int
	KmcBundles        int
	HashTableCapacity uint64
	BytesPerHashEntry int
	MemoryUsedBytes   int64
}

// Stage2 plans stage 2's memory layout for a budget of budgetMB, given k,
// thread counts, and the BinStat gathered during stage 1 (spec §4.8).
func Stage2(budgetMB, k, splitterThreads, hasherThreads, numGPUs, thresholdMin int, stats []binio.BinStat) (Stage2Plan, error) {
	if budgetMB <= 0 {
		return Stage2Plan{}, kerrors.Config("planner", errNonPositiveBudget{})
	}
	if err := kmer.Validate(k); err != nil {
		return Stage2Plan{}, kerrors.Config("planner", err)
	}
	budget := int64(budgetMB) * mb
	bytesPerEntry := int64(kmer.ByteLen(k) + 4) // packed k-mer + uint32 counter

	base := int64(baseStage2MB)*mb + int64(numGPUs)*gpuCopyBufferMB*mb
	base += int64(splitterThreads*hasherThreads) * kmerBundleBytes
	base += 2 * int64(hasherThreads+numGPUs) * kmerBundleBytes
	base += 2 * int64(hasherThreads+numGPUs) * (1 + failureBuffersPerHasher) * kmerBundleBytes
	base += int64(hasherThreads+numGPUs) * kmcBundleBytes

	superN := minCount(minSuperBundleBuffer2MB, superBundleBytes)
	kmerN := minCount(minKmerBundleBufferMB, kmerBundleBytes)
	kmcN := minCount(minKmcBundleBufferMB, kmcBundleBytes)
	hashCap := int64(minHashTableMB) * mb / bytesPerEntry
	if hashCap < 1 {
		hashCap = 1
	}

	used := base + superN*superBundleBytes + kmerN*kmerBundleBytes + kmcN*kmcBundleBytes + hashCap*bytesPerEntry
	if used > budget {
		return Stage2Plan{}, kerrors.Capacity("planner", errBudgetTooSmall{"stage2", used, budget})
	}

	avgUnique, maxUnique, sdUnique := momentsUint64(stats, func(s binio.BinStat) uint64 { return s.UniqueEstimate })
	avg2sdUnique := avgUnique + 2*sdUnique
	maxU := maxUnique
	if avg2sdUnique < maxU {
		maxU = avg2sdUnique
	}
	if maxU > hashCap {
		extra := maxU - hashCap
		available := budget - used
		ceiling := int64(float64(available) * memKeyHTFraction / float64(bytesPerEntry))
		if extra > ceiling {
			extra = ceiling
		}
		if extra > 0 {
			hashCap += extra
			used += extra * bytesPerEntry
		}
	}

	avgBytes, _, sdBytes := momentsInt64(stats, func(s binio.BinStat) int64 { return s.Bytes })
	avg2sdBytes := avgBytes + 2*sdBytes

	avgKmers, _, sdKmers := momentsUint64(stats, func(s binio.BinStat) uint64 { return s.TotalKmers })
	avg2sdKmers := avgKmers + 2*sdKmers

	available := budget - used

	optSuperN := avg2sdBytes / superBundleBytes
	optKmerN := int64(avg2sdKmers) * (bytesPerEntry - 4) / kmerBundleBytes
	var optKmcN int64
	if thresholdMin > 1 {
		optKmcN = int64(avgKmers) * (bytesPerEntry - 4) / int64((1+2*math.Log(float64(thresholdMin)))*kmcBundleBytes)
	}

	optSuperN = headroom(optSuperN, superN)
	optKmerN = headroom(optKmerN, kmerN)
	optKmcN = headroom(optKmcN, kmcN)

	memOptSuper := optSuperN * superBundleBytes
	memOptKmer := optKmerN * kmerBundleBytes
	memOptKmc := optKmcN * kmcBundleBytes
	sumOpt := memOptSuper + memOptKmer + memOptKmc

	if sumOpt > 0 {
		if sumOpt <= available {
			superN += optSuperN
			kmerN += optKmerN
			kmcN += optKmcN
		} else {
			superN += proportion(available, memOptSuper, sumOpt, superBundleBytes)
			kmerN += proportion(available, memOptKmer, sumOpt, kmerBundleBytes)
			kmcN += proportion(available, memOptKmc, sumOpt, kmcBundleBytes)
		}
	}

	used = base + superN*superBundleBytes + kmerN*kmerBundleBytes + kmcN*kmcBundleBytes + hashCap*bytesPerEntry

	return Stage2Plan{
		SuperBundles:      int(superN),
		KmerBundles:       int(kmerN),
		KmcBundles:        int(kmcN),
		HashTableCapacity: uint64(hashCap),
		BytesPerHashEntry: int(bytesPerEntry),
		MemoryUsedBytes:   used,
	}, nil
}

func minCount(bufferMB int, perItem int64) int64 {
	n := int64(bufferMB) * mb / perItem
	if n < 1 {
		n = 1
	}
	return n
}

// maxCount returns the additional headroom (in item count) between the
// already-assured count and the max-buffer-size ceiling, or 0 if none.
func maxCount(maxBufferMB int, perItem int64, assured int64) int64 {
	maxN := int64(maxBufferMB) * mb / perItem
	if maxN > assured {
		return maxN - assured
	}
	return 0
}

// headroom mirrors maxCount's "subtract what's already assured" shape for
// optional counts derived from BinStat rather than a fixed ceiling.
func headroom(opt, assured int64) int64 {
	if opt > assured {
		return opt - assured
	}
	return 0
}

func proportion(available, memOpt, sumOpt, perItem int64) int64 {
	if sumOpt == 0 {
		return 0
	}
	return int64(float64(available) / float64(perItem) * (float64(memOpt) / float64(sumOpt)))
}

func momentsUint64(stats []binio.BinStat, field func(binio.BinStat) uint64) (avg, maxOut, stddev int64) {
	if len(stats) == 0 {
		return 0, 0, 0
	}
	var sum, maxV uint64
	for _, s := range stats {
		v := field(s)
		sum += v
		if v > maxV {
			maxV = v
		}
	}
	mean := float64(sum) / float64(len(stats))
	var variance float64
	for _, s := range stats {
		d := float64(field(s)) - mean
		variance += d * d
	}
	variance /= float64(len(stats))
	return int64(mean), int64(maxV), int64(math.Sqrt(variance))
}

func momentsInt64(stats []binio.BinStat, field func(binio.BinStat) int64) (avg, maxOut, stddev int64) {
	if len(stats) == 0 {
		return 0, 0, 0
	}
	var sum, maxV int64
	for _, s := range stats {
		v := field(s)
		sum += v
		if v > maxV {
			maxV = v
		}
	}
	mean := float64(sum) / float64(len(stats))
	var variance float64
	for _, s := range stats {
		d := float64(field(s)) - mean
		variance += d * d
	}
	variance /= float64(len(stats))
	return int64(mean), maxV, int64(math.Sqrt(variance))
}

type errNonPositiveBudget struct{}

func (errNonPositiveBudget) Error() string { return "memory budget must be positive" }

type errBudgetTooSmall struct {
	stage      string
	used, have int64
}

func (e errBudgetTooSmall) Error() string {
	return e.stage + ": memory budget too small to satisfy minimum buffer sizes (" +
		strconv.FormatInt(e.used/mb, 10) + "MB needed, " + strconv.FormatInt(e.have/mb, 10) + "MB available)"
}

// DefaultMinimizerSize restores Gerbil's autocompleteParams m-derivation:
// m grows with log4(tempFiles) plus a small safety margin for balanced bin
// sizes, clamped to [MinMinimizerSize, MaxMinimizerSize].
func DefaultMinimizerSize(tempFiles int) int {
	m := 0
	for x := tempFiles; x > 0; x >>= 2 {
		m++
	}
	if m < MaxMinimizerSize {
		m++
	}
	if m < MaxMinimizerSize {
		m++
	}
	if m > MaxMinimizerSize {
		m = MaxMinimizerSize
	}
	if m < MinMinimizerSize {
		m = MinMinimizerSize
	}
	return m
}

const (
	MinMinimizerSize = 4
	MaxMinimizerSize = 10
)

// DefaultMemoryBudgetMB restores Gerbil's auto-detected memory budget: total
// system RAM minus a 1024 MB reservation for the OS and file-cache headroom.
// ok is false when detection fails or there isn't enough headroom, in which
// case the caller must require an explicit -e flag.
func DefaultMemoryBudgetMB() (budgetMB int, ok bool) {
	totalBytes, detected := totalSystemMemoryBytesFn()
	if !detected {
		return 0, false
	}
	totalMB := int(totalBytes / (1 << 20))
	if totalMB <= 1024 {
		return 0, false
	}
	return totalMB - 1024, true
}
