package planner

import (
	"testing"

	"github.com/biostreamio/kmerflow/binio"
)

func TestStage1FitsWithinBudget(t *testing.T) {
	t.Parallel()
	plan, err := Stage1(1024, 512, 4)
	if err != nil {
		t.Fatalf("Stage1: %v", err)
	}
	if plan.FastBundles < 1 || plan.ReadBundles < 1 || plan.SuperBundles < 1 {
		t.Fatalf("expected every queue to have at least its minimum count, got %+v", plan)
	}
	if plan.SuperWriterBudgetBytes <= 0 {
		t.Fatalf("expected leftover memory for the bin-writer stack, got %d", plan.SuperWriterBudgetBytes)
	}
}

func TestStage1TooSmallBudgetIsCapacityError(t *testing.T) {
	t.Parallel()
	_, err := Stage1(1, 4096, 64)
	if err == nil {
		t.Fatal("expected a capacity error for an infeasible budget")
	}
}

func TestStage1NonPositiveBudget(t *testing.T) {
	t.Parallel()
	if _, err := Stage1(0, 4, 1); err == nil {
		t.Fatal("expected an error for a zero budget")
	}
	if _, err := Stage1(-10, 4, 1); err == nil {
		t.Fatal("expected an error for a negative budget")
	}
}

func TestStage2FitsWithinBudgetAndGrowsHashTable(t *testing.T) {
	t.Parallel()
	stats := []binio.BinStat{
		{Bytes: 1 << 20, TotalKmers: 1_000_000, UniqueEstimate: 800_000, MaxCountEstimate: 50},
		{Bytes: 2 << 20, TotalKmers: 2_000_000, UniqueEstimate: 1_900_000, MaxCountEstimate: 80},
	}
	plan, err := Stage2(1024, 28, 4, 8, 0, 2, stats)
	if err != nil {
		t.Fatalf("Stage2: %v", err)
	}
	if plan.HashTableCapacity == 0 {
		t.Fatal("expected a non-zero hash table capacity")
	}
	// the largest bin's unique estimate (1.9M, below avg+2sd) exceeds the
	// ~1.52M entries of the 16MB minimum table at k=28, so it should have
	// pushed the hash table past its bare minimum size.
	minCap := uint64(minHashTableMB) * mb / uint64(plan.BytesPerHashEntry)
	if plan.HashTableCapacity <= minCap {
		t.Fatalf("expected hash table to grow beyond the minimum %d, got %d", minCap, plan.HashTableCapacity)
	}
	if plan.MemoryUsedBytes > int64(1024)*mb {
		t.Fatalf("plan uses %d bytes, exceeds the 1024MB budget", plan.MemoryUsedBytes)
	}
}

func TestStage2TooSmallBudgetIsCapacityError(t *testing.T) {
	t.Parallel()
	_, err := Stage2(1, 32, 64, 64, 4, 2, nil)
	if err == nil {
		t.Fatal("expected a capacity error for an infeasible stage-2 budget")
	}
}

func TestStage2InvalidKIsConfigError(t *testing.T) {
	t.Parallel()
	if _, err := Stage2(256, 0, 1, 1, 0, 2, nil); err == nil {
		t.Fatal("expected an error for an invalid k")
	}
}

func TestStage2WithNoBinStatsStillProducesAPlan(t *testing.T) {
	t.Parallel()
	plan, err := Stage2(256, 21, 2, 4, 0, 2, nil)
	if err != nil {
		t.Fatalf("Stage2 with nil stats: %v", err)
	}
	if plan.SuperBundles < 1 || plan.KmerBundles < 1 {
		t.Fatalf("expected minimum queue counts even with no stats, got %+v", plan)
	}
}

func TestDefaultMinimizerSizeIsClampedAndMonotone(t *testing.T) {
	t.Parallel()
	prev := DefaultMinimizerSize(1)
	if prev < MinMinimizerSize || prev > MaxMinimizerSize {
		t.Fatalf("DefaultMinimizerSize(1) = %d out of range [%d, %d]", prev, MinMinimizerSize, MaxMinimizerSize)
	}
	for _, tempFiles := range []int{4, 16, 64, 256, 1024, 1 << 20} {
		m := DefaultMinimizerSize(tempFiles)
		if m < MinMinimizerSize || m > MaxMinimizerSize {
			t.Fatalf("DefaultMinimizerSize(%d) = %d out of range [%d, %d]", tempFiles, m, MinMinimizerSize, MaxMinimizerSize)
		}
		if m < prev {
			t.Fatalf("DefaultMinimizerSize(%d) = %d is smaller than DefaultMinimizerSize of a smaller tempFiles count (%d)", tempFiles, m, prev)
		}
		prev = m
	}
}

func TestDefaultMemoryBudgetMBUsesInjectedProbe(t *testing.T) {
	orig := totalSystemMemoryBytesFn
	defer func() { totalSystemMemoryBytesFn = orig }()

	totalSystemMemoryBytesFn = func() (uint64, bool) { return 8 * (1 << 30), true }
	got, ok := DefaultMemoryBudgetMB()
	if !ok {
		t.Fatal("expected ok=true with a successful probe")
	}
	want := 8*1024 - 1024
	if got != want {
		t.Fatalf("DefaultMemoryBudgetMB() = %d, want %d", got, want)
	}

	totalSystemMemoryBytesFn = func() (uint64, bool) { return 0, false }
	if _, ok := DefaultMemoryBudgetMB(); ok {
		t.Fatal("expected ok=false when the probe fails")
	}

	totalSystemMemoryBytesFn = func() (uint64, bool) { return 512 * (1 << 20), true }
	if _, ok := DefaultMemoryBudgetMB(); ok {
		t.Fatal("expected ok=false when total memory doesn't clear the 1024MB reservation")
	}
}
