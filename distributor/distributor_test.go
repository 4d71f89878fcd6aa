package distributor

import (
	"sync"
	"testing"
	"time"
)

func TestOrderIsLargestFirst(t *testing.T) {
	t.Parallel()
	d := New([]int64{10, 50, 20, 5}, 2, 4)
	want := []int{1, 2, 0, 3}
	got := d.Order()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestClaimFollowsReaderAndIsExhaustive(t *testing.T) {
	t.Parallel()
	d := New([]int64{3, 1, 2}, 1, 3)

	var read []int
	for {
		bin, ok := d.NextForReader()
		if !ok {
			break
		}
		read = append(read, bin)
	}
	if len(read) != 3 {
		t.Fatalf("reader got %d bins, want 3", len(read))
	}

	var claimed []int
	for {
		bin, ok := d.Claim(0)
		if !ok {
			break
		}
		claimed = append(claimed, bin)
	}
	if len(claimed) != 3 {
		t.Fatalf("hasher claimed %d bins, want 3", len(claimed))
	}
	for i := range read {
		if read[i] != claimed[i] {
			t.Fatalf("claim order %v diverges from read order %v", claimed, read)
		}
	}
}

func TestReaderBlocksUntilClaimed(t *testing.T) {
	t.Parallel()
	d := New([]int64{1, 1, 1, 1}, 1, 1) // read-ahead of exactly one bin

	first, ok := d.NextForReader()
	if !ok {
		t.Fatal("expected a bin")
	}

	done := make(chan int, 1)
	go func() {
		bin, _ := d.NextForReader()
		done <- bin
	}()

	select {
	case <-done:
		t.Fatal("reader should have blocked: already one bin ahead of the claim pointer")
	case <-time.After(30 * time.Millisecond):
	}

	claimed, ok := d.Claim(0)
	if !ok || claimed != first {
		t.Fatalf("Claim() = %d, %v; want %d, true", claimed, ok, first)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader never unblocked after a claim freed up read-ahead")
	}
}

func TestCurrentTracksAssignmentUntilRelease(t *testing.T) {
	t.Parallel()
	d := New([]int64{5, 5}, 1, 4)
	if c := d.Current(0); c != -1 {
		t.Fatalf("Current before any claim = %d, want -1", c)
	}
	d.NextForReader()
	bin, ok := d.Claim(0)
	if !ok {
		t.Fatal("expected a claim to succeed")
	}
	if c := d.Current(0); c != bin {
		t.Fatalf("Current = %d, want %d", c, bin)
	}
	d.Release(0)
	if c := d.Current(0); c != -1 {
		t.Fatalf("Current after release = %d, want -1", c)
	}
}

func TestConcurrentHashersClaimDisjointBins(t *testing.T) {
	t.Parallel()
	const numBins = 50
	sizes := make([]int64, numBins)
	for i := range sizes {
		sizes[i] = int64(numBins - i)
	}
	d := New(sizes, 4, numBins)
	go func() {
		for {
			if _, ok := d.NextForReader(); !ok {
				return
			}
		}
	}()

	seen := make([]bool, numBins)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for h := 0; h < 4; h++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			for {
				bin, ok := d.Claim(h)
				if !ok {
					return
				}
				mu.Lock()
				if seen[bin] {
					t.Errorf("bin %d claimed twice", bin)
				}
				seen[bin] = true
				mu.Unlock()
				d.Release(h)
			}
		}(h)
	}
	wg.Wait()
	for bin, ok := range seen {
		if !ok {
			t.Fatalf("bin %d was never claimed", bin)
		}
	}
}
