// Package hasher implements the stage-2 hasher (spec.md §4.7): an
// open-addressed hash table keyed by canonical k-mer, the CPU insertion
// algorithm with overflow spill-and-recurse, and a GPU-capability stub that
// shares the same worker contract.
package hasher

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/biostreamio/kmerflow/bundle"
)

// maxLoadFactor is the load factor at which Insert refuses to claim a new
// slot even if one is free, so probe chains stay short (spec §4.7 step 4:
// "when load factor >= threshold ... halt insertion and spill").
const maxLoadFactor = 0.85

type slot struct {
	key   string // packed canonical encoding as a string; "" means unused
	count uint32
}

// Table is a fixed-capacity open-addressed hash table, "owned by exactly one
// hasher at a time" (spec §5). Capacity never grows; once Insert reports
// overflow the caller is responsible for spilling into sub-bins (spec §4.7
// step 4).
type Table struct {
	slots []slot
	used  int
}

// NewTable allocates a table with room for capacity entries.
func NewTable(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	return &Table{slots: make([]slot, capacity)}
}

// LoadFactor returns the fraction of slots currently occupied.
func (t *Table) LoadFactor() float64 { return float64(t.used) / float64(len(t.slots)) }

// Insert claims a slot for enc (incrementing if it already has one), probing
// linearly up to maxProbe slots (or the whole table if maxProbe <= 0).
// Returns false if the key could not be placed: either the load factor has
// already crossed maxLoadFactor, or maxProbe consecutive slots were all
// occupied by other keys. Either case is this table's "overflow" (spec §4.7
// step 4) and the caller must spill.
func (t *Table) Insert(enc []byte, maxProbe int) bool {
	n := len(t.slots)
	if maxProbe <= 0 || maxProbe > n {
		maxProbe = n
	}
	key := string(enc)
	h := xxhash.Sum64(enc)
	start := h % uint64(n)
	for i := 0; i < maxProbe; i++ {
		idx := int((start + uint64(i)) % uint64(n))
		s := &t.slots[idx]
		if s.key == key {
			if s.count < math.MaxUint32 {
				s.count++
			}
			return true
		}
		if s.key == "" {
			if t.LoadFactor() >= maxLoadFactor {
				return false
			}
			s.key = key
			s.count = 1
			t.used++
			return true
		}
	}
	return false
}

// Entries returns every (k-mer, count) pair with count >= thresholdMin, in
// table-slot order — emission order is unspecified by the spec (§4.7 step 5).
func (t *Table) Entries(thresholdMin uint32) []bundle.KmcPair {
	var out []bundle.KmcPair
	for _, s := range t.slots {
		if s.key == "" || s.count < thresholdMin {
			continue
		}
		out = append(out, bundle.KmcPair{Kmer: []byte(s.key), Count: s.count})
	}
	return out
}
