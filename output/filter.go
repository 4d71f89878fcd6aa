// Package output implements the stage-2 OutputFilter and the external
// k-mer/count writer (spec.md §4.9, §6).
package output

import "github.com/biostreamio/kmerflow/bundle"

// Filter reports whether pair's count falls in [lower, upper] (spec §4.9:
// "filters to L <= count <= U"). Filtering is stateless and order-
// insensitive, so it needs no type of its own beyond this pure function.
func Filter(pair bundle.KmcPair, lower, upper uint32) bool {
	return pair.Count >= lower && pair.Count <= upper
}
