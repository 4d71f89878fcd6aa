package hasher

import (
	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
)

// GPUAvailable reports whether a GPU hashing backend was found at startup.
// This is a capability stub (SPEC_FULL.md's GPU path): claim_bin /
// consume_super_bundle / finalize→emit_bundles is the same CPU Worker
// contract in HashBin, and there is currently no device backend wired
// in, so GPUAvailable always reports false and HashGPUBin always degrades
// to the CPU path with a logged warning, matching spec §4.9's "GPU
// device-discovery failures degrade to CPU-only hashing with a warning".
func GPUAvailable() bool { return false }

// HashGPUBin has the identical signature and contract as HashBin (insert
// batches of encoded k-mers with atomic increment into a device-resident
// table, drain the failure buffer into a small CPU table, merge on
// finalize) so that the distributor and pipeline can treat GPU and CPU
// hashers interchangeably (spec §4.7: "GPU/CPU hashers share the
// Distributor and emit into the same MPSC queue"). Since no device backend
// is wired in, it always falls back to HashBin.
func HashGPUBin(bin int, superMers []bundle.SuperMer, opts Options, log zerolog.Logger) ([]bundle.KmcPair, error) {
	log.Warn().Int("bin", bin).Msg("GPU hashing requested but no device backend is available, falling back to CPU")
	return HashBin(bin, superMers, opts)
}
