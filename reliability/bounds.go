// Package reliability implements the reliability-band function spec.md §1
// treats as an external pure function: bounds(coverage, erate, k, p) → (L, U).
//
// spec.md deliberately keeps this out of core scope, but the pipeline has to
// call something concrete to run end to end, so this package restores the
// closed form from original_source/src/gerbil/Application.cpp
// (computeUpper_inG / computeLower_inG): a binomial tail search over the
// number of error-free bases needed for a k-mer drawn from reads at the
// given coverage and per-base error rate to be "trustworthy". The C++ source
// computes raw factorials in long double, which overflows silently for
// realistic coverage values; this port works in log-space instead (lgamma)
// so the same search is numerically stable at any supported coverage.
package reliability

import "math"

// MinLower is the floor Gerbil enforces on the lower bound regardless of
// the search outcome (spec §9 / Application.cpp: "the lower bound is fixed
// and ... at least 2").
const MinLower = 2

// Bounds returns the reliability band [L, U] for the given sequencing
// coverage, per-base error rate, k-mer size, and target tail probability.
// A k-mer with true multiplicity in [L, U] is considered trustworthy; outside
// it, it is assumed to be either sequencing noise (below L) or a repeat
// artifact (above U).
func Bounds(coverage int, erate float64, k int, minProbability float64) (lower, upper int) {
	if coverage < 1 {
		coverage = 1
	}
	if erate <= 0 {
		erate = 1e-6
	}
	if erate >= 1 {
		erate = 1 - 1e-6
	}

	logSurvival := math.Log(1 - erate) // log P(one base correct)
	logErrorWedge := math.Log(1 - math.Pow(1-erate, float64(k)))

	upper = searchUpper(coverage, logSurvival, logErrorWedge, k, minProbability)
	lower = searchLower(coverage, logSurvival, logErrorWedge, k, minProbability)
	if lower < MinLower {
		lower = MinLower
	}
	if upper < lower {
		upper = lower
	}
	return lower, upper
}

// logBinomPMF returns log P(X=m) for X ~ Binomial(n, per-trial log terms
// already folded into logP/logQ), using lgamma for the log of n choose m.
func logBinomPMF(n, m int, logP, logQ float64) float64 {
	logChoose, _ := math.Lgamma(float64(n) + 1)
	lm, _ := math.Lgamma(float64(m) + 1)
	lnm, _ := math.Lgamma(float64(n-m) + 1)
	logChoose = logChoose - lm - lnm
	return logChoose + float64(m)*logP + float64(n-m)*logQ
}

// searchUpper mirrors computeUpper_inG: starting from m = coverage and
// decreasing, accumulate P(X=m) until the running sum reaches
// minProbability; returns m+1 at that point (the smallest count such that
// the tail above it is "improbable").
func searchUpper(coverage int, logSurvival, logErrorWedge float64, k int, minProbability float64) int {
	sum := 0.0
	prev := -1.0
	m := coverage
	for sum < minProbability && m >= 0 {
		p := math.Exp(logBinomPMF(coverage, m, float64(k)*logSurvival, logErrorWedge))
		sum += p
		if sum == prev {
			break
		}
		prev = sum
		m--
	}
	return m + 1
}

// searchLower mirrors computeLower_inG: starting from m = 2 and increasing,
// accumulate P(X=m) until minProbability is reached; returns max(m-1, 2).
func searchLower(coverage int, logSurvival, logErrorWedge float64, k int, minProbability float64) int {
	sum := 0.0
	prev := -1.0
	m := MinLower
	for sum < minProbability && m <= coverage {
		p := math.Exp(logBinomPMF(coverage, m, float64(k)*logSurvival, logErrorWedge))
		sum += p
		if sum == prev {
			break
		}
		prev = sum
		m++
	}
	if m-1 > MinLower {
		return m - 1
	}
	return MinLower
}
