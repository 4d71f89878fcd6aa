// Package kmer implements the 2-bit k-mer alphabet encoding, canonical-form
// selection, and the packed on-disk/in-table byte representation described in
// spec.md §3 and §8 (P8: canonical encoding round-trip).
package kmer

import "fmt"

// Base is one of the four DNA bases, 2-bit encoded: A=00, C=01, G=10, T=11.
type Base byte

const (
	A Base = 0
	C Base = 1
	G Base = 2
	T Base = 3

	// Invalid marks a byte outside {A,C,G,T} (spec §4.3: such bases are
	// boundary separators, not part of any k-mer).
	Invalid Base = 0xFF
)

// baseOf maps an ASCII byte to its 2-bit code, or Invalid.
func baseOf(b byte) Base {
	switch b {
	case 'A', 'a':
		return A
	case 'C', 'c':
		return C
	case 'G', 'g':
		return G
	case 'T', 't':
		return T
	default:
		return Invalid
	}
}

// Encode packs a length-k ASCII sequence into ⌈2k/8⌉ bytes, MSB-first within
// each byte, zero-padded at the end. Returns false if the sequence contains a
// base outside {A,C,G,T}.
func Encode(seq []byte) ([]byte, bool) {
	k := len(seq)
	out := make([]byte, ByteLen(k))
	for i, c := range seq {
		b := baseOf(c)
		if b == Invalid {
			return nil, false
		}
		bitOff := uint(i*2) % 8
		byteOff := i / 4
		out[byteOff] |= byte(b) << (6 - bitOff)
	}
	return out, true
}

// Decode unpacks k bases from their 2-bit packed encoding.
func Decode(enc []byte, k int) []byte {
	out := make([]byte, k)
	letters := [4]byte{'A', 'C', 'G', 'T'}
	for i := 0; i < k; i++ {
		bitOff := uint(i*2) % 8
		byteOff := i / 4
		b := (enc[byteOff] >> (6 - bitOff)) & 0x3
		out[i] = letters[b]
	}
	return out
}

// ByteLen returns ⌈2k/8⌉, the packed encoding length for a k-mer of size k.
func ByteLen(k int) int {
	return (2*k + 7) / 8
}

// ReverseComplement returns the reverse complement of an ASCII k-mer.
func ReverseComplement(seq []byte) []byte {
	out := make([]byte, len(seq))
	n := len(seq)
	for i, c := range seq {
		out[n-1-i] = complementByte(c)
	}
	return out
}

func complementByte(c byte) byte {
	switch c {
	case 'A', 'a':
		return 'T'
	case 'C', 'c':
		return 'G'
	case 'G', 'g':
		return 'C'
	case 'T', 't':
		return 'A'
	default:
		return 'N'
	}
}

// Canonical returns the lexicographically smaller of seq and its reverse
// complement, compared on their 2-bit encodings (spec §3: "canonical form is
// min(kmer, reverse-complement(kmer)) in lexicographic order on 2-bit
// encoding"). The returned slice is always a fresh copy.
func Canonical(seq []byte) ([]byte, bool) {
	fwd, ok := Encode(seq)
	if !ok {
		return nil, false
	}
	rc := ReverseComplement(seq)
	rev, ok := Encode(rc)
	if !ok {
		return nil, false
	}
	if compareBytes(fwd, rev) <= 0 {
		return append([]byte(nil), seq...), true
	}
	return rc, true
}

// CanonicalEncoded is Canonical, but operates directly on 2-bit encodings and
// returns the smaller of the two encodings without needing the ASCII form.
func CanonicalEncoded(fwd, rev []byte) []byte {
	if compareBytes(fwd, rev) <= 0 {
		return fwd
	}
	return rev
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ReverseComplementEncoded computes the reverse complement directly on a
// packed encoding of a length-k k-mer, without round-tripping through ASCII.
func ReverseComplementEncoded(enc []byte, k int) []byte {
	out := make([]byte, len(enc))
	for i := 0; i < k; i++ {
		bitOff := uint(i*2) % 8
		byteOff := i / 4
		b := Base((enc[byteOff] >> (6 - bitOff)) & 0x3)
		cb := Base(3 - b) // A<->T (0<->3), C<->G (1<->2)

		j := k - 1 - i
		jBitOff := uint(j*2) % 8
		jByteOff := j / 4
		out[jByteOff] |= byte(cb) << (6 - jBitOff)
	}
	return out
}

// String renders a packed encoding back to its ASCII form, for diagnostics.
func String(enc []byte, k int) string {
	return string(Decode(enc, k))
}

// Validate returns an error if k is outside the supported range shared by
// the splitter, hasher, and planner.
func Validate(k int) error {
	if k < MinK || k > MaxK {
		return fmt.Errorf("k-mer size %d out of range [%d,%d]", k, MinK, MaxK)
	}
	return nil
}

const (
	MinK = 2
	MaxK = 127
)
