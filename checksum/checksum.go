// Package checksum implements the integrity primitives the sync engine is
// built on: a 32-bit rolling weak checksum that can be advanced one byte at
// a time in O(1), and a strong content hash that fingerprints each block
// and resolves weak-hash collisions.
//
// The weak hash follows the same two-accumulator construction as the
// teacher's rollingHash/rollingHash2 in gsync.go, generalized here to slide
// over a ring buffer one byte at a time rather than recomputing per
// fixed-size block read.
package checksum

import (
	"hash"

	"github.com/minio/sha256-simd"
)

// weakMod bounds each accumulator to 16 bits, same as the teacher's gsync.go.
const weakMod = 1 << 16

// Weak is the rsync-style rolling checksum described in Tridgell's thesis:
// two running sums (a, b) folded into a single 32-bit value. It supports
// O(1) advancement by one byte, which is what lets the delta engine slide
// its window across a file without re-hashing the whole block each time.
type Weak struct {
	a, b   uint32
	length uint32
}

// NewWeak computes the rolling checksum of block from scratch.
func NewWeak(block []byte) Weak {
	var w Weak
	w.length = uint32(len(block))
	l := w.length
	for i, k := range block {
		w.a += uint32(k)
		w.b += (l - uint32(i)) * uint32(k)
	}
	return w
}

// Sum folds the two accumulators into the single 32-bit value used as the
// map key in the sender's lookup table.
func (w Weak) Sum() uint32 {
	r1 := w.a % weakMod
	r2 := w.b % weakMod
	return r1 + (weakMod * r2)
}

// Roll advances the window by one byte: old is the byte leaving the window,
// next is the byte entering it. The window length does not change.
//
// This is the incremental form the teacher's rollingHash2 approximates; it
// is re-derived here in terms of the two plain accumulators so it composes
// with a ring buffer of arbitrary capacity instead of a freshly sliced
// block on every call.
func (w Weak) Roll(old, next byte) Weak {
	a := (w.a - uint32(old) + uint32(next)) % weakMod
	b := (w.b - w.length*uint32(old) + a) % weakMod
	return Weak{a: a, b: b, length: w.length}
}

// NewStrong returns a fresh strong content hash. minio/sha256-simd
// transparently uses SHA extensions / AVX2 where available and falls back
// to the stdlib implementation otherwise, so callers never need to branch
// on CPU features themselves.
func NewStrong() hash.Hash {
	return sha256.New()
}

// StrongSum is a convenience one-shot over b, used for each block's strong
// checksum and for the strong-hash check of a matched delta window.
func StrongSum(b []byte) []byte {
	h := NewStrong()
	h.Write(b)
	return h.Sum(nil)
}
