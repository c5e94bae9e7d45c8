// Package codec implements the (K, M) Reed-Solomon erasure code used for
// chunks placed in ERASURE mode (spec.md §4.7).
//
// The wire-level contract is simple: Encode splits a chunk into K equal
// data fragments and produces M parity fragments such that any K of the
// resulting K+M fragments reconstruct the original bytes. Decode takes
// whatever fragments survived placement and returns the original payload,
// truncated back to its pre-padding length.
//
// The GF(2^8) arithmetic itself is not reimplemented here — this package is
// a thin domain wrapper (padding, fragment metadata, checksum) around
// github.com/klauspost/reedsolomon, the library every production Go storage
// system that does this (AIStore's ec package, Sia's renter) reaches for
// rather than hand-rolling the math.
package codec
