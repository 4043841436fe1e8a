// Package rollsum implements the weak rolling checksum used to find
// matching blocks between two versions of a file.
//
// The checksum is a pair of 16-bit sums over a window of L bytes:
//
//	a = W[0] + W[1] + ... + W[L-1]
//	b = L*W[0] + (L-1)*W[1] + ... + 1*W[L-1]
//
// Both are reduced mod 65536.  Peers compare checksums bit for bit, so
// the wraparound is part of the format, not an accident of the integer
// width.
package rollsum

import (
	. "github.com/stevegt/goadapt"
)

// RollingChecksum holds the two accumulators for one window.  The zero
// value is the checksum of an empty window.
type RollingChecksum struct {
	a uint16
	b uint16
}

// New computes the checksum of block from scratch.
func New(block []byte) *RollingChecksum {
	r := &RollingChecksum{}
	// x is the weight of the current byte: len(block) for the first,
	// 1 for the last
	x := uint16(len(block))
	for _, c := range block {
		r.a += uint16(c)
		r.b += x * uint16(c)
		x--
	}
	return r
}

// RollForward moves the window forward by one byte.  leaving is the
// first byte of the current window, entering is the byte just after
// it, and length is the window size.
func (r *RollingChecksum) RollForward(leaving, entering byte, length int) {
	r.a -= uint16(leaving)
	r.a += uint16(entering)
	r.b -= uint16(length) * uint16(leaving)
	r.b += r.a
}

// RollForwardSeveral moves the window forward by skip bytes.  window
// starts at the first byte of the current window and entering starts
// at the first byte after it; both must hold at least skip bytes.
// The result is the same as calling New on the shifted window, for any
// skip from 1 to length, at a cost proportional to skip.
func (r *RollingChecksum) RollForwardSeveral(window, entering []byte, length, skip int) {
	Assert(skip >= 1 && skip <= length, "skip %d out of range 1..%d", skip, length)
	Assert(len(window) >= skip && len(entering) >= skip, "short input for skip %d", skip)

	var sumLeaving uint16
	for i := 0; i < skip; i++ {
		leaving := uint16(window[i])
		sumLeaving += leaving
		r.a += uint16(entering[i]) - leaving
		// each entering byte briefly holds weight 1; adding a on every
		// step raises the weight of everything still in the window
		r.b += r.a
	}
	r.b -= uint16(length) * sumLeaving
}

// Checksum packs the accumulators as a in the low and b in the high
// 16 bits.
func (r *RollingChecksum) Checksum() uint32 {
	return uint32(r.a) | uint32(r.b)<<16
}

// Components returns the raw accumulators.
func (r *RollingChecksum) Components() (a, b uint16) {
	return r.a, r.b
}

// HashingComponent returns the half of the checksum a scanner should
// use as a hash table key.
func (r *RollingChecksum) HashingComponent() uint16 {
	return r.b
}

// ExtractHashingComponent returns HashingComponent from a packed
// checksum.
func ExtractHashingComponent(sum uint32) uint16 {
	return uint16(sum >> 16)
}
