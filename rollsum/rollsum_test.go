package rollsum

import (
	"bytes"
	"testing"

	"github.com/hooklift/assert"
	"gitlab.com/NebulousLabs/fastrand"
)

func components(r *RollingChecksum) []uint16 {
	a, b := r.Components()
	return []uint16{a, b}
}

func TestNew(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	assert.Equals(t, []uint16{6, 10}, components(New(data[0:3])))
	assert.Equals(t, []uint16{9, 16}, components(New(data[1:4])))
	assert.Equals(t, []uint16{12, 22}, components(New(data[2:5])))
	assert.Equals(t, []uint16{0, 0}, components(New(nil)))
}

func TestRollForwardSeveral(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}

	r := New(data[0:3])
	r.RollForwardSeveral(data[0:], data[3:], 3, 1)
	assert.Equals(t, []uint16{9, 16}, components(r))
	assert.Equals(t, New(data[1:4]).Checksum(), r.Checksum())

	r = New(data[0:3])
	r.RollForwardSeveral(data[0:], data[3:], 3, 2)
	assert.Equals(t, []uint16{12, 22}, components(r))
	assert.Equals(t, New(data[2:5]).Checksum(), r.Checksum())

	// a full-length skip lands on a disjoint window
	r = New(data[0:3])
	r.RollForwardSeveral(data[0:], data[3:], 3, 3)
	assert.Equals(t, New(data[3:6]).Checksum(), r.Checksum())
}

func TestRollForward(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	length := 8
	r := New(data[:length])
	for i := 0; i+length < len(data); i++ {
		r.RollForward(data[i], data[i+length], length)
		expect := New(data[i+1 : i+1+length])
		assert.Equals(t, expect.Checksum(), r.Checksum())
	}
}

func TestWraparound(t *testing.T) {
	// 300 * 255 overflows 16 bits in both accumulators
	block := bytes.Repeat([]byte{0xff}, 300)
	r := New(block)
	assert.Equals(t, []uint16{10964, 44450}, components(r))

	// rolling across the boundary must agree with a fresh sum
	data := append(bytes.Repeat([]byte{0xff}, 300), bytes.Repeat([]byte{0x7f}, 300)...)
	r = New(data[:300])
	r.RollForwardSeveral(data, data[300:], 300, 150)
	assert.Equals(t, New(data[150:450]).Checksum(), r.Checksum())
}

func TestRollEquivalence(t *testing.T) {
	data := fastrand.Bytes(2048)
	for _, length := range []int{1, 2, 7, 16, 100, 512} {
		for skip := 1; skip <= length; skip++ {
			if length+skip > len(data) {
				break
			}
			start := fastrand.Intn(len(data) - length - skip + 1)
			r := New(data[start : start+length])
			r.RollForwardSeveral(data[start:], data[start+length:], length, skip)
			expect := New(data[start+skip : start+skip+length])
			assert.Cond(t, expect.Checksum() == r.Checksum(),
				"length %d skip %d start %d: expected %08x got %08x",
				length, skip, start, expect.Checksum(), r.Checksum())
		}
	}
}

func TestLongWindow(t *testing.T) {
	// window weights themselves exceed 16 bits
	length := 70000
	data := fastrand.Bytes(length + 64)
	r := New(data[:length])
	r.RollForwardSeveral(data, data[length:], length, 64)
	assert.Equals(t, New(data[64:]).Checksum(), r.Checksum())
}

func TestChecksum(t *testing.T) {
	r := New([]byte{1, 2, 3})
	assert.Equals(t, uint32(0x000a0006), r.Checksum())
	assert.Equals(t, uint16(10), r.HashingComponent())
	assert.Equals(t, uint16(10), ExtractHashingComponent(r.Checksum()))
}

func TestRollForwardSeveralBadSkip(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	for _, skip := range []int{0, 4} {
		func() {
			defer func() {
				assert.Cond(t, recover() != nil, "skip %d should panic", skip)
			}()
			New(data[:3]).RollForwardSeveral(data, data[3:], 3, skip)
		}()
	}
}

func TestSums(t *testing.T) {
	data := []byte("abcdefghij")
	sums, err := Sums(bytes.NewReader(data), 4)
	assert.Ok(t, err)
	expect := []uint32{
		New(data[0:4]).Checksum(),
		New(data[4:8]).Checksum(),
		New(data[8:10]).Checksum(),
	}
	assert.Equals(t, expect, sums)

	sums, err = Sums(bytes.NewReader(nil), 4)
	assert.Ok(t, err)
	assert.Equals(t, 0, len(sums))
}

func TestSlide(t *testing.T) {
	data := fastrand.Bytes(1000)
	length, skip := 64, 5
	var offsets []int
	Slide(data, length, skip, func(offset int, sum *RollingChecksum) bool {
		expect := New(data[offset : offset+length])
		assert.Cond(t, expect.Checksum() == sum.Checksum(), "offset %d", offset)
		offsets = append(offsets, offset)
		return true
	})
	// 0, 5, ..., 935; 940 would end at 1004
	assert.Equals(t, (1000-length)/skip+1, len(offsets))
	assert.Equals(t, 935, offsets[len(offsets)-1])

	var n int
	Slide(data, length, skip, func(offset int, sum *RollingChecksum) bool {
		n++
		return n < 3
	})
	assert.Equals(t, 3, n)

	Slide(data[:10], length, skip, func(offset int, sum *RollingChecksum) bool {
		t.Fatal("window longer than data should not be visited")
		return false
	})
}

func BenchmarkRollForwardSeveral(b *testing.B) {
	data := fastrand.Bytes(DefaultBlockSize * 4)
	b.SetBytes(int64(len(data) - DefaultBlockSize))
	for n := 0; n < b.N; n++ {
		Slide(data, DefaultBlockSize, 1, func(offset int, sum *RollingChecksum) bool {
			return true
		})
	}
}
