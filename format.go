package backstore

import (
	"encoding/binary"
	"math"

	. "github.com/stevegt/goadapt"
)

// Refcount database layout.  Every field is big-endian.
//
// .        | magic | account | slot 1 | slot 2 | ... | slot n  |
// .        | 0   3 | 4     7 | 8   11 | 12  15 |     | 4n+4 .. |
// bytes    |   4   |    4    |   4    |   4    |     |    4    |
//
// Slot n holds the reference count of object n.  The file size alone
// tells how many objects the table covers, so there is no count field.
const (
	refCountMagic      = 0x52656643 // "RefC"
	refCountHeaderSize = 8
	refCountSlotSize   = 4
)

// maxObjectID is the largest object id whose slot offset fits in an
// int64.  Larger ids would wrap around onto the header.
const maxObjectID = (math.MaxInt64 - refCountHeaderSize) / refCountSlotSize

type refCountHeader struct {
	Magic     uint32
	AccountID int32
}

func (hdr refCountHeader) encode() []byte {
	buf := make([]byte, refCountHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], hdr.Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(hdr.AccountID))
	return buf
}

func decodeRefCountHeader(buf []byte) (hdr refCountHeader) {
	Assert(len(buf) >= refCountHeaderSize, "header buffer is %d bytes", len(buf))
	hdr.Magic = binary.BigEndian.Uint32(buf[0:4])
	hdr.AccountID = int32(binary.BigEndian.Uint32(buf[4:8]))
	return
}

func encodeRefCount(count uint32) []byte {
	buf := make([]byte, refCountSlotSize)
	binary.BigEndian.PutUint32(buf, count)
	return buf
}

func decodeRefCount(buf []byte) uint32 {
	Assert(len(buf) >= refCountSlotSize, "slot buffer is %d bytes", len(buf))
	return binary.BigEndian.Uint32(buf)
}

// slotOffset is the file offset of object id's slot.  id must be in
// 1..maxObjectID.
func slotOffset(id int64) int64 {
	Assert(id >= 1 && id <= maxObjectID, "object id %d out of range", id)
	return refCountHeaderSize + (id-1)*refCountSlotSize
}

// slotCount is the number of whole slots in a file of size bytes,
// which is also the highest object id the file covers.
func slotCount(size int64) int64 {
	if size < refCountHeaderSize {
		return 0
	}
	return (size - refCountHeaderSize) / refCountSlotSize
}
