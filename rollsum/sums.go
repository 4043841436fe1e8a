package rollsum

import (
	"io"

	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"
)

// DefaultBlockSize is the window length used when the caller has no
// better idea.
const DefaultBlockSize = 4096

// Sums reads rd to EOF and returns the checksum of each consecutive
// blockSize block.  The last block is shorter if the input does not
// divide evenly.  These are the block sums the other side of a
// transfer scans for.
func Sums(rd io.Reader, blockSize int) (sums []uint32, err error) {
	Assert(blockSize > 0, "block size %d", blockSize)
	buf := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(rd, buf)
		if n > 0 {
			sums = append(sums, New(buf[:n]).Checksum())
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading block %d", len(sums))
		}
	}
	return
}

// Slide walks a window of length bytes across data, skip bytes at a
// time, calling fn with the offset and checksum of each window.  The
// checksum is rolled rather than recomputed.  fn returns false to stop.
// Windows that would run past the end of data are not visited.
func Slide(data []byte, length, skip int, fn func(offset int, sum *RollingChecksum) bool) {
	Assert(length > 0, "window length %d", length)
	if len(data) < length {
		return
	}
	sum := New(data[:length])
	offset := 0
	for {
		if !fn(offset, sum) {
			return
		}
		if offset+length+skip > len(data) {
			return
		}
		sum.RollForwardSeveral(data[offset:], data[offset+length:], length, skip)
		offset += skip
	}
}
