package backstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	siaerrors "gitlab.com/NebulousLabs/errors"
)

// ErrReadOnly is returned by writes through a handle opened read-only.
var ErrReadOnly = errors.New("file is open read-only")

// ErrTooLarge is returned by MemFiles writes that would grow a file
// past its limit.
var ErrTooLarge = errors.New("file too large")

// File is a seekable byte stream.  A write positioned past the end of
// the file extends it, and the bytes between the old end and the write
// offset must read back as zero.  RefCountDb depends on this: it is how
// a never-written slot comes to hold a zero count.
type File interface {
	io.ReadWriteSeeker
	io.Closer
	// Size returns the current length of the file in bytes.
	Size() (int64, error)
	// Abort closes a file returned by Files.Create without keeping it:
	// a new file is removed and an overwrite leaves the old content in
	// place.  On a handle from Files.Open it is the same as Close.
	Abort() error
}

// Files creates and opens Files by name.  It stands in for whatever
// storage layer holds the store; the name is a path under the store.
type Files interface {
	// Create makes name with zero length and opens it read-write.  If
	// overwrite is false and name already exists, Create fails with
	// *ExistsError.  If overwrite is true the old content stays visible
	// until Close.
	Create(name string, overwrite bool) (File, error)
	// Open opens an existing file.
	Open(name string, readOnly bool) (File, error)
	// Exists reports whether name can be opened.
	Exists(name string) bool
}

type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("already exists: %s", e.Path)
}

// DiskFiles stores files on the local filesystem.  Sparse extension
// comes from the filesystem itself: seeking past EOF and writing
// leaves a hole that reads as zeros.
type DiskFiles struct{}

var _ Files = DiskFiles{}

type diskFile struct {
	*os.File
	created bool
}

func (f diskFile) Size() (n int64, err error) {
	info, err := f.Stat()
	if err != nil {
		return
	}
	return info.Size(), nil
}

func (f diskFile) Abort() error {
	err := f.Close()
	if !f.created {
		return err
	}
	return siaerrors.Compose(err, os.Remove(f.Name()))
}

// pendingFile is written to a temporary name and renamed over the
// target on Close, so an overwritten file is never seen half-written.
type pendingFile struct {
	*renameio.PendingFile
}

func (f pendingFile) Size() (n int64, err error) {
	info, err := f.Stat()
	if err != nil {
		return
	}
	return info.Size(), nil
}

func (f pendingFile) Close() error {
	err := f.CloseAtomicallyReplace()
	// Cleanup is a no-op once the replace has happened
	return siaerrors.Compose(err, f.Cleanup())
}

func (f pendingFile) Abort() error {
	return f.Cleanup()
}

func (DiskFiles) Create(name string, overwrite bool) (file File, err error) {
	if overwrite {
		pending, err := renameio.TempFile(filepath.Dir(name), name)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", name)
		}
		return pendingFile{pending}, nil
	}
	fh, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if os.IsExist(err) {
		return nil, &ExistsError{Path: name}
	}
	if err != nil {
		return nil, err
	}
	return diskFile{File: fh, created: true}, nil
}

func (DiskFiles) Open(name string, readOnly bool) (file File, err error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	fh, err := os.OpenFile(name, flags, 0)
	if err != nil {
		return
	}
	return diskFile{File: fh}, nil
}

func (DiskFiles) Exists(name string) bool {
	return canstat(name)
}

// MemFiles keeps files in memory.  It has no sparse files, so writes
// past EOF zero-fill the gap before writing, and the gap costs as much
// memory as the data would.  A write that would grow a file past Limit
// bytes fails with ErrTooLarge; zero means DefaultMemLimit.  Handles on
// different files may be used from different goroutines; a single
// handle may not.
type MemFiles struct {
	Limit int64
	mu    sync.Mutex
	files map[string]*memData
}

const DefaultMemLimit = 1 << 30

var _ Files = &MemFiles{}

func NewMemFiles() *MemFiles {
	return &MemFiles{files: make(map[string]*memData)}
}

type memData struct {
	mu  sync.Mutex
	buf []byte
}

type memFile struct {
	files    *MemFiles
	name     string
	data     *memData
	pos      int64
	readOnly bool
	closed   bool
	// created is set on handles from Create; pending means the data
	// replaces the file only on Close
	created bool
	pending bool
}

func (m *MemFiles) Create(name string, overwrite bool) (file File, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if _, ok := m.files[name]; ok && !overwrite {
		return nil, &ExistsError{Path: name}
	}
	// an overwrite is installed by Close, as a rename would be
	f := &memFile{files: m, name: name, data: &memData{}, created: true, pending: overwrite}
	if !overwrite {
		m.files[name] = f.data
	}
	return f, nil
}

func (m *MemFiles) Open(name string, readOnly bool) (file File, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{files: m, name: name, data: data, readOnly: readOnly}, nil
}

func (m *MemFiles) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[filepath.Clean(name)]
	return ok
}

// Truncate cuts name down to size bytes.  It exists so tests can
// simulate a damaged file.
func (m *MemFiles) Truncate(name string, size int64) error {
	m.mu.Lock()
	data, ok := m.files[filepath.Clean(name)]
	m.mu.Unlock()
	if !ok {
		return &os.PathError{Op: "truncate", Path: name, Err: os.ErrNotExist}
	}
	data.mu.Lock()
	defer data.mu.Unlock()
	if size < int64(len(data.buf)) {
		data.buf = data.buf[:size]
	}
	return nil
}

func (f *memFile) Read(p []byte) (n int, err error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if f.pos >= int64(len(f.data.buf)) {
		return 0, io.EOF
	}
	n = copy(p, f.data.buf[f.pos:])
	f.pos += int64(n)
	return
}

func (f *memFile) Write(p []byte) (n int, err error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.readOnly {
		return 0, errors.Wrapf(ErrReadOnly, "write %s", f.name)
	}
	end := f.pos + int64(len(p))
	if limit := f.files.limit(); end > limit || end < f.pos {
		return 0, errors.Wrapf(ErrTooLarge, "write %s at %d: limit is %d", f.name, f.pos, limit)
	}
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if gap := f.pos - int64(len(f.data.buf)); gap > 0 {
		f.data.buf = append(f.data.buf, make([]byte, gap)...)
	}
	if end > int64(len(f.data.buf)) {
		f.data.buf = append(f.data.buf, make([]byte, end-int64(len(f.data.buf)))...)
	}
	n = copy(f.data.buf[f.pos:end], p)
	f.pos += int64(n)
	return
}

func (f *memFile) Seek(offset int64, whence int) (pos int64, err error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		size, _ := f.Size()
		pos = size + offset
	default:
		return f.pos, fmt.Errorf("seek %s: bad whence %d", f.name, whence)
	}
	if pos < 0 {
		return f.pos, fmt.Errorf("seek %s: negative position %d", f.name, pos)
	}
	f.pos = pos
	return
}

func (f *memFile) Size() (n int64, err error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	return int64(len(f.data.buf)), nil
}

// Close commits a pending overwrite.  Handles already open on the old
// data keep it, as after a rename.
func (f *memFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if f.pending {
		f.files.mu.Lock()
		f.files.files[f.name] = f.data
		f.files.mu.Unlock()
	}
	return nil
}

func (f *memFile) Abort() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if f.created && !f.pending {
		f.files.mu.Lock()
		if f.files.files[f.name] == f.data {
			delete(f.files.files, f.name)
		}
		f.files.mu.Unlock()
	}
	return nil
}

func (m *MemFiles) limit() int64 {
	if m.Limit > 0 {
		return m.Limit
	}
	return DefaultMemLimit
}

func canstat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
