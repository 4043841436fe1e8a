package backstore

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	siaerrors "gitlab.com/NebulousLabs/errors"
)

// RefCountFilename is the name of the refcount database in an
// account's root directory.
const RefCountFilename = "refcount.db"

// ErrInvalidObjectID is returned for object ids below 1 or too large to
// have a slot.
var ErrInvalidObjectID = errors.New("invalid object id")

type ShortReadError struct {
	Path   string
	Offset int64
	Want   int
	Got    int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read from %s at offset %d: wanted %d bytes, got %d",
		e.Path, e.Offset, e.Want, e.Got)
}

type FormatError struct {
	Path      string
	Magic     uint32
	AccountID int32
	Expect    int32
}

func (e *FormatError) Error() string {
	if e.Magic != refCountMagic {
		return fmt.Sprintf("not a refcount database: %s: bad magic %08x", e.Path, e.Magic)
	}
	return fmt.Sprintf("refcount database %s belongs to account %08x, not %08x",
		e.Path, uint32(e.AccountID), uint32(e.Expect))
}

type UnknownObjectError struct {
	Path     string
	ObjectID int64
	Last     int64
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown refcount for object %d in %s: last object is %d",
		e.ObjectID, e.Path, e.Last)
}

// RefCountDb counts the references to each object in one account.
// Counts are read from and written to the file on every call; nothing
// is cached.  A RefCountDb is not safe for concurrent use, and two
// handles on the same account must not be used at the same time.
// Callers doing read-modify-write sequences across calls hold the
// account lock (see LockAccount).
type RefCountDb struct {
	account  Account
	path     string
	file     File
	readOnly bool
}

// RefCountPath returns the path of acct's refcount database.
func RefCountPath(acct Account) string {
	return accountPath(acct, RefCountFilename)
}

// CreateRefCountDb writes a new, empty refcount database for acct.  If
// allowOverwrite is false and the database already exists, it fails
// with *ExistsError.
func CreateRefCountDb(files Files, acct Account, allowOverwrite bool) (err error) {
	path := RefCountPath(acct)
	file, err := files.Create(path, allowOverwrite)
	if err != nil {
		return
	}
	hdr := refCountHeader{Magic: refCountMagic, AccountID: acct.AccountID()}
	buf := hdr.encode()
	n, err := file.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		// a partial header must not replace an existing database
		return siaerrors.Compose(errors.Wrapf(err, "writing header to %s", path), file.Abort())
	}
	err = file.Close()
	if err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	log.Debugf("created refcount database %s for account %08x", path, uint32(acct.AccountID()))
	return
}

// LoadRefCountDb opens acct's refcount database and checks its header.
func LoadRefCountDb(files Files, acct Account, readOnly bool) (db *RefCountDb, err error) {
	path := RefCountPath(acct)
	file, err := files.Open(path, readOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "opening refcount database")
	}

	buf := make([]byte, refCountHeaderSize)
	n, err := io.ReadFull(file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		file.Close()
		return nil, &ShortReadError{Path: path, Offset: 0, Want: len(buf), Got: n}
	}
	if err != nil {
		return nil, siaerrors.Compose(errors.Wrapf(err, "reading header of %s", path), file.Close())
	}

	hdr := decodeRefCountHeader(buf)
	if hdr.Magic != refCountMagic || hdr.AccountID != acct.AccountID() {
		file.Close()
		return nil, &FormatError{
			Path:      path,
			Magic:     hdr.Magic,
			AccountID: hdr.AccountID,
			Expect:    acct.AccountID(),
		}
	}

	log.Debugf("loaded refcount database %s readonly %v", path, readOnly)
	db = &RefCountDb{
		account:  acct,
		path:     path,
		file:     file,
		readOnly: readOnly,
	}
	return
}

func (db *RefCountDb) Account() Account {
	return db.account
}

func (db *RefCountDb) Path() string {
	return db.path
}

func (db *RefCountDb) ReadOnly() bool {
	return db.readOnly
}

// Close releases the underlying file.
func (db *RefCountDb) Close() error {
	return db.file.Close()
}

// GetRefCount returns the number of references to object id.  It
// fails with *UnknownObjectError if id is past the end of the table.
func (db *RefCountDb) GetRefCount(id int64) (count uint32, err error) {
	err = checkObjectID(id)
	if err != nil {
		return
	}
	size, err := db.file.Size()
	if err != nil {
		return 0, errors.Wrapf(err, "getting size of %s", db.path)
	}
	offset := slotOffset(id)
	if size < offset+refCountSlotSize {
		return 0, &UnknownObjectError{Path: db.path, ObjectID: id, Last: slotCount(size)}
	}

	_, err = db.file.Seek(offset, io.SeekStart)
	if err != nil {
		return 0, errors.Wrapf(err, "seeking to object %d in %s", id, db.path)
	}
	buf := make([]byte, refCountSlotSize)
	n, err := io.ReadFull(db.file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// the size said the slot was there
		return 0, &ShortReadError{Path: db.path, Offset: offset, Want: len(buf), Got: n}
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading object %d in %s", id, db.path)
	}
	return decodeRefCount(buf), nil
}

// GetLastObjectIDUsed returns the highest object id the table covers.
// Ids above it have never been referenced.
func (db *RefCountDb) GetLastObjectIDUsed() (id int64, err error) {
	size, err := db.file.Size()
	if err != nil {
		return 0, errors.Wrapf(err, "getting size of %s", db.path)
	}
	return slotCount(size), nil
}

// SetRefCount stores count for object id.  Setting an id past the end
// of the table grows it; the slots skipped over read as zero.
func (db *RefCountDb) SetRefCount(id int64, count uint32) (err error) {
	if db.readOnly {
		return errors.Wrapf(ErrReadOnly, "setting refcount in %s", db.path)
	}
	err = checkObjectID(id)
	if err != nil {
		return
	}
	offset := slotOffset(id)
	_, err = db.file.Seek(offset, io.SeekStart)
	if err != nil {
		return errors.Wrapf(err, "seeking to object %d in %s", id, db.path)
	}
	buf := encodeRefCount(count)
	n, err := db.file.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return errors.Wrapf(err, "writing object %d in %s", id, db.path)
	}
	return
}

// AddReference adds one reference to object id.  An id past the end of
// the table is a new object with no earlier references.
func (db *RefCountDb) AddReference(id int64) (err error) {
	err = checkObjectID(id)
	if err != nil {
		return
	}
	last, err := db.GetLastObjectIDUsed()
	if err != nil {
		return
	}
	var count uint32
	if id > last {
		log.Debugf("first reference to object %d in %s (last was %d)", id, db.path, last)
	} else {
		count, err = db.GetRefCount(id)
		if err != nil {
			return
		}
	}
	Assert(count < math.MaxUint32, "refcount overflow for object %d in %s", id, db.path)
	return db.SetRefCount(id, count+1)
}

// RemoveReference drops one reference to object id and reports whether
// any remain.  When it returns false the object may be deleted.
//
// The object must be in the table with a nonzero count.  Anything else
// means the caller lost track of the object's lifecycle, and
// RemoveReference panics rather than return an error.
func (db *RefCountDb) RemoveReference(id int64) (stillReferenced bool, err error) {
	last, err := db.GetLastObjectIDUsed()
	if err != nil {
		return
	}
	Assert(id >= 1 && id <= last && id <= maxObjectID,
		"object %d is not in %s (last is %d)", id, db.path, last)
	count, err := db.GetRefCount(id)
	if err != nil {
		return
	}
	Assert(count > 0, "object %d in %s has no references to remove", id, db.path)
	count--
	err = db.SetRefCount(id, count)
	if err != nil {
		return
	}
	return count > 0, nil
}

func checkObjectID(id int64) error {
	if id < 1 || id > maxObjectID {
		return errors.Wrapf(ErrInvalidObjectID, "object %d", id)
	}
	return nil
}
