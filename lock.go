package backstore

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	siaerrors "gitlab.com/NebulousLabs/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLockAccount when another holder has the
// lock.
var ErrLocked = errors.New("account is locked")

// LockAccount takes the write lock of acct, waiting until any other
// holder releases it.  Call the returned function to release it.
//
// RefCountDb does no locking of its own; hold this lock across any
// sequence of calls that must not interleave with another writer.
func LockAccount(acct Account) (unlock func() error, err error) {
	return lockAccount(acct, true)
}

// TryLockAccount is LockAccount without the wait: if the lock is held
// it fails with ErrLocked.
func TryLockAccount(acct Account) (unlock func() error, err error) {
	return lockAccount(acct, false)
}

func lockAccount(acct Account, wait bool) (unlock func() error, err error) {
	path := accountPath(acct, lockFilename)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock")
	}

	how := unix.LOCK_EX
	if !wait {
		how |= unix.LOCK_NB
	}
	err = unix.Flock(int(fh.Fd()), how)
	if err == unix.EWOULDBLOCK {
		fh.Close()
		return nil, errors.Wrapf(ErrLocked, "%s", path)
	}
	if err != nil {
		return nil, siaerrors.Compose(errors.Wrapf(err, "locking %s", path), fh.Close())
	}
	log.Debugf("locked %s", path)

	unlock = func() error {
		err := unix.Flock(int(fh.Fd()), unix.LOCK_UN)
		log.Debugf("unlocked %s", path)
		return siaerrors.Compose(err, fh.Close())
	}
	return unlock, nil
}
