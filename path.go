package backstore

import (
	"fmt"
	"path/filepath"
)

// Store layout:
//
//	<dir>/accounts                  registry of accounts
//	<dir>/backup/<id>/              storage root of account <id>
//	<dir>/backup/<id>/refcount.db   refcount database
//	<dir>/backup/<id>/write.lock    account write lock
//
// <id> is the account id as eight hex digits.
const (
	registryFilename = "accounts"
	backupDirname    = "backup"
	lockFilename     = "write.lock"
)

// accountDir returns the storage root of account id relative to the
// store directory.
func accountDir(id int32) string {
	return filepath.Join(backupDirname, fmt.Sprintf("%08x", uint32(id)))
}

// accountPath returns the path of name within acct's storage root.
func accountPath(acct Account, name string) string {
	return filepath.Join(acct.RootDir(), name)
}
