package backstore

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/vmihailenco/msgpack"
)

// Account is what a refcount database needs to know about the account
// it belongs to.
type Account interface {
	AccountID() int32
	// RootDir is the directory the account's files live in.
	RootDir() string
}

// AccountEntry is an account as recorded in a store's registry.  Dir
// is relative to the store directory.
type AccountEntry struct {
	ID    int32
	Dir   string
	store *Store
}

func (acct *AccountEntry) AccountID() int32 {
	return acct.ID
}

func (acct *AccountEntry) RootDir() string {
	return filepath.Join(acct.store.Dir, acct.Dir)
}

// Store is a directory holding backup accounts.  Dir is the base
// directory.  Files is the storage the accounts' tables are written
// through; it defaults to DiskFiles.
type Store struct {
	Dir     string
	Files   Files
	entries map[int32]*AccountEntry
}

// registry is the on-disk form of the account list.
type registry struct {
	Version  int
	Accounts []AccountEntry
}

const registryVersion = 1

type NotStoreError struct {
	Dir string
}

func (e *NotStoreError) Error() string {
	return fmt.Sprintf("not a store: %s", e.Dir)
}

type NoAccountError struct {
	ID int32
}

func (e *NoAccountError) Error() string {
	return fmt.Sprintf("no such account: %08x", uint32(e.ID))
}

// Create initializes a store directory with an empty registry.  The
// directory may already exist, but must not already hold a store.
func (store Store) Create() (out *Store, err error) {
	defer Return(&err)

	Assert(store.Dir != "", "store dir is empty")
	store.Dir = filepath.Clean(store.Dir)
	fn := filepath.Join(store.Dir, registryFilename)
	if canstat(fn) {
		return nil, &ExistsError{Path: fn}
	}

	err = mkdir(store.Dir)
	Ck(err)
	err = mkdir(filepath.Join(store.Dir, backupDirname))
	Ck(err)

	if store.Files == nil {
		store.Files = DiskFiles{}
	}
	store.entries = make(map[int32]*AccountEntry)
	err = store.save()
	Ck(err)

	log.Debugf("created store %s", store.Dir)
	return &store, nil
}

// Open loads an existing store from dir, using files for the account
// tables.  A nil files means DiskFiles.
func Open(dir string, files Files) (store *Store, err error) {
	dir = filepath.Clean(dir)

	buf, err := ioutil.ReadFile(filepath.Join(dir, registryFilename))
	if err != nil {
		return nil, &NotStoreError{Dir: dir}
	}
	var reg registry
	err = msgpack.Unmarshal(buf, &reg)
	if err != nil || reg.Version != registryVersion {
		log.Debugf("registry in %s: version %d err %v", dir, reg.Version, err)
		return nil, &NotStoreError{Dir: dir}
	}

	if files == nil {
		files = DiskFiles{}
	}
	store = &Store{Dir: dir, Files: files, entries: make(map[int32]*AccountEntry)}
	for i := range reg.Accounts {
		acct := reg.Accounts[i]
		acct.store = store
		store.entries[acct.ID] = &acct
	}
	return
}

// AddAccount registers account id and creates its storage root.  It
// does not create the refcount database; see CreateRefCountDb.
func (store *Store) AddAccount(id int32) (acct *AccountEntry, err error) {
	defer Return(&err)

	if old, ok := store.entries[id]; ok {
		return nil, &ExistsError{Path: old.RootDir()}
	}
	acct = &AccountEntry{ID: id, Dir: accountDir(id), store: store}
	err = mkdir(acct.RootDir())
	Ck(err)

	store.entries[id] = acct
	err = store.save()
	if err != nil {
		delete(store.entries, id)
		return nil, err
	}
	log.Debugf("added account %08x at %s", uint32(id), acct.RootDir())
	return
}

// Account returns the registered account id.
func (store *Store) Account(id int32) (acct *AccountEntry, err error) {
	acct, ok := store.entries[id]
	if !ok {
		return nil, &NoAccountError{ID: id}
	}
	return acct, nil
}

// Accounts returns the ids of all registered accounts in ascending
// order.
func (store *Store) Accounts() (ids []int32) {
	for id := range store.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return
}

// CreateRefCountDb creates the refcount database of account id.
func (store *Store) CreateRefCountDb(id int32, allowOverwrite bool) (err error) {
	acct, err := store.Account(id)
	if err != nil {
		return
	}
	return CreateRefCountDb(store.Files, acct, allowOverwrite)
}

// LoadRefCountDb opens the refcount database of account id.
func (store *Store) LoadRefCountDb(id int32, readOnly bool) (db *RefCountDb, err error) {
	acct, err := store.Account(id)
	if err != nil {
		return
	}
	return LoadRefCountDb(store.Files, acct, readOnly)
}

// save writes the registry atomically, so a crash leaves either the
// old or the new account list.
func (store *Store) save() (err error) {
	reg := registry{Version: registryVersion}
	for _, id := range store.Accounts() {
		reg.Accounts = append(reg.Accounts, *store.entries[id])
	}
	buf, err := msgpack.Marshal(&reg)
	if err != nil {
		return
	}
	return renameio.WriteFile(filepath.Join(store.Dir, registryFilename), buf, 0644)
}

func mkdir(dir string) (err error) {
	if _, err = os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
	}
	return
}
