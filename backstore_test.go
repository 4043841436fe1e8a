package backstore

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/readercomp"
)

const testStoreDirPrefix = "backstore"

// testAccount is an Account that is not in any registry, for tests
// that run against MemFiles.
type testAccount struct {
	id   int32
	root string
}

func (acct testAccount) AccountID() int32 { return acct.id }
func (acct testAccount) RootDir() string  { return acct.root }

func mkbuf(s string) []byte {
	tmp := []byte(s)
	return tmp
}

// setup creates an empty store in a temporary directory.  With DEBUG=1
// the directory is printed and left behind.
func setup(t *testing.T) *Store {
	var err error
	var dir string

	debug := os.Getenv("DEBUG")
	if debug == "1" {
		dir, err = ioutil.TempDir("", testStoreDirPrefix)
		Ck(err)
		fmt.Println(dir)
		// no cleanup
	} else {
		dir = t.TempDir()
		// automatically cleaned up
	}

	store, err := Store{Dir: dir}.Create()
	Ck(err)
	store, err = Open(dir, nil)
	Ck(err)
	tassert(t, store != nil, "store is nil")

	return store
}

// setupAccount adds account id to a new store and creates its
// refcount database.
func setupAccount(t *testing.T, id int32) (*Store, *AccountEntry) {
	store := setup(t)
	acct, err := store.AddAccount(id)
	tassert(t, err == nil, "AddAccount: %v", err)
	err = CreateRefCountDb(store.Files, acct, false)
	tassert(t, err == nil, "CreateRefCountDb: %v", err)
	return store, acct
}

// fileEqual compares the whole content of the file at path with
// expect.
func fileEqual(t *testing.T, path string, expect []byte) bool {
	t.Helper()
	fh, err := os.Open(path)
	tassert(t, err == nil, "open %s: %v", path, err)
	defer fh.Close()
	ok, err := readercomp.Equal(bytes.NewReader(expect), fh, 4096)
	tassert(t, err == nil, "readercomp: %v", err)
	return ok
}

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// tpanics reports whether f panics.
func tpanics(f func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
		}
	}()
	f()
	return
}
