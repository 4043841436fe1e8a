package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	bs "github.com/t7a/backstore"
	"github.com/t7a/backstore/rollsum"

	"github.com/docopt/docopt-go"
)

func init() {
	var debug string
	debug = os.Getenv("DEBUG")
	if debug == "1" {
		log.SetLevel(log.DebugLevel)
	}
	logrus.SetReportCaller(true)
	formatter := &logrus.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyFile: "caller",
		},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	logrus.SetFormatter(formatter)
}

// caller returns string presentation of log caller which is formatted as
// `/path/to/file.go:line_number`. e.g. `/internal/app/api.go:25`
func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (function string, file string) {
		p, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d", strings.TrimPrefix(f.File, p), f.Line)
	}
}

type Opts struct {
	Init       bool
	Addaccount bool
	Accounts   bool
	Create     bool
	Get        bool
	Set        bool
	Ref        bool
	Unref      bool
	Last       bool
	Sums       bool
	Roll       bool
	Acct       string
	Object     string
	Count      string
	Blocksize  string
	Skip       string
	Filename   string
	Force      bool `docopt:"-f"`
	Profile    bool `docopt:"--profile"`
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {

	usage := `backstore

Reference counts and rolling checksums for a backup store.  The store
is in $STOREDIR, or the current directory if unset.  Account ids are
decimal or 0x-prefixed hex.

Usage:
  pb init
  pb addaccount <acct>
  pb accounts
  pb create [-f] <acct>
  pb get <acct> <object>
  pb set <acct> <object> <count>
  pb ref <acct> <object>
  pb unref <acct> <object>
  pb last <acct>
  pb sums <blocksize> <filename>
  pb roll [--profile] <blocksize> <skip> <filename>

Options:
  -h --help     Show this screen.
  --version     Show version.
  -f            Overwrite an existing refcount database.
  --profile     Write a CPU profile to the current directory.
`
	parser := &docopt.Parser{
		HelpHandler:  docopt.PrintHelpOnly,
		OptionsFirst: false,
	}
	o, err := parser.ParseArgs(usage, os.Args[1:], "0.0")
	if err != nil {
		return 22
	}
	if len(o) == 0 {
		// help or version was shown
		return 0
	}
	var opts Opts
	err = o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	switch true {
	case opts.Init:
		msg, err := create()
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(msg)
	case opts.Addaccount:
		acct, err := addAccount(opts.Acct)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(acct.Dir)
	case opts.Accounts:
		store, err := openStore()
		if err != nil {
			log.Error(err)
			return 42
		}
		for _, id := range store.Accounts() {
			fmt.Println(acctString(id))
		}
	case opts.Create:
		path, err := createDb(opts.Acct, opts.Force)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(path)
	case opts.Get:
		count, err := getCount(opts.Acct, opts.Object)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(count)
	case opts.Set:
		err := setCount(opts.Acct, opts.Object, opts.Count)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Ref:
		count, err := ref(opts.Acct, opts.Object)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(count)
	case opts.Unref:
		count, err := unref(opts.Acct, opts.Object)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(count)
	case opts.Last:
		last, err := lastID(opts.Acct)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(last)
	case opts.Sums:
		err := sums(opts.Blocksize, opts.Filename)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Roll:
		if opts.Profile {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath("."),
				profile.NoShutdownHook, profile.Quiet).Stop()
		}
		err := roll(opts.Blocksize, opts.Skip, opts.Filename)
		if err != nil {
			log.Error(err)
			return 42
		}
	}
	return 0
}

func storedir() (dir string, err error) {
	dir = os.Getenv("STOREDIR")
	if dir == "" {
		dir, err = os.Getwd()
	}
	return
}

func create() (msg string, err error) {
	dir, err := storedir()
	if err != nil {
		return
	}
	store, err := bs.Store{Dir: dir}.Create()
	if err != nil {
		return
	}
	log.Debugf("store in %s", store.Dir)
	return "Initialized empty store", nil
}

func openStore() (store *bs.Store, err error) {
	dir, err := storedir()
	if err != nil {
		return
	}
	return bs.Open(dir, nil)
}

func parseAcct(s string) (id int32, err error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad account id %q", s)
	}
	return int32(uint32(n)), nil
}

func acctString(id int32) string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

func parseObject(s string) (id int64, err error) {
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad object id %q", s)
	}
	return
}

func parseInt(s, what string) (n int, err error) {
	n, err = strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad %s %q", what, s)
	}
	return
}

func addAccount(acctArg string) (acct *bs.AccountEntry, err error) {
	id, err := parseAcct(acctArg)
	if err != nil {
		return
	}
	store, err := openStore()
	if err != nil {
		return
	}
	return store.AddAccount(id)
}

func createDb(acctArg string, force bool) (path string, err error) {
	id, err := parseAcct(acctArg)
	if err != nil {
		return
	}
	store, err := openStore()
	if err != nil {
		return
	}
	acct, err := store.Account(id)
	if err != nil {
		return
	}
	unlock, err := bs.LockAccount(acct)
	if err != nil {
		return
	}
	defer unlock()
	err = store.CreateRefCountDb(id, force)
	if err != nil {
		return
	}
	return filepath.Join(acct.Dir, bs.RefCountFilename), nil
}

// withDb opens the refcount database of acctArg and calls f with it.
// Writers hold the account lock while f runs.
func withDb(acctArg string, readOnly bool, f func(db *bs.RefCountDb) error) (err error) {
	id, err := parseAcct(acctArg)
	if err != nil {
		return
	}
	store, err := openStore()
	if err != nil {
		return
	}
	acct, err := store.Account(id)
	if err != nil {
		return
	}
	if !readOnly {
		unlock, err := bs.LockAccount(acct)
		if err != nil {
			return err
		}
		defer unlock()
	}
	db, err := store.LoadRefCountDb(id, readOnly)
	if err != nil {
		return
	}
	defer db.Close()
	return f(db)
}

func getCount(acctArg, objArg string) (count uint32, err error) {
	id, err := parseObject(objArg)
	if err != nil {
		return
	}
	err = withDb(acctArg, true, func(db *bs.RefCountDb) (err error) {
		count, err = db.GetRefCount(id)
		return
	})
	return
}

func setCount(acctArg, objArg, countArg string) (err error) {
	id, err := parseObject(objArg)
	if err != nil {
		return
	}
	count, err := strconv.ParseUint(countArg, 10, 32)
	if err != nil {
		return errors.Wrapf(err, "bad count %q", countArg)
	}
	return withDb(acctArg, false, func(db *bs.RefCountDb) error {
		return db.SetRefCount(id, uint32(count))
	})
}

func ref(acctArg, objArg string) (count uint32, err error) {
	id, err := parseObject(objArg)
	if err != nil {
		return
	}
	err = withDb(acctArg, false, func(db *bs.RefCountDb) (err error) {
		err = db.AddReference(id)
		if err != nil {
			return
		}
		count, err = db.GetRefCount(id)
		return
	})
	return
}

func unref(acctArg, objArg string) (count uint32, err error) {
	id, err := parseObject(objArg)
	if err != nil {
		return
	}
	err = withDb(acctArg, false, func(db *bs.RefCountDb) (err error) {
		// RemoveReference panics on these; a typo on the command line
		// is not a programming error
		count, err = db.GetRefCount(id)
		if err != nil {
			return
		}
		if count == 0 {
			return fmt.Errorf("object %d has no references", id)
		}
		_, err = db.RemoveReference(id)
		if err != nil {
			return
		}
		count--
		return
	})
	return
}

func lastID(acctArg string) (last int64, err error) {
	err = withDb(acctArg, true, func(db *bs.RefCountDb) (err error) {
		last, err = db.GetLastObjectIDUsed()
		return
	})
	return
}

func sums(blocksizeArg, fn string) (err error) {
	blocksize, err := parseInt(blocksizeArg, "block size")
	if err != nil {
		return
	}
	fh, err := os.Open(fn)
	if err != nil {
		return
	}
	defer fh.Close()
	list, err := rollsum.Sums(fh, blocksize)
	if err != nil {
		return
	}
	for i, sum := range list {
		fmt.Printf("%d %08x\n", i*blocksize, sum)
	}
	return
}

func roll(blocksizeArg, skipArg, fn string) (err error) {
	blocksize, err := parseInt(blocksizeArg, "block size")
	if err != nil {
		return
	}
	skip, err := parseInt(skipArg, "skip")
	if err != nil {
		return
	}
	if skip > blocksize {
		return fmt.Errorf("skip %d is larger than block size %d", skip, blocksize)
	}
	buf, err := ioutil.ReadFile(fn)
	if err != nil {
		return
	}
	rollsum.Slide(buf, blocksize, skip, func(offset int, sum *rollsum.RollingChecksum) bool {
		fmt.Printf("%d %08x\n", offset, sum.Checksum())
		return true
	})
	return
}
