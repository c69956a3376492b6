package integrityfs

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerAttrStore keeps attributes in a BadgerDB sidecar database. It serves
// bases that cannot carry extended attributes themselves (memfs, object
// stores, network shares) while keeping the digests persistent.
//
// Keys are "xa\x00<clean path>\x00<name>"; paths never contain NUL.
type BadgerAttrStore struct {
	db     *badger.DB
	ownsDB bool
}

const badgerKeyPrefix = "xa\x00"

// OpenBadgerAttrStore opens (or creates) a store in dir. An empty dir opens an
// in-memory database.
func OpenBadgerAttrStore(dir string) (*BadgerAttrStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger attribute store: %w", err)
	}
	return &BadgerAttrStore{db: db, ownsDB: true}, nil
}

// NewBadgerAttrStore wraps an already open database
func NewBadgerAttrStore(db *badger.DB) *BadgerAttrStore {
	return &BadgerAttrStore{db: db}
}

// Close closes the database if the store opened it
func (s *BadgerAttrStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func badgerPathPrefix(p string) []byte {
	return []byte(badgerKeyPrefix + path.Clean(p) + "\x00")
}

func badgerKey(p, name string) []byte {
	return append(badgerPathPrefix(p), name...)
}

// splitBadgerKey returns the path and attribute name encoded in key
func splitBadgerKey(key []byte) (string, string, bool) {
	rest := bytes.TrimPrefix(key, []byte(badgerKeyPrefix))
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// Get returns the value of name on p
func (s *BadgerAttrStore) Get(p, name string, maxLen int) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(p, name))
		if err != nil {
			return err
		}
		if item.ValueSize() > int64(maxLen) {
			return newAttrError("get", p, name, ErrBufferTooSmall,
				fmt.Sprintf("value is %d bytes, buffer is %d", item.ValueSize(), maxLen))
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, newAttrError("get", p, name, ErrNotFound, "no such attribute")
	}
	if err != nil && !errors.Is(err, ErrBufferTooSmall) {
		return nil, NewIOError("getxattr", p, err)
	}
	return value, err
}

// Set writes value under name honoring mode inside a single transaction
func (s *BadgerAttrStore) Set(p, name string, value []byte, mode SetMode) error {
	key := badgerKey(p, name)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		exists := err == nil
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		switch {
		case mode == CreateOnly && exists:
			return newAttrError("set", p, name, ErrAlreadyExists, "attribute exists")
		case mode == ReplaceOnly && !exists:
			return newAttrError("set", p, name, ErrNotFound, "no such attribute")
		}
		return txn.Set(key, append([]byte(nil), value...))
	})
	return wrapBadgerErr("setxattr", p, err)
}

// Remove deletes name from p
func (s *BadgerAttrStore) Remove(p, name string) error {
	key := badgerKey(p, name)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return newAttrError("remove", p, name, ErrNotFound, "no such attribute")
			}
			return err
		}
		return txn.Delete(key)
	})
	return wrapBadgerErr("removexattr", p, err)
}

// List returns the attribute names of p in key order
func (s *BadgerAttrStore) List(p string) ([]string, error) {
	prefix := badgerPathPrefix(p)
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, NewIOError("listxattr", p, err)
	}
	return names, nil
}

type badgerEntry struct {
	path, name string
	key, value []byte
}

// collectUnder reads every entry whose path is root or lies below it
func collectUnder(txn *badger.Txn, root string) ([]badgerEntry, error) {
	scan := []byte(badgerKeyPrefix + strings.TrimSuffix(root, "/"))
	var entries []badgerEntry

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
		item := it.Item()
		p, name, ok := splitBadgerKey(item.Key())
		if !ok {
			continue
		}
		if _, under := underPath(p, root); !under {
			continue
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, badgerEntry{path: p, name: name, key: item.KeyCopy(nil), value: value})
	}
	return entries, nil
}

// Move re-keys oldpath and its descendants to newpath
func (s *BadgerAttrStore) Move(oldpath, newpath string) error {
	from, to := path.Clean(oldpath), path.Clean(newpath)
	err := s.db.Update(func(txn *badger.Txn) error {
		stale, err := collectUnder(txn, to)
		if err != nil {
			return err
		}
		moving, err := collectUnder(txn, from)
		if err != nil {
			return err
		}
		for _, e := range stale {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		for _, e := range moving {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
			rest, _ := underPath(e.path, from)
			if err := txn.Set(badgerKey(to+rest, e.name), e.value); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBadgerErr("rename", oldpath, err)
}

// Drop deletes every attribute of p and its descendants
func (s *BadgerAttrStore) Drop(p string) error {
	root := path.Clean(p)
	err := s.db.Update(func(txn *badger.Txn) error {
		entries, err := collectUnder(txn, root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBadgerErr("remove", p, err)
}

// wrapBadgerErr passes through attribute errors and wraps database failures
func wrapBadgerErr(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AttrError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return &IOError{Operation: op, Path: p, Offset: -1, Message: "transaction too large", Err: ErrResourceExhausted}
	}
	return NewIOError(op, p, err)
}

var (
	_ AttributeStore = (*BadgerAttrStore)(nil)
	_ AttributeMover = (*BadgerAttrStore)(nil)
)
