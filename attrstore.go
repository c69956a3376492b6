package integrityfs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// AttributeStore persists small named byte values per path. Every call is
// synchronous and applies to exactly one path. Implementations return errors
// wrapping ErrNotFound, ErrAlreadyExists, ErrPermissionDenied or
// ErrBufferTooSmall for the corresponding conditions.
type AttributeStore interface {
	// Get returns the value of name, failing with ErrBufferTooSmall if it is
	// longer than maxLen
	Get(path, name string, maxLen int) ([]byte, error)

	// Set writes value under name according to mode
	Set(path, name string, value []byte, mode SetMode) error

	// Remove deletes name
	Remove(path, name string) error

	// List returns the attribute names present on path
	List(path string) ([]string, error)
}

// AttributeMover is implemented by stores that key attributes by path rather
// than by inode, and therefore must follow renames and removals.
type AttributeMover interface {
	// Move re-keys every attribute of oldpath (and of its descendants) to newpath
	Move(oldpath, newpath string) error

	// Drop forgets every attribute of p and of its descendants
	Drop(p string) error
}

// MemoryAttrStore is an in-memory AttributeStore keyed by cleaned path.
// It pairs with in-memory bases such as memfs that lack xattr support.
type MemoryAttrStore struct {
	mu    sync.RWMutex
	attrs map[string]map[string][]byte
}

// NewMemoryAttrStore creates an empty in-memory attribute store
func NewMemoryAttrStore() *MemoryAttrStore {
	return &MemoryAttrStore{attrs: make(map[string]map[string][]byte)}
}

// Get returns a copy of the stored value
func (m *MemoryAttrStore) Get(p, name string, maxLen int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.attrs[path.Clean(p)][name]
	if !ok {
		return nil, newAttrError("get", p, name, ErrNotFound, "no such attribute")
	}
	if len(v) > maxLen {
		return nil, newAttrError("get", p, name, ErrBufferTooSmall,
			fmt.Sprintf("value is %d bytes, buffer is %d", len(v), maxLen))
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value
func (m *MemoryAttrStore) Set(p, name string, value []byte, mode SetMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := path.Clean(p)
	entry := m.attrs[key]
	_, exists := entry[name]
	switch {
	case mode == CreateOnly && exists:
		return newAttrError("set", p, name, ErrAlreadyExists, "attribute exists")
	case mode == ReplaceOnly && !exists:
		return newAttrError("set", p, name, ErrNotFound, "no such attribute")
	}
	if entry == nil {
		entry = make(map[string][]byte)
		m.attrs[key] = entry
	}
	entry[name] = append([]byte(nil), value...)
	return nil
}

// Remove deletes the attribute
func (m *MemoryAttrStore) Remove(p, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := path.Clean(p)
	entry := m.attrs[key]
	if _, ok := entry[name]; !ok {
		return newAttrError("remove", p, name, ErrNotFound, "no such attribute")
	}
	delete(entry, name)
	if len(entry) == 0 {
		delete(m.attrs, key)
	}
	return nil
}

// List returns the attribute names of p, sorted
func (m *MemoryAttrStore) List(p string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry := m.attrs[path.Clean(p)]
	names := make([]string, 0, len(entry))
	for name := range entry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Move re-keys oldpath and everything below it
func (m *MemoryAttrStore) Move(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, to := path.Clean(oldpath), path.Clean(newpath)
	moved := make(map[string]map[string][]byte)
	for key, entry := range m.attrs {
		if rest, ok := underPath(key, from); ok {
			moved[to+rest] = entry
			delete(m.attrs, key)
		}
	}
	// A rename replaces whatever lived at the destination.
	for key := range m.attrs {
		if _, ok := underPath(key, to); ok {
			delete(m.attrs, key)
		}
	}
	for key, entry := range moved {
		m.attrs[key] = entry
	}
	return nil
}

// Drop forgets p and everything below it
func (m *MemoryAttrStore) Drop(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := path.Clean(p)
	for key := range m.attrs {
		if _, ok := underPath(key, root); ok {
			delete(m.attrs, key)
		}
	}
	return nil
}

// underPath reports whether key is root or lies below it, returning the
// remainder after root
func underPath(key, root string) (string, bool) {
	if key == root {
		return "", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if strings.HasPrefix(key, prefix) {
		return key[len(strings.TrimSuffix(root, "/")):], true
	}
	return "", false
}

var (
	_ AttributeStore = (*MemoryAttrStore)(nil)
	_ AttributeMover = (*MemoryAttrStore)(nil)
)
