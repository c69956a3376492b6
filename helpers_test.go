package integrityfs

import (
	"crypto/md5"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// user is an ordinary, unprivileged caller
var user = Caller{UID: 1000, GID: 1000}

// setupTestFS creates an IntegrityFS over memfs with an in-memory store
func setupTestFS(t *testing.T, cfg *Config) (*IntegrityFS, *MemoryAttrStore) {
	t.Helper()

	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("failed to create memfs: %v", err)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store := NewMemoryAttrStore()
	fs, err := New(base, store, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return fs, store
}

// setupLocalFS creates an IntegrityFS over a temporary OS directory
func setupLocalFS(t *testing.T, cfg *Config) (*IntegrityFS, *LocalFS, *MemoryAttrStore) {
	t.Helper()

	base, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS() failed: %v", err)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store := NewMemoryAttrStore()
	fs, err := New(base, store, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return fs, base, store
}

// writeFile replaces the content of name on fs
func writeFile(t *testing.T, fs absfs.FileSystem, name, content string) {
	t.Helper()

	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", name, err)
	}
}

// appendFile appends content to name on fs
func appendFile(t *testing.T, fs absfs.FileSystem, name, content string) {
	t.Helper()

	f, err := fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("failed to open %s: %v", name, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		t.Fatalf("failed to seek %s: %v", name, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		t.Fatalf("failed to append to %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", name, err)
	}
}

func readFile(t *testing.T, fs absfs.FileSystem, name string) string {
	t.Helper()

	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("failed to open %s: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func md5Of(s string) []byte {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

// storedDigest returns the digest attribute of p, or nil if absent
func storedDigest(t *testing.T, store AttributeStore, p string) []byte {
	t.Helper()

	v, err := store.Get(p, AttrDigestValue, MaxDigestLen)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read digest of %s: %v", p, err)
	}
	return v
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
	}
}

// faultyStore injects errors into a MemoryAttrStore
type faultyStore struct {
	*MemoryAttrStore
	mu      sync.Mutex
	failGet map[string]error
	failSet map[string]error
	failRm  map[string]error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryAttrStore: NewMemoryAttrStore(),
		failGet:         make(map[string]error),
		failSet:         make(map[string]error),
		failRm:          make(map[string]error),
	}
}

func (s *faultyStore) Get(p, name string, maxLen int) ([]byte, error) {
	s.mu.Lock()
	err := s.failGet[name]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryAttrStore.Get(p, name, maxLen)
}

func (s *faultyStore) Set(p, name string, value []byte, mode SetMode) error {
	s.mu.Lock()
	err := s.failSet[name]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryAttrStore.Set(p, name, value, mode)
}

func (s *faultyStore) Remove(p, name string) error {
	s.mu.Lock()
	err := s.failRm[name]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryAttrStore.Remove(p, name)
}
