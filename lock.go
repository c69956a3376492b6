package integrityfs

import (
	"path"
	"sync"
)

// DirLocker hands out one mutex per parent directory. All attribute
// mutations on entries of the same directory are serialized through it.
//
// Mutexes are created on first use and never freed; the set is bounded by
// the number of distinct directories touched.
type DirLocker struct {
	locks sync.Map // map[string]*sync.Mutex
}

// NewDirLocker creates an empty lock manager
func NewDirLocker() *DirLocker {
	return &DirLocker{}
}

// parentOf returns the cleaned parent directory of p
func parentOf(p string) string {
	return path.Dir(path.Clean(p))
}

func (l *DirLocker) mutex(dir string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(dir, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Lock acquires the lock of p's parent directory and returns the function
// that releases it. The returned func must be called exactly once.
func (l *DirLocker) Lock(p string) (unlock func()) {
	mu := l.mutex(parentOf(p))
	mu.Lock()
	return mu.Unlock
}

// LockPair acquires the parent locks of a and b in a fixed order so two
// concurrent renames in opposite directions cannot deadlock. When both share
// a parent only one lock is taken.
func (l *DirLocker) LockPair(a, b string) (unlock func()) {
	da, db := parentOf(a), parentOf(b)
	if da == db {
		return l.Lock(a)
	}
	if db < da {
		da, db = db, da
	}
	first, second := l.mutex(da), l.mutex(db)
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
