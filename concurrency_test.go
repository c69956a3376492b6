package integrityfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentProtect_SameFile(t *testing.T) {
	fs, base, store := setupLocalFS(t, nil)
	writeFile(t, base, "/f", "v0")

	versions := make(map[string]bool)
	for i := 0; i < 8; i++ {
		versions[string(md5Of(fmt.Sprintf("v%d", i)))] = true
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	// writers swap whole versions into place; the OS rename is atomic
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				tmp := fmt.Sprintf("/tmp-%d-%d", w, i)
				data := []byte(fmt.Sprintf("v%d", i))
				if err := os.WriteFile(filepath.Join(base.Root(), tmp), data, 0644); err != nil {
					errs <- err
					return
				}
				if err := base.Rename(tmp, "/f"); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if err := fs.Protect(Root, "/f"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	got := storedDigest(t, store, "/f")
	if !versions[string(got)] {
		t.Errorf("digest %x does not match any written version", got)
	}

	// once writers are quiet the stored digest converges on the content
	if err := fs.Protect(Root, "/f"); err != nil {
		t.Fatalf("Protect() failed: %v", err)
	}
	if err := fs.Verify("/f"); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestConcurrentProtect_SameDirectory(t *testing.T) {
	fs, base, _ := setupLocalFS(t, nil)
	if err := fs.Mkdir("/d", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	const n = 32
	for i := 0; i < n; i++ {
		writeFile(t, base, fmt.Sprintf("/d/f%02d", i), fmt.Sprintf("content %d", i))
	}

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := fmt.Sprintf("/d/f%02d", i)
			if err := fs.Protect(Root, p); err != nil {
				failed.Add(1)
				return
			}
			if err := fs.Verify(p); err != nil {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if failed.Load() != 0 {
		t.Fatalf("%d operations failed", failed.Load())
	}
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("/d/f%02d", i)
		got, err := fs.Digest(p)
		if err != nil || !bytes.Equal(got, md5Of(fmt.Sprintf("content %d", i))) {
			t.Errorf("Digest(%s) = %x, %v", p, got, err)
		}
	}
}

func TestDirLocker_SerializesSiblings(t *testing.T) {
	locks := NewDirLocker()

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := locks.Lock(fmt.Sprintf("/dir/file%d", i))
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}(i)
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two holders of the same directory lock overlapped")
	}
}

func TestDirLocker_IndependentDirectories(t *testing.T) {
	locks := NewDirLocker()

	unlock := locks.Lock("/a/x")
	done := make(chan struct{})
	go func() {
		locks.Lock("/b/y")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on /b blocked behind /a")
	}
	unlock()
}

func TestDirLocker_LockPair(t *testing.T) {
	locks := NewDirLocker()

	// opposite orders must not deadlock
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			locks.LockPair("/a/x", "/b/y")()
		}()
		go func() {
			defer wg.Done()
			locks.LockPair("/b/y", "/a/x")()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("LockPair deadlocked")
	}

	// same parent takes one lock
	locks.LockPair("/a/x", "/a/y")()
}

func TestParentOf(t *testing.T) {
	tests := map[string]string{
		"/a/b":     "/a",
		"/a/b/":    "/a",
		"/a//b":    "/a",
		"/a":       "/",
		"/":        "/",
		"a/../b/c": "b",
	}
	for in, want := range tests {
		if got := parentOf(in); got != want {
			t.Errorf("parentOf(%q) = %q, want %q", in, got, want)
		}
	}
}
