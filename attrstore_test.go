package integrityfs

import (
	"bytes"
	"testing"
)

type moverStore interface {
	AttributeStore
	AttributeMover
}

// storeFactories lists every path-keyed store so the same behavior is
// checked against each of them
func storeFactories() map[string]func(t *testing.T) moverStore {
	return map[string]func(t *testing.T) moverStore{
		"memory": func(t *testing.T) moverStore {
			return NewMemoryAttrStore()
		},
		"badger": func(t *testing.T) moverStore {
			s, err := OpenBadgerAttrStore("")
			if err != nil {
				t.Fatalf("OpenBadgerAttrStore() failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestAttributeStore(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("get set remove", func(t *testing.T) {
				s := newStore(t)

				_, err := s.Get("/f", "user.x", 16)
				assertKind(t, err, KindNotFound)

				if err := s.Set("/f", "user.x", []byte("value"), SetAny); err != nil {
					t.Fatalf("Set() failed: %v", err)
				}
				got, err := s.Get("/f", "user.x", 16)
				if err != nil || string(got) != "value" {
					t.Fatalf("Get() = %q, %v", got, err)
				}

				// stored values are copies
				got[0] = 'X'
				again, _ := s.Get("/f", "user.x", 16)
				if string(again) != "value" {
					t.Errorf("caller mutation leaked into the store: %q", again)
				}

				if err := s.Remove("/f", "user.x"); err != nil {
					t.Fatalf("Remove() failed: %v", err)
				}
				assertKind(t, s.Remove("/f", "user.x"), KindNotFound)
			})

			t.Run("modes", func(t *testing.T) {
				s := newStore(t)

				assertKind(t, s.Set("/f", "user.x", []byte("1"), ReplaceOnly), KindNotFound)
				if err := s.Set("/f", "user.x", []byte("1"), CreateOnly); err != nil {
					t.Fatalf("CreateOnly on absent failed: %v", err)
				}
				assertKind(t, s.Set("/f", "user.x", []byte("2"), CreateOnly), KindAlreadyExists)
				if err := s.Set("/f", "user.x", []byte("3"), ReplaceOnly); err != nil {
					t.Fatalf("ReplaceOnly on present failed: %v", err)
				}
				if err := s.Set("/f", "user.x", []byte("4"), SetAny); err != nil {
					t.Fatalf("SetAny failed: %v", err)
				}
				got, _ := s.Get("/f", "user.x", 16)
				if string(got) != "4" {
					t.Errorf("value = %q, want 4", got)
				}
			})

			t.Run("buffer too small", func(t *testing.T) {
				s := newStore(t)
				if err := s.Set("/f", "user.x", bytes.Repeat([]byte{7}, 64), SetAny); err != nil {
					t.Fatalf("Set() failed: %v", err)
				}
				_, err := s.Get("/f", "user.x", 63)
				assertKind(t, err, KindBufferTooSmall)
				if got, err := s.Get("/f", "user.x", 64); err != nil || len(got) != 64 {
					t.Errorf("Get() at exact size = %d bytes, %v", len(got), err)
				}
			})

			t.Run("list", func(t *testing.T) {
				s := newStore(t)
				for _, n := range []string{"user.b", "user.a", "user.c"} {
					if err := s.Set("/f", n, []byte("v"), SetAny); err != nil {
						t.Fatalf("Set(%s) failed: %v", n, err)
					}
				}
				s.Set("/f2", "user.z", []byte("v"), SetAny)

				names, err := s.List("/f")
				if err != nil {
					t.Fatalf("List() failed: %v", err)
				}
				want := []string{"user.a", "user.b", "user.c"}
				if len(names) != len(want) {
					t.Fatalf("List() = %v, want %v", names, want)
				}
				for i := range want {
					if names[i] != want[i] {
						t.Errorf("List()[%d] = %s, want %s", i, names[i], want[i])
					}
				}
				if names, _ := s.List("/none"); len(names) != 0 {
					t.Errorf("List() of bare path = %v", names)
				}
			})

			t.Run("paths are cleaned", func(t *testing.T) {
				s := newStore(t)
				if err := s.Set("/a//b/", "user.x", []byte("v"), SetAny); err != nil {
					t.Fatalf("Set() failed: %v", err)
				}
				if _, err := s.Get("/a/b", "user.x", 16); err != nil {
					t.Errorf("Get() by cleaned path failed: %v", err)
				}
			})

			t.Run("move", func(t *testing.T) {
				s := newStore(t)
				s.Set("/src", "user.x", []byte("dir"), SetAny)
				s.Set("/src/f", "user.x", []byte("file"), SetAny)
				s.Set("/srcx", "user.x", []byte("sibling"), SetAny)
				s.Set("/dst/old", "user.x", []byte("stale"), SetAny)

				if err := s.Move("/src", "/dst"); err != nil {
					t.Fatalf("Move() failed: %v", err)
				}
				for p, want := range map[string]string{"/dst": "dir", "/dst/f": "file", "/srcx": "sibling"} {
					got, err := s.Get(p, "user.x", 16)
					if err != nil || string(got) != want {
						t.Errorf("Get(%s) = %q, %v; want %q", p, got, err, want)
					}
				}
				for _, p := range []string{"/src", "/src/f", "/dst/old"} {
					if _, err := s.Get(p, "user.x", 16); !IsNotFound(err) {
						t.Errorf("Get(%s) after move = %v, want NotFound", p, err)
					}
				}
			})

			t.Run("drop", func(t *testing.T) {
				s := newStore(t)
				s.Set("/d", "user.x", []byte("v"), SetAny)
				s.Set("/d/e/f", "user.x", []byte("v"), SetAny)
				s.Set("/dd", "user.x", []byte("v"), SetAny)

				if err := s.Drop("/d"); err != nil {
					t.Fatalf("Drop() failed: %v", err)
				}
				for _, p := range []string{"/d", "/d/e/f"} {
					if names, _ := s.List(p); len(names) != 0 {
						t.Errorf("%s still has %v", p, names)
					}
				}
				if _, err := s.Get("/dd", "user.x", 16); err != nil {
					t.Errorf("sibling with shared prefix was dropped: %v", err)
				}

				if err := s.Drop("/"); err != nil {
					t.Fatalf("Drop(/) failed: %v", err)
				}
				if names, _ := s.List("/dd"); len(names) != 0 {
					t.Errorf("Drop(/) left %v", names)
				}
			})
		})
	}
}

func TestUnderPath(t *testing.T) {
	tests := []struct {
		key, root string
		rest      string
		ok        bool
	}{
		{"/a", "/a", "", true},
		{"/a/b", "/a", "/b", true},
		{"/ab", "/a", "", false},
		{"/a/b", "/", "/a/b", true},
		{"/", "/", "", true},
		{"/b", "/a", "", false},
	}
	for _, tt := range tests {
		rest, ok := underPath(tt.key, tt.root)
		if rest != tt.rest || ok != tt.ok {
			t.Errorf("underPath(%q, %q) = %q, %v; want %q, %v", tt.key, tt.root, rest, ok, tt.rest, tt.ok)
		}
	}
}

func TestBadgerAttrStore_IntegrityFS(t *testing.T) {
	store, err := OpenBadgerAttrStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerAttrStore() failed: %v", err)
	}
	defer store.Close()

	fsys, _ := setupTestFS(t, nil)
	fs, err := New(fsys.Base(), store, DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	writeFile(t, fs, "/f", "abc")
	if err := fs.Protect(Root, "/f"); err != nil {
		t.Fatalf("Protect() failed: %v", err)
	}
	if got := storedDigest(t, store, "/f"); !bytes.Equal(got, md5Of("abc")) {
		t.Errorf("digest = %x", got)
	}
	if err := fs.Rename("/f", "/g"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if err := fs.Verify("/g"); err != nil {
		t.Errorf("Verify() after rename = %v", err)
	}
}
