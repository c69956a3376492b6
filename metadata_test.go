package integrityfs

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func TestSetProtection_RegularFile(t *testing.T) {
	fs, store := setupTestFS(t, nil)
	writeFile(t, fs, "/f", "hello")

	if err := fs.manager.SetProtection("/f", true); err != nil {
		t.Fatalf("SetProtection(true) failed: %v", err)
	}

	flag, err := store.Get("/f", AttrProtectionFlag, 1)
	if err != nil || string(flag) != "1" {
		t.Fatalf("flag = %q, %v; want \"1\"", flag, err)
	}
	if got := storedDigest(t, store, "/f"); !bytes.Equal(got, md5Of("hello")) {
		t.Errorf("digest = %x, want %x", got, md5Of("hello"))
	}

	protected, err := fs.manager.IsProtected("/f")
	if err != nil || !protected {
		t.Errorf("IsProtected() = %v, %v", protected, err)
	}
}

func TestSetProtection_DisableIsIdempotent(t *testing.T) {
	fs, store := setupTestFS(t, nil)
	writeFile(t, fs, "/f", "hello")
	writeFile(t, fs, "/never", "untouched")

	if err := fs.manager.SetProtection("/f", true); err != nil {
		t.Fatalf("SetProtection(true) failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := fs.manager.SetProtection("/f", false); err != nil {
			t.Fatalf("SetProtection(false) #%d failed: %v", i, err)
		}
		if got := storedDigest(t, store, "/f"); got != nil {
			t.Fatalf("digest still present after disable #%d: %x", i, got)
		}
	}

	if err := fs.manager.SetProtection("/never", false); err != nil {
		t.Fatalf("SetProtection(false) on unprotected file failed: %v", err)
	}
	if got := storedDigest(t, store, "/never"); got != nil {
		t.Errorf("digest present on never protected file: %x", got)
	}
}

func TestSetProtection_Directory(t *testing.T) {
	fs, store := setupTestFS(t, nil)
	if err := fs.Mkdir("/d", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	for _, enabled := range []bool{true, false, true} {
		if err := fs.manager.SetProtection("/d", enabled); err != nil {
			t.Fatalf("SetProtection(%v) on directory failed: %v", enabled, err)
		}
		if got := storedDigest(t, store, "/d"); got != nil {
			t.Fatalf("directory carries a digest after SetProtection(%v)", enabled)
		}
	}

	_, err := store.Get("/d", AttrDigestValue, MaxDigestLen)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(digest) on directory = %v, want NotFound", err)
	}
	if protected, _ := fs.manager.IsProtected("/d"); !protected {
		t.Error("directory flag should be set")
	}
}

func TestSetProtection_PartialFailure(t *testing.T) {
	mem, _ := setupTestFS(t, nil)
	store := newFaultyStore()
	fs, err := New(mem.Base(), store, DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	writeFile(t, fs, "/f", "hello")

	cause := newAttrError("set", "/f", AttrDigestValue, ErrResourceExhausted, "no space left")
	store.failSet[AttrDigestValue] = cause

	err = fs.manager.SetProtection("/f", true)
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("SetProtection() error = %v, want ErrPartial", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("partial error should wrap the cause, got %v", err)
	}
	assertKind(t, err, KindPartial)

	// the flag write succeeded, the digest did not
	if protected, _ := fs.manager.IsProtected("/f"); !protected {
		t.Error("flag should be persisted")
	}
	if got := storedDigest(t, store, "/f"); got != nil {
		t.Errorf("no digest expected, got %x", got)
	}
}

func TestSetProtection_DisableRemovalFailure(t *testing.T) {
	mem, _ := setupTestFS(t, nil)
	store := newFaultyStore()
	fs, err := New(mem.Base(), store, DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	writeFile(t, fs, "/f", "hello")
	if err := fs.manager.SetProtection("/f", true); err != nil {
		t.Fatalf("SetProtection(true) failed: %v", err)
	}

	store.failRm[AttrDigestValue] = newAttrError("remove", "/f", AttrDigestValue, ErrPermissionDenied, "sealed")
	err = fs.manager.SetProtection("/f", false)
	assertKind(t, err, KindPartial)
}

func TestIsProtected_Inconsistent(t *testing.T) {
	fs, store := setupTestFS(t, nil)
	writeFile(t, fs, "/f", "hello")

	tests := []struct {
		name  string
		value []byte
	}{
		{"wrong byte", []byte("x")},
		{"too long", []byte("10")},
		{"empty", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Set("/f", AttrProtectionFlag, tt.value, SetAny); err != nil {
				t.Fatalf("store.Set failed: %v", err)
			}
			_, err := fs.manager.IsProtected("/f")
			assertKind(t, err, KindPermissionDenied)
		})
	}

	if err := store.Remove("/f", AttrProtectionFlag); err != nil {
		t.Fatalf("store.Remove failed: %v", err)
	}
	protected, err := fs.manager.IsProtected("/f")
	if err != nil || protected {
		t.Errorf("absent flag: IsProtected() = %v, %v", protected, err)
	}
}

func TestAlgorithm(t *testing.T) {
	t.Run("capability off ignores attribute", func(t *testing.T) {
		fs, store := setupTestFS(t, nil)
		writeFile(t, fs, "/f", "x")
		store.Set("/f", AttrAlgorithm, []byte("sha256"), SetAny)

		alg, err := fs.manager.Algorithm("/f")
		if err != nil || alg != DefaultAlgorithm {
			t.Errorf("Algorithm() = %q, %v; want %q", alg, err, DefaultAlgorithm)
		}
	})

	t.Run("capability on", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AlgorithmAttr = true
		fs, store := setupTestFS(t, cfg)
		writeFile(t, fs, "/f", "x")

		if alg, _ := fs.manager.Algorithm("/f"); alg != DefaultAlgorithm {
			t.Errorf("absent attribute: Algorithm() = %q", alg)
		}

		// C tools store the terminating NUL
		store.Set("/f", AttrAlgorithm, []byte("SHA256\x00"), SetAny)
		if alg, err := fs.manager.Algorithm("/f"); err != nil || alg != "sha256" {
			t.Errorf("Algorithm() = %q, %v; want sha256", alg, err)
		}

		store.Set("/f", AttrAlgorithm, []byte("whirlpool"), SetAny)
		_, err := fs.manager.Algorithm("/f")
		assertKind(t, err, KindInvalidArgument)
	})

	t.Run("custom default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DefaultAlgorithm = "sha256"
		fs, store := setupTestFS(t, cfg)
		writeFile(t, fs, "/f", "abc")

		if err := fs.manager.SetProtection("/f", true); err != nil {
			t.Fatalf("SetProtection() failed: %v", err)
		}
		want := sha256.Sum256([]byte("abc"))
		if got := storedDigest(t, store, "/f"); !bytes.Equal(got, want[:]) {
			t.Errorf("digest = %x, want sha256", got)
		}
	})
}

func TestRecompute(t *testing.T) {
	fs, store := setupTestFS(t, nil)
	writeFile(t, fs, "/f", "abc")
	writeFile(t, fs, "/plain", "abc")

	if err := fs.manager.Recompute("/plain"); err != nil {
		t.Fatalf("Recompute() on unprotected file failed: %v", err)
	}
	if got := storedDigest(t, store, "/plain"); got != nil {
		t.Fatal("Recompute() must not create a digest for an unprotected file")
	}

	if err := fs.manager.SetProtection("/f", true); err != nil {
		t.Fatalf("SetProtection() failed: %v", err)
	}
	appendFile(t, fs, "/f", "d")
	if err := fs.manager.Recompute("/f"); err != nil {
		t.Fatalf("Recompute() failed: %v", err)
	}
	if got := storedDigest(t, store, "/f"); !bytes.Equal(got, md5Of("abcd")) {
		t.Errorf("digest = %x, want md5(abcd)", got)
	}
}

func TestClearDerived_RemovesAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlgorithmAttr = true
	fs, store := setupTestFS(t, cfg)
	writeFile(t, fs, "/f", "abc")

	if err := fs.Setxattr(Root, "/f", AttrAlgorithm, []byte("sha1"), SetAny); err != nil {
		t.Fatalf("Setxattr(algorithm) failed: %v", err)
	}
	if err := fs.manager.SetProtection("/f", true); err != nil {
		t.Fatalf("SetProtection() failed: %v", err)
	}
	if err := fs.manager.ClearDerived("/f"); err != nil {
		t.Fatalf("ClearDerived() failed: %v", err)
	}

	names, _ := store.List("/f")
	for _, name := range names {
		if name == AttrDigestValue || name == AttrAlgorithm {
			t.Errorf("%s still present after ClearDerived", name)
		}
	}

	// already absent is not an error
	if err := fs.manager.ClearDerived("/f"); err != nil {
		t.Errorf("second ClearDerived() failed: %v", err)
	}
}
