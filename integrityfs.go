package integrityfs

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/absfs/absfs"
)

// maxAttrValue bounds the values returned by Getxattr (XATTR_SIZE_MAX on Linux)
const maxAttrValue = 64 << 10

// IntegrityFS implements absfs.FileSystem over a base filesystem and keeps
// integrity attributes in an AttributeStore. Ordinary file operations pass
// through; attribute operations go through the Interceptor.
type IntegrityFS struct {
	base        absfs.FileSystem
	store       AttributeStore
	config      *Config
	locks       *DirLocker
	engine      *DigestEngine
	manager     *MetadataManager
	interceptor *Interceptor
	verifier    *Verifier
}

// New creates an integrity layer over base that persists attributes in store
func New(base absfs.FileSystem, store AttributeStore, config *Config) (*IntegrityFS, error) {
	if base == nil {
		return nil, ErrNilBase
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := config.withDefaults()

	engine, err := NewDigestEngine(base, store, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest engine: %w", err)
	}
	locks := NewDirLocker()
	manager, err := NewMetadataManager(engine, locks, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata manager: %w", err)
	}
	interceptor, err := NewInterceptor(manager, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create interceptor: %w", err)
	}
	verifier, err := NewVerifier(manager, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	return &IntegrityFS{
		base:        base,
		store:       store,
		config:      cfg,
		locks:       locks,
		engine:      engine,
		manager:     manager,
		interceptor: interceptor,
		verifier:    verifier,
	}, nil
}

// resolve turns name into the absolute, cleaned path used as attribute key
func (f *IntegrityFS) resolve(name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	wd, err := f.base.Getwd()
	if err != nil || wd == "" {
		wd = "/"
	}
	return path.Join(wd, name)
}

// Base returns the wrapped filesystem
func (f *IntegrityFS) Base() absfs.FileSystem {
	return f.base
}

// Separator returns the path separator for the underlying filesystem
func (f *IntegrityFS) Separator() uint8 {
	return f.base.Separator()
}

// ListSeparator returns the list separator for the underlying filesystem
func (f *IntegrityFS) ListSeparator() uint8 {
	return f.base.ListSeparator()
}

// Chdir changes the current working directory
func (f *IntegrityFS) Chdir(dir string) error {
	return f.base.Chdir(dir)
}

// Getwd returns the current working directory
func (f *IntegrityFS) Getwd() (string, error) {
	return f.base.Getwd()
}

// TempDir returns the temporary directory path
func (f *IntegrityFS) TempDir() string {
	return f.base.TempDir()
}

// Open opens a file for reading
func (f *IntegrityFS) Open(name string) (absfs.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file for writing
func (f *IntegrityFS) Create(name string) (absfs.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// OpenFile opens a file with the specified flags and permissions. With
// VerifyOnOpen a protected file whose content no longer matches its digest
// is not opened. With UpdateOnClose a file opened for writing is wrapped so
// that its digest follows the content.
func (f *IntegrityFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	p := f.resolve(name)

	if f.config.VerifyOnOpen && flag&os.O_TRUNC == 0 {
		if err := f.verifyBeforeOpen(p); err != nil {
			return nil, err
		}
	}

	baseFile, err := f.base.OpenFile(p, flag, perm)
	if err != nil {
		return nil, err
	}

	if f.config.UpdateOnClose && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return newIntegrityFile(baseFile, f, p, flag&os.O_TRUNC != 0), nil
	}
	return baseFile, nil
}

// verifyBeforeOpen checks p if it exists and is protected
func (f *IntegrityFS) verifyBeforeOpen(p string) error {
	t, err := f.engine.typeOf(p)
	if err != nil {
		// missing files are reported by the base open
		return nil
	}
	if !f.engine.digestible(t) {
		return nil
	}
	protected, err := f.manager.IsProtected(p)
	if err != nil || !protected {
		return err
	}
	return f.verifier.Verify(p)
}

// Mkdir creates a directory
func (f *IntegrityFS) Mkdir(name string, perm os.FileMode) error {
	return f.base.Mkdir(f.resolve(name), perm)
}

// MkdirAll creates a directory and all necessary parent directories
func (f *IntegrityFS) MkdirAll(name string, perm os.FileMode) error {
	return f.base.MkdirAll(f.resolve(name), perm)
}

// Remove removes a file or empty directory together with its attributes
func (f *IntegrityFS) Remove(name string) error {
	p := f.resolve(name)
	defer f.locks.Lock(p)()

	if err := f.base.Remove(p); err != nil {
		return err
	}
	return f.dropAttrs(p)
}

// RemoveAll removes a path and any children it contains
func (f *IntegrityFS) RemoveAll(name string) error {
	p := f.resolve(name)
	defer f.locks.Lock(p)()

	if err := f.base.RemoveAll(p); err != nil {
		return err
	}
	return f.dropAttrs(p)
}

func (f *IntegrityFS) dropAttrs(p string) error {
	mover, ok := f.store.(AttributeMover)
	if !ok {
		return nil
	}
	if err := mover.Drop(p); err != nil {
		return fmt.Errorf("failed to drop attributes of %s: %w", p, err)
	}
	return nil
}

// Rename renames (moves) a file. Both parent directories are locked for
// the duration, and path-keyed attributes move with the file.
func (f *IntegrityFS) Rename(oldpath, newpath string) error {
	from, to := f.resolve(oldpath), f.resolve(newpath)
	defer f.locks.LockPair(from, to)()

	if err := f.base.Rename(from, to); err != nil {
		return err
	}
	if mover, ok := f.store.(AttributeMover); ok && from != to {
		if err := mover.Move(from, to); err != nil {
			return fmt.Errorf("failed to move attributes of %s: %w", from, err)
		}
	}
	return nil
}

// Stat returns file information
func (f *IntegrityFS) Stat(name string) (os.FileInfo, error) {
	return f.base.Stat(f.resolve(name))
}

// Lstat returns file information without following a final symlink. It
// falls back to Stat on bases without symlink support.
func (f *IntegrityFS) Lstat(name string) (os.FileInfo, error) {
	p := f.resolve(name)
	if f.engine.links != nil {
		return f.engine.links.Lstat(p)
	}
	return f.base.Stat(p)
}

// Readlink returns the target of a symbolic link
func (f *IntegrityFS) Readlink(name string) (string, error) {
	if f.engine.links == nil {
		return "", &os.PathError{Op: "readlink", Path: name, Err: ErrNotSupported}
	}
	return f.engine.links.Readlink(f.resolve(name))
}

// Symlink creates newname as a symbolic link to oldname
func (f *IntegrityFS) Symlink(oldname, newname string) error {
	s, ok := f.base.(symlinker)
	if !ok {
		return &os.LinkError{Op: "symlink", Old: oldname, New: newname, Err: ErrNotSupported}
	}
	return s.Symlink(oldname, f.resolve(newname))
}

// Chmod changes the mode of a file
func (f *IntegrityFS) Chmod(name string, mode os.FileMode) error {
	return f.base.Chmod(f.resolve(name), mode)
}

// Chtimes changes the access and modification times of a file
func (f *IntegrityFS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return f.base.Chtimes(f.resolve(name), atime, mtime)
}

// Chown changes the owner and group of a file
func (f *IntegrityFS) Chown(name string, uid, gid int) error {
	return f.base.Chown(f.resolve(name), uid, gid)
}

// Truncate truncates a file to a specified size. With UpdateOnClose the
// digest of a protected file is recomputed afterwards.
func (f *IntegrityFS) Truncate(name string, size int64) error {
	p := f.resolve(name)
	if err := f.base.Truncate(p, size); err != nil {
		return err
	}
	if f.config.UpdateOnClose {
		return f.manager.Recompute(p)
	}
	return nil
}

// Setxattr sets an attribute on behalf of caller c
func (f *IntegrityFS) Setxattr(c Caller, name, attr string, value []byte, mode SetMode) error {
	return f.interceptor.SetAttr(c, f.resolve(name), attr, value, mode)
}

// Getxattr returns the value of an attribute
func (f *IntegrityFS) Getxattr(name, attr string) ([]byte, error) {
	return f.interceptor.GetAttr(f.resolve(name), attr, maxAttrValue)
}

// Removexattr removes an attribute on behalf of caller c
func (f *IntegrityFS) Removexattr(c Caller, name, attr string) error {
	return f.interceptor.RemoveAttr(c, f.resolve(name), attr)
}

// Listxattr lists the attribute names of a path
func (f *IntegrityFS) Listxattr(name string) ([]string, error) {
	return f.interceptor.ListAttr(f.resolve(name))
}

// Protect sets the protection flag of name, computing its digest
func (f *IntegrityFS) Protect(c Caller, name string) error {
	return f.Setxattr(c, name, AttrProtectionFlag, flagValue(true), SetAny)
}

// Unprotect clears the protection flag of name, removing its digest
func (f *IntegrityFS) Unprotect(c Caller, name string) error {
	return f.Setxattr(c, name, AttrProtectionFlag, flagValue(false), SetAny)
}

// SetAlgorithm selects the hash algorithm of name. The digest of a
// protected file is recomputed.
func (f *IntegrityFS) SetAlgorithm(c Caller, name, algorithm string) error {
	if !f.config.AlgorithmAttr {
		return newAttrError("set", name, AttrAlgorithm, ErrNotSupported, "per-path algorithms are disabled")
	}
	return f.Setxattr(c, name, AttrAlgorithm, []byte(algorithm), SetAny)
}

// ClearAlgorithm reverts name to the default algorithm
func (f *IntegrityFS) ClearAlgorithm(c Caller, name string) error {
	if !f.config.AlgorithmAttr {
		return newAttrError("remove", name, AttrAlgorithm, ErrNotSupported, "per-path algorithms are disabled")
	}
	return f.Removexattr(c, name, AttrAlgorithm)
}

// IsProtected reports whether the protection flag of name is set
func (f *IntegrityFS) IsProtected(name string) (bool, error) {
	return f.manager.IsProtected(f.resolve(name))
}

// Algorithm returns the algorithm in effect for name
func (f *IntegrityFS) Algorithm(name string) (string, error) {
	return f.manager.Algorithm(f.resolve(name))
}

// Digest returns the stored digest of name
func (f *IntegrityFS) Digest(name string) ([]byte, error) {
	return f.interceptor.GetAttr(f.resolve(name), AttrDigestValue, MaxDigestLen)
}

// Verify checks the content of name against its stored digest
func (f *IntegrityFS) Verify(name string) error {
	return f.verifier.Verify(f.resolve(name))
}

// Check classifies name as matching, mismatching, unprotected or lacking a
// baseline
func (f *IntegrityFS) Check(name string) (Result, error) {
	return f.verifier.Check(f.resolve(name))
}

var _ absfs.FileSystem = (*IntegrityFS)(nil)
