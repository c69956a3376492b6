package integrityfs

import (
	"fmt"

	"github.com/absfs/absfs"
)

// integrityFile wraps a base file opened for writing and recomputes the
// digest of its path on Close if the content changed. Paths that are not
// protected are left alone.
type integrityFile struct {
	absfs.File
	fs      *IntegrityFS
	path    string
	written bool // True once the content may differ from the stored digest
}

// newIntegrityFile wraps base. truncated marks content that was already
// discarded by the open itself.
func newIntegrityFile(base absfs.File, fs *IntegrityFS, p string, truncated bool) *integrityFile {
	return &integrityFile{
		File:    base,
		fs:      fs,
		path:    p,
		written: truncated,
	}
}

func (f *integrityFile) Write(b []byte) (int, error) {
	n, err := f.File.Write(b)
	if n > 0 {
		f.written = true
	}
	return n, err
}

func (f *integrityFile) WriteAt(b []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(b, off)
	if n > 0 {
		f.written = true
	}
	return n, err
}

func (f *integrityFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *integrityFile) Truncate(size int64) error {
	if err := f.File.Truncate(size); err != nil {
		return err
	}
	f.written = true
	return nil
}

// Close closes the base file and, if it was modified, refreshes the digest
func (f *integrityFile) Close() error {
	if err := f.File.Close(); err != nil {
		return err
	}
	if !f.written {
		return nil
	}
	f.written = false
	if err := f.fs.manager.Recompute(f.path); err != nil {
		return fmt.Errorf("failed to update digest of %s: %w", f.path, err)
	}
	return nil
}
