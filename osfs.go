package integrityfs

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// LocalFS is an absfs.FileSystem over an OS directory. Paths are slash
// separated and resolved below root; ".." cannot escape it. Unlike most
// absfs bases it can Lstat and Readlink, which the symlink digest path needs.
type LocalFS struct {
	root string
	cwd  string
}

// NewLocalFS roots a filesystem at dir
func NewLocalFS(dir string) (*LocalFS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "root", Path: dir, Err: os.ErrInvalid}
	}
	return &LocalFS{root: abs, cwd: "/"}, nil
}

// Root returns the OS directory the filesystem is rooted at
func (fs *LocalFS) Root() string {
	return fs.root
}

func (fs *LocalFS) abs(name string) string {
	if !path.IsAbs(name) {
		name = path.Join(fs.cwd, name)
	}
	return filepath.Join(fs.root, filepath.FromSlash(path.Clean("/"+name)))
}

// OpenFile opens a file with the given flags and permissions
func (fs *LocalFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(fs.abs(name), flag, perm)
}

// Open opens a file for reading
func (fs *LocalFS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file for reading and writing
func (fs *LocalFS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Mkdir creates a directory
func (fs *LocalFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(fs.abs(name), perm)
}

// MkdirAll creates a directory and any missing parents
func (fs *LocalFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(fs.abs(name), perm)
}

// Remove removes a file or empty directory
func (fs *LocalFS) Remove(name string) error {
	return os.Remove(fs.abs(name))
}

// RemoveAll removes a path and everything below it
func (fs *LocalFS) RemoveAll(name string) error {
	return os.RemoveAll(fs.abs(name))
}

// Rename moves oldpath to newpath
func (fs *LocalFS) Rename(oldpath, newpath string) error {
	return os.Rename(fs.abs(oldpath), fs.abs(newpath))
}

// Stat returns file information, following symlinks
func (fs *LocalFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(fs.abs(name))
}

// Lstat returns file information without following a final symlink
func (fs *LocalFS) Lstat(name string) (os.FileInfo, error) {
	return os.Lstat(fs.abs(name))
}

// Readlink returns the target of a symbolic link as stored
func (fs *LocalFS) Readlink(name string) (string, error) {
	return os.Readlink(fs.abs(name))
}

// Symlink creates newname pointing at oldname. oldname is stored verbatim.
func (fs *LocalFS) Symlink(oldname, newname string) error {
	return os.Symlink(oldname, fs.abs(newname))
}

// Chmod changes the mode of a file
func (fs *LocalFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(fs.abs(name), mode)
}

// Chtimes changes the access and modification times of a file
func (fs *LocalFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(fs.abs(name), atime, mtime)
}

// Chown changes the owner and group of a file
func (fs *LocalFS) Chown(name string, uid, gid int) error {
	return os.Chown(fs.abs(name), uid, gid)
}

// Truncate changes the size of a file
func (fs *LocalFS) Truncate(name string, size int64) error {
	return os.Truncate(fs.abs(name), size)
}

// Separator returns the path separator, always '/'
func (fs *LocalFS) Separator() uint8 {
	return '/'
}

// ListSeparator returns the OS path list separator
func (fs *LocalFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

// Chdir changes the working directory used for relative paths
func (fs *LocalFS) Chdir(dir string) error {
	if !path.IsAbs(dir) {
		dir = path.Join(fs.cwd, dir)
	}
	info, err := fs.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: dir, Err: os.ErrInvalid}
	}
	fs.cwd = path.Clean(dir)
	return nil
}

// Getwd returns the working directory
func (fs *LocalFS) Getwd() (string, error) {
	return fs.cwd, nil
}

// TempDir returns the directory for temporary files
func (fs *LocalFS) TempDir() string {
	return "/tmp"
}

var (
	_ absfs.FileSystem = (*LocalFS)(nil)
	_ symlinkReader    = (*LocalFS)(nil)
)
