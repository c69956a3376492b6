//go:build linux

package integrityfs

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// XattrStore persists attributes as Linux extended attributes of files below
// root. Symbolic links are never followed. Attributes travel with the inode,
// so the store does not implement AttributeMover.
type XattrStore struct {
	root string
}

// NewXattrStore creates a store for the OS directory root. Paths passed to
// the store are slash separated and relative to root.
func NewXattrStore(root string) (*XattrStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve xattr root: %w", err)
	}
	return &XattrStore{root: abs}, nil
}

func (s *XattrStore) realPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))
}

// Get reads name from p
func (s *XattrStore) Get(p, name string, maxLen int) ([]byte, error) {
	real := s.realPath(p)
	size, err := unix.Lgetxattr(real, name, nil)
	if err != nil {
		return nil, xattrError("get", p, name, err)
	}
	if size > maxLen {
		return nil, newAttrError("get", p, name, ErrBufferTooSmall,
			fmt.Sprintf("value is %d bytes, buffer is %d", size, maxLen))
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(real, name, buf)
	if err != nil {
		return nil, xattrError("get", p, name, err)
	}
	return buf[:n], nil
}

// Set writes name on p. The mode maps onto XATTR_CREATE and XATTR_REPLACE,
// so the check and the write are one system call.
func (s *XattrStore) Set(p, name string, value []byte, mode SetMode) error {
	flags := 0
	switch mode {
	case CreateOnly:
		flags = unix.XATTR_CREATE
	case ReplaceOnly:
		flags = unix.XATTR_REPLACE
	}
	if err := unix.Lsetxattr(s.realPath(p), name, value, flags); err != nil {
		return xattrError("set", p, name, err)
	}
	return nil
}

// Remove deletes name from p
func (s *XattrStore) Remove(p, name string) error {
	if err := unix.Lremovexattr(s.realPath(p), name); err != nil {
		return xattrError("remove", p, name, err)
	}
	return nil
}

// List returns the attribute names of p
func (s *XattrStore) List(p string) ([]string, error) {
	real := s.realPath(p)
	size, err := unix.Llistxattr(real, nil)
	if err != nil {
		return nil, xattrError("list", p, "", err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(real, buf)
	if err != nil {
		return nil, xattrError("list", p, "", err)
	}
	var names []string
	for _, name := range strings.Split(string(buf[:n]), "\x00") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// xattrError translates an errno from the xattr system calls
func xattrError(op, p, name string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return NewIOError(op+"xattr", p, err)
	}
	var sentinel error
	switch errno {
	case unix.ENODATA:
		sentinel = ErrNotFound
	case unix.EEXIST:
		sentinel = ErrAlreadyExists
	case unix.ERANGE, unix.E2BIG:
		sentinel = ErrBufferTooSmall
	case unix.EPERM, unix.EACCES:
		sentinel = ErrPermissionDenied
	case unix.EOPNOTSUPP:
		sentinel = ErrNotSupported
	case unix.ENOMEM, unix.ENOSPC, unix.EDQUOT:
		sentinel = ErrResourceExhausted
	case unix.EINVAL:
		sentinel = ErrInvalidArgument
	default:
		return NewIOError(op+"xattr", p, err)
	}
	return &AttrError{Op: op, Path: p, Attr: name, Message: errno.Error(), Err: sentinel}
}

// Errno maps an error from this package onto the errno a FUSE or VFS
// handler should return. nil maps to 0.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInvalidArgument:
		return unix.EINVAL
	case KindPermissionDenied, KindIntegrityViolation:
		return unix.EPERM
	case KindNotSupported, KindUnsupportedType:
		return unix.EOPNOTSUPP
	case KindBufferTooSmall:
		return unix.ERANGE
	case KindNotFound, KindNoBaseline:
		return unix.ENODATA
	case KindAlreadyExists:
		return unix.EEXIST
	case KindResourceExhausted:
		return unix.ENOMEM
	default:
		return unix.EIO
	}
}

var _ AttributeStore = (*XattrStore)(nil)
