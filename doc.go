// Package integrityfs provides a passthrough integrity layer for the AbsFs
// filesystem abstraction. It attaches content digests to files through
// extended attributes and reports on demand whether a file was modified
// since its digest was taken.
//
// # Overview
//
// integrityfs implements the absfs.FileSystem interface, so it can wrap any
// AbsFs-compatible filesystem. Ordinary file operations pass straight
// through. Attribute operations go through a policy gate that owns three
// reserved attributes:
//
//   - user.has_integrity: '1' when the path is protected, '0' otherwise.
//     Only privileged callers may change it.
//   - user.integrity_val: the raw digest. Never settable by callers; it is
//     derived from the content when the flag is set and removed when the
//     flag is cleared.
//   - user.integrity_type: the hash algorithm of the path (optional, see
//     Config.AlgorithmAttr). If absent, Config.DefaultAlgorithm applies.
//
// Directories may carry the flag but never a digest. Symbolic links are
// digested over their target string when Config.Symlinks is enabled. Other
// file types cannot be protected.
//
// # Basic Usage
//
//	base, _ := memfs.NewFS()
//	fs, err := integrityfs.New(base, integrityfs.NewMemoryAttrStore(), integrityfs.DefaultConfig())
//	if err != nil {
//	    panic(err)
//	}
//
//	f, _ := fs.Create("/report.txt")
//	f.WriteString("quarterly numbers")
//	f.Close()
//
//	// Only privileged callers (UID 0 by default) may protect a file
//	if err := fs.Protect(integrityfs.Root, "/report.txt"); err != nil {
//	    panic(err)
//	}
//
//	// Later: nil, or an error wrapping ErrIntegrityViolation
//	err = fs.Verify("/report.txt")
//
// # Attribute Stores
//
// Digests persist through an AttributeStore:
//   - XattrStore: Linux extended attributes of an OS directory tree
//   - BadgerAttrStore: a BadgerDB sidecar database for bases without xattrs
//   - MemoryAttrStore: in-memory, for tests and memfs
//
// Path-keyed stores implement AttributeMover so that Rename and Remove keep
// attributes attached to the right file.
//
// # Concurrency
//
// Every attribute mutation, digest computation and verification runs under
// a mutex of the target's parent directory. Two callers protecting files in
// the same directory serialize; callers in different directories do not.
// Content writes are not locked, so a digest reflects the content at the
// moment it was computed.
//
// # Errors
//
// Errors carry a Kind (see KindOf) and wrap one of the package sentinels, so
// callers branch with errors.Is. A flag write whose derived digest step fails
// returns an error wrapping ErrPartial: the flag is persisted but the digest
// is stale or missing.
//
// # Security Considerations
//
// A digest detects accidental or unprivileged modification of content. It
// does not authenticate it: anyone able to write the attributes directly on
// the underlying store can forge a matching digest. Digest comparison is not
// constant time.
package integrityfs
