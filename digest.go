package integrityfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/absfs/absfs"
)

// symlinkReader is implemented by bases that can inspect symbolic links
// without following them
type symlinkReader interface {
	Lstat(name string) (os.FileInfo, error)
	Readlink(name string) (string, error)
}

// symlinker is implemented by bases that can create symbolic links
type symlinker interface {
	Symlink(oldname, newname string) error
}

// targetType classifies a path for digest purposes
type targetType uint8

const (
	typeOther targetType = iota
	typeRegular
	typeDir
	typeSymlink
)

func (t targetType) String() string {
	switch t {
	case typeRegular:
		return "regular file"
	case typeDir:
		return "directory"
	case typeSymlink:
		return "symlink"
	default:
		return "special file"
	}
}

func classify(info os.FileInfo) targetType {
	m := info.Mode()
	switch {
	case m.IsRegular():
		return typeRegular
	case m.IsDir():
		return typeDir
	case m&os.ModeSymlink != 0:
		return typeSymlink
	default:
		return typeOther
	}
}

// DigestEngine streams file content (or a symlink target) through a hash in
// fixed-size chunks. It holds no locks; callers that persist digests hold the
// parent directory lock for the whole call.
type DigestEngine struct {
	base      absfs.FileSystem
	links     symlinkReader // nil when the base cannot Lstat
	store     AttributeStore
	chunkSize int
	symlinks  bool
	metrics   Metrics
	buffers   sync.Pool
}

// NewDigestEngine creates a digest engine over base that persists into store
func NewDigestEngine(base absfs.FileSystem, store AttributeStore, cfg *Config) (*DigestEngine, error) {
	if base == nil {
		return nil, ErrNilBase
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	e := &DigestEngine{
		base:      base,
		store:     store,
		chunkSize: cfg.ChunkSize,
		symlinks:  cfg.Symlinks,
		metrics:   metricsOrNop(cfg.Metrics),
	}
	if l, ok := base.(symlinkReader); ok {
		e.links = l
	}
	size := cfg.ChunkSize
	e.buffers.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return e, nil
}

// stat inspects p without following a final symlink when the base allows it
func (e *DigestEngine) stat(p string) (os.FileInfo, error) {
	var (
		info os.FileInfo
		err  error
	)
	if e.links != nil {
		info, err = e.links.Lstat(p)
	} else {
		info, err = e.base.Stat(p)
	}
	if err != nil {
		return nil, &IOError{Operation: "stat", Path: p, Offset: -1, Message: err.Error(), Err: err}
	}
	return info, nil
}

// typeOf returns the target type of p
func (e *DigestEngine) typeOf(p string) (targetType, error) {
	info, err := e.stat(p)
	if err != nil {
		return typeOther, err
	}
	return classify(info), nil
}

// digestible reports whether t can carry a digest under the current config
func (e *DigestEngine) digestible(t targetType) bool {
	return t == typeRegular || (t == typeSymlink && e.symlinks)
}

// ComputeDigest returns the digest of p under algorithm. maxLen bounds the
// digest size; a larger algorithm fails with ErrBufferTooSmall before any I/O.
func (e *DigestEngine) ComputeDigest(p, algorithm string, maxLen int) ([]byte, error) {
	alg, ok := lookupAlgorithm(algorithm)
	if !ok {
		return nil, NewValidationError("algorithm", algorithm, "algorithm not supported")
	}
	if alg.size > maxLen {
		return nil, newAttrError("digest", p, AttrDigestValue, ErrBufferTooSmall,
			fmt.Sprintf("%s digest is %d bytes, buffer is %d", alg.name, alg.size, maxLen))
	}

	info, err := e.stat(p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		sum []byte
		n   int64
	)
	switch t := classify(info); {
	case t == typeRegular:
		sum, n, err = e.hashFile(p, alg)
	case t == typeSymlink && e.symlinks:
		sum, n, err = e.hashLink(p, alg)
	default:
		err = newAttrError("digest", p, "", ErrUnsupportedType,
			fmt.Sprintf("cannot digest a %s", t))
	}
	if err != nil {
		e.metrics.DigestFailed(alg.name, KindOf(err))
		return nil, err
	}
	e.metrics.DigestComputed(alg.name, n, time.Since(start))
	return sum, nil
}

// hashFile reads p sequentially from offset 0 to EOF in chunkSize reads
func (e *DigestEngine) hashFile(p string, alg algorithm) ([]byte, int64, error) {
	f, err := e.base.OpenFile(p, os.O_RDONLY, 0)
	if err != nil {
		return nil, 0, &IOError{Operation: "open", Path: p, Offset: -1, Message: err.Error(), Err: err}
	}
	defer f.Close()

	bp := e.buffers.Get().(*[]byte)
	defer e.buffers.Put(bp)
	buf := *bp

	h := alg.new()
	var offset int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			offset += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, offset, &IOError{Operation: "read", Path: p, Offset: offset, Message: readErr.Error(), Err: readErr}
		}
	}
	return h.Sum(nil), offset, nil
}

// hashLink hashes the target string of a symbolic link
func (e *DigestEngine) hashLink(p string, alg algorithm) ([]byte, int64, error) {
	if e.links == nil {
		return nil, 0, newAttrError("digest", p, "", ErrNotSupported, "base filesystem cannot read links")
	}
	target, err := e.links.Readlink(p)
	if err != nil {
		return nil, 0, &IOError{Operation: "readlink", Path: p, Offset: -1, Message: err.Error(), Err: err}
	}
	if len(target) > e.chunkSize {
		return nil, 0, newAttrError("digest", p, "", ErrBufferTooSmall,
			fmt.Sprintf("link target is %d bytes, limit is %d", len(target), e.chunkSize))
	}
	h := alg.new()
	io.WriteString(h, target)
	return h.Sum(nil), int64(len(target)), nil
}

// ComputeAndStore computes the digest of p and persists it. Nothing is
// written when the computation fails.
func (e *DigestEngine) ComputeAndStore(p, algorithm string) error {
	sum, err := e.ComputeDigest(p, algorithm, MaxDigestLen)
	if err != nil {
		return err
	}
	return setCreateOrReplace(e.store, p, AttrDigestValue, sum)
}

// setCreateOrReplace writes value with CreateOnly semantics and falls back to
// ReplaceOnly when the attribute already exists
func setCreateOrReplace(store AttributeStore, p, name string, value []byte) error {
	err := store.Set(p, name, value, CreateOnly)
	if errors.Is(err, ErrAlreadyExists) {
		err = store.Set(p, name, value, ReplaceOnly)
	}
	return err
}
