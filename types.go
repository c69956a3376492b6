package integrityfs

import (
	"io"
	"log/slog"
	"strings"
)

// Reserved attribute names. They live in the user namespace so that ordinary
// xattr tooling can read them, but the Interceptor owns their semantics.
const (
	// AttrProtectionFlag holds '1' when integrity tracking is enabled for a path
	AttrProtectionFlag = "user.has_integrity"

	// AttrDigestValue holds the raw digest bytes; derived only
	AttrDigestValue = "user.integrity_val"

	// AttrAlgorithm names the hash algorithm used for the digest of a path
	AttrAlgorithm = "user.integrity_type"
)

const (
	// MaxDigestLen is the largest digest (in bytes) that can be persisted.
	// 64 bytes fits every registered algorithm (SHA-512, BLAKE2b-512).
	MaxDigestLen = 64

	// MaxAlgorithmNameLen bounds the value of AttrAlgorithm
	MaxAlgorithmNameLen = 32

	// DefaultChunkSize is the read size used while hashing file content.
	// It also bounds the length of a symlink target that can be hashed.
	DefaultChunkSize = 4096

	// DefaultAlgorithm applies whenever AttrAlgorithm is absent or disabled
	DefaultAlgorithm = "md5"
)

// SetMode selects the create/replace semantics of an attribute write
type SetMode uint8

const (
	// SetAny creates the attribute or replaces an existing value
	SetAny SetMode = iota
	// CreateOnly fails with ErrAlreadyExists if the attribute is present
	CreateOnly
	// ReplaceOnly fails with ErrNotFound if the attribute is absent
	ReplaceOnly
)

// String returns the string representation of the set mode
func (m SetMode) String() string {
	switch m {
	case SetAny:
		return "any"
	case CreateOnly:
		return "create"
	case ReplaceOnly:
		return "replace"
	default:
		return "unknown"
	}
}

// Caller identifies who issued an attribute operation
type Caller struct {
	UID uint32
	GID uint32
}

// Root is the conventional privileged caller
var Root = Caller{UID: 0, GID: 0}

// PrivilegeChecker decides whether a caller may change integrity attributes
type PrivilegeChecker interface {
	IsPrivileged(c Caller) bool
}

// PrivilegeFunc adapts a plain function to PrivilegeChecker
type PrivilegeFunc func(c Caller) bool

// IsPrivileged calls f(c)
func (f PrivilegeFunc) IsPrivileged(c Caller) bool {
	return f(c)
}

// RootOnly grants privilege to UID 0 only
var RootOnly PrivilegeChecker = PrivilegeFunc(func(c Caller) bool { return c.UID == 0 })

// Config contains configuration for the integrity layer. It is read once by
// New and must not be mutated afterwards.
type Config struct {
	// DefaultAlgorithm is used when a path carries no algorithm attribute
	DefaultAlgorithm string

	// ChunkSize is the read size for digest computation (default 4096)
	ChunkSize int

	// AlgorithmAttr enables the per-path algorithm attribute (AttrAlgorithm)
	AlgorithmAttr bool

	// Symlinks enables digests over symbolic link targets
	Symlinks bool

	// VerifyOnOpen verifies protected regular files before handing them out
	VerifyOnOpen bool

	// UpdateOnClose recomputes the digest when a written protected file is closed
	UpdateOnClose bool

	// Privilege decides who may change integrity attributes (default RootOnly)
	Privilege PrivilegeChecker

	// Logger receives structured logs; nil discards them
	Logger *slog.Logger

	// Metrics receives counters; nil disables them
	Metrics Metrics

	// Parallel controls tree audits
	Parallel ParallelConfig
}

// DefaultConfig returns a configuration with both optional capabilities off
func DefaultConfig() *Config {
	return &Config{
		DefaultAlgorithm: DefaultAlgorithm,
		ChunkSize:        DefaultChunkSize,
		Privilege:        RootOnly,
		Parallel:         DefaultParallelConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.DefaultAlgorithm != "" {
		if err := ValidateAlgorithm(c.DefaultAlgorithm); err != nil {
			return &ValidationError{
				Field:   "DefaultAlgorithm",
				Value:   c.DefaultAlgorithm,
				Message: "unsupported default algorithm",
				Err:     err,
			}
		}
	}
	if err := ValidateSize(c.ChunkSize, "ChunkSize", 0, 16<<20); err != nil {
		return err
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ValidationError{
			Field:   "Parallel",
			Message: err.Error(),
			Err:     err,
		}
	}
	return nil
}

// withDefaults returns a copy of c with zero values filled in
func (c *Config) withDefaults() *Config {
	out := *c
	if out.DefaultAlgorithm == "" {
		out.DefaultAlgorithm = DefaultAlgorithm
	}
	out.DefaultAlgorithm = strings.ToLower(out.DefaultAlgorithm)
	if out.ChunkSize == 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.Privilege == nil {
		out.Privilege = RootOnly
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out.Parallel.MinFilesForParallel == 0 {
		out.Parallel.MinFilesForParallel = DefaultParallelConfig().MinFilesForParallel
	}
	return &out
}
