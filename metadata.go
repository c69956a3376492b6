package integrityfs

import (
	"errors"
	"fmt"
	"log/slog"
)

// MetadataManager owns the protection flag, digest value and algorithm
// attributes of a path and keeps them consistent. It is the only component
// that writes or removes the digest attribute.
//
// Exported methods take the parent directory lock. The *Locked variants
// expect the caller to hold it already.
type MetadataManager struct {
	engine        *DigestEngine
	store         AttributeStore
	locks         *DirLocker
	defaultAlg    string
	algorithmAttr bool
	logger        *slog.Logger
}

// NewMetadataManager creates a manager around engine. The same DirLocker must
// be shared with every other component operating on the same tree.
func NewMetadataManager(engine *DigestEngine, locks *DirLocker, cfg *Config) (*MetadataManager, error) {
	if engine == nil {
		return nil, fmt.Errorf("digest engine cannot be nil")
	}
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if locks == nil {
		locks = NewDirLocker()
	}
	return &MetadataManager{
		engine:        engine,
		store:         engine.store,
		locks:         locks,
		defaultAlg:    cfg.DefaultAlgorithm,
		algorithmAttr: cfg.AlgorithmAttr,
		logger:        cfg.Logger,
	}, nil
}

// IsProtected reports whether the protection flag of p is set
func (m *MetadataManager) IsProtected(p string) (bool, error) {
	defer m.locks.Lock(p)()
	return m.isProtectedLocked(p)
}

func (m *MetadataManager) isProtectedLocked(p string) (bool, error) {
	v, err := m.store.Get(p, AttrProtectionFlag, MaxDigestLen)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if errors.Is(err, ErrBufferTooSmall) {
		return false, newAttrError("get", p, AttrProtectionFlag, ErrPermissionDenied, "inconsistent protection flag")
	}
	if err != nil {
		return false, err
	}
	enabled, perr := parseFlag(v)
	if perr != nil {
		return false, newAttrError("get", p, AttrProtectionFlag, ErrPermissionDenied,
			fmt.Sprintf("inconsistent protection flag %q", v))
	}
	return enabled, nil
}

// Algorithm returns the algorithm in effect for p
func (m *MetadataManager) Algorithm(p string) (string, error) {
	defer m.locks.Lock(p)()
	return m.algorithmLocked(p)
}

func (m *MetadataManager) algorithmLocked(p string) (string, error) {
	if !m.algorithmAttr {
		return m.defaultAlg, nil
	}
	v, err := m.store.Get(p, AttrAlgorithm, MaxAlgorithmNameLen)
	if errors.Is(err, ErrNotFound) {
		return m.defaultAlg, nil
	}
	if err != nil {
		return "", err
	}
	name := normalizeAlgorithm(v)
	if err := ValidateAlgorithm(name); err != nil {
		return "", err
	}
	return name, nil
}

// SetProtection writes the protection flag of p and applies its derived
// effects. If the flag is written but the digest step fails, the returned
// error wraps ErrPartial.
func (m *MetadataManager) SetProtection(p string, enabled bool) error {
	defer m.locks.Lock(p)()
	return m.setProtectionLocked(p, enabled)
}

func (m *MetadataManager) setProtectionLocked(p string, enabled bool) error {
	t, err := m.engine.typeOf(p)
	if err != nil {
		return err
	}
	if !m.flaggable(t) {
		return newAttrError("set", p, AttrProtectionFlag, ErrNotSupported,
			fmt.Sprintf("cannot protect a %s", t))
	}
	if err := setCreateOrReplace(m.store, p, AttrProtectionFlag, flagValue(enabled)); err != nil {
		return err
	}
	return m.applyDerivedLocked(p, t, enabled)
}

// flaggable reports whether a path of type t may carry the protection flag
func (m *MetadataManager) flaggable(t targetType) bool {
	return t == typeDir || m.engine.digestible(t)
}

// applyDerivedLocked runs the digest side effects of a flag that has already
// been persisted
func (m *MetadataManager) applyDerivedLocked(p string, t targetType, enabled bool) error {
	if t == typeDir {
		return nil
	}
	if enabled {
		if err := m.recomputeLocked(p); err != nil {
			return m.partial(p, "compute digest", err)
		}
		return nil
	}
	if err := m.clearDerivedLocked(p); err != nil {
		return m.partial(p, "remove digest", err)
	}
	return nil
}

// Recompute re-derives the digest of a protected non-directory path with its
// current algorithm. It does nothing for directories and unprotected paths.
func (m *MetadataManager) Recompute(p string) error {
	defer m.locks.Lock(p)()

	t, err := m.engine.typeOf(p)
	if err != nil {
		return err
	}
	if t == typeDir {
		return nil
	}
	protected, err := m.isProtectedLocked(p)
	if err != nil || !protected {
		return err
	}
	return m.recomputeLocked(p)
}

func (m *MetadataManager) recomputeLocked(p string) error {
	alg, err := m.algorithmLocked(p)
	if err != nil {
		return err
	}
	if err := m.engine.ComputeAndStore(p, alg); err != nil {
		return err
	}
	m.logger.Debug("digest stored", slog.String("path", p), slog.String("algorithm", alg))
	return nil
}

// ClearDerived removes the digest (and algorithm, when enabled) of p.
// Attributes that are already absent are not an error.
func (m *MetadataManager) ClearDerived(p string) error {
	defer m.locks.Lock(p)()
	return m.clearDerivedLocked(p)
}

func (m *MetadataManager) clearDerivedLocked(p string) error {
	if err := m.removeIfPresent(p, AttrDigestValue); err != nil {
		return err
	}
	if m.algorithmAttr {
		return m.removeIfPresent(p, AttrAlgorithm)
	}
	return nil
}

func (m *MetadataManager) removeIfPresent(p, name string) error {
	err := m.store.Remove(p, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (m *MetadataManager) partial(p, stage string, err error) error {
	m.logger.Warn("partial integrity update",
		slog.String("path", p),
		slog.String("stage", stage),
		slog.Any("error", err))
	return &PartialError{Path: p, Stage: stage, Err: err}
}
