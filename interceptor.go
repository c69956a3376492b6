package integrityfs

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Interceptor is the policy gate for attribute operations. Every guard runs
// before the store is touched, so a rejected call leaves no partial state.
type Interceptor struct {
	manager       *MetadataManager
	store         AttributeStore
	locks         *DirLocker
	privilege     PrivilegeChecker
	algorithmAttr bool
	logger        *slog.Logger
	metrics       Metrics
}

// NewInterceptor creates an interceptor in front of manager
func NewInterceptor(manager *MetadataManager, cfg *Config) (*Interceptor, error) {
	if manager == nil {
		return nil, fmt.Errorf("metadata manager cannot be nil")
	}
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Interceptor{
		manager:       manager,
		store:         manager.store,
		locks:         manager.locks,
		privilege:     cfg.Privilege,
		algorithmAttr: cfg.AlgorithmAttr,
		logger:        cfg.Logger,
		metrics:       metricsOrNop(cfg.Metrics),
	}, nil
}

// SetAttr sets attribute name of p on behalf of caller c
func (i *Interceptor) SetAttr(c Caller, p, name string, value []byte, mode SetMode) error {
	log := i.opLogger("setxattr", p, name)
	err := i.setAttr(c, p, name, value, mode)
	i.finish(log, "set", err)
	return err
}

func (i *Interceptor) setAttr(c Caller, p, name string, value []byte, mode SetMode) error {
	if p == "" || name == "" {
		return newAttrError("set", p, name, ErrInvalidArgument, "path and attribute name are required")
	}
	if value == nil {
		return newAttrError("set", p, name, ErrInvalidArgument, "value is required")
	}
	if mode > ReplaceOnly {
		return newAttrError("set", p, name, ErrInvalidArgument, fmt.Sprintf("invalid set mode %d", mode))
	}
	if name == AttrDigestValue {
		return newAttrError("set", p, name, ErrNotSupported, "digest value is maintained by the integrity layer")
	}

	var enabled bool
	switch {
	case name == AttrProtectionFlag:
		if !i.privilege.IsPrivileged(c) {
			return newAttrError("set", p, name, ErrNotSupported, "caller is not privileged")
		}
		v, err := parseFlag(value)
		if err != nil {
			return err
		}
		enabled = v
	case name == AttrAlgorithm && i.algorithmAttr:
		if !i.privilege.IsPrivileged(c) {
			return newAttrError("set", p, name, ErrNotSupported, "caller is not privileged")
		}
		if len(value) == 0 || len(value) > MaxAlgorithmNameLen {
			return newAttrError("set", p, name, ErrInvalidArgument,
				fmt.Sprintf("algorithm name must be 1 to %d bytes", MaxAlgorithmNameLen))
		}
		if err := ValidateAlgorithm(normalizeAlgorithm(value)); err != nil {
			return err
		}
	}

	defer i.locks.Lock(p)()

	t, err := i.manager.engine.typeOf(p)
	if err != nil {
		return err
	}
	if name == AttrProtectionFlag && !i.manager.flaggable(t) {
		return newAttrError("set", p, name, ErrNotSupported, fmt.Sprintf("cannot protect a %s", t))
	}

	if err := i.store.Set(p, name, value, mode); err != nil {
		return err
	}

	if t == typeDir {
		return nil
	}
	switch {
	case name == AttrProtectionFlag:
		return i.manager.applyDerivedLocked(p, t, enabled)
	case name == AttrAlgorithm && i.algorithmAttr:
		return i.recomputeIfProtected(p, t)
	}
	return nil
}

// RemoveAttr removes attribute name of p on behalf of caller c
func (i *Interceptor) RemoveAttr(c Caller, p, name string) error {
	log := i.opLogger("removexattr", p, name)
	err := i.removeAttr(c, p, name)
	i.finish(log, "remove", err)
	return err
}

func (i *Interceptor) removeAttr(c Caller, p, name string) error {
	if p == "" || name == "" {
		return newAttrError("remove", p, name, ErrInvalidArgument, "path and attribute name are required")
	}
	if name == AttrDigestValue {
		return newAttrError("remove", p, name, ErrNotSupported, "digest value is maintained by the integrity layer")
	}
	guarded := name == AttrProtectionFlag || (name == AttrAlgorithm && i.algorithmAttr)
	if guarded && !i.privilege.IsPrivileged(c) {
		return newAttrError("remove", p, name, ErrNotSupported, "caller is not privileged")
	}

	defer i.locks.Lock(p)()

	t, err := i.manager.engine.typeOf(p)
	if err != nil {
		return err
	}
	if err := i.store.Remove(p, name); err != nil {
		return err
	}

	if t == typeDir || !guarded {
		return nil
	}
	if name == AttrProtectionFlag {
		if err := i.manager.clearDerivedLocked(p); err != nil {
			return i.manager.partial(p, "remove digest", err)
		}
		return nil
	}
	return i.recomputeIfProtected(p, t)
}

// recomputeIfProtected re-derives the digest after an algorithm change
func (i *Interceptor) recomputeIfProtected(p string, t targetType) error {
	protected, err := i.manager.isProtectedLocked(p)
	if err != nil {
		return i.manager.partial(p, "read protection flag", err)
	}
	if !protected || !i.manager.engine.digestible(t) {
		return nil
	}
	if err := i.manager.recomputeLocked(p); err != nil {
		return i.manager.partial(p, "recompute digest", err)
	}
	return nil
}

// GetAttr reads attribute name of p. It fails with ErrBufferTooSmall when the
// value is longer than maxLen.
func (i *Interceptor) GetAttr(p, name string, maxLen int) ([]byte, error) {
	if p == "" || name == "" || maxLen < 0 {
		return nil, newAttrError("get", p, name, ErrInvalidArgument, "invalid argument")
	}
	defer i.locks.Lock(p)()
	return i.store.Get(p, name, maxLen)
}

// ListAttr lists the attribute names of p
func (i *Interceptor) ListAttr(p string) ([]string, error) {
	if p == "" {
		return nil, newAttrError("list", p, "", ErrInvalidArgument, "path is required")
	}
	defer i.locks.Lock(p)()
	return i.store.List(p)
}

func (i *Interceptor) opLogger(op, p, name string) *slog.Logger {
	return i.logger.With(
		slog.String("op_id", uuid.NewString()),
		slog.String("op", op),
		slog.String("path", p),
		slog.String("attr", name),
	)
}

func (i *Interceptor) finish(log *slog.Logger, op string, err error) {
	if err == nil {
		log.Debug("attribute updated")
		return
	}
	kind := KindOf(err)
	i.metrics.AttrRejected(op, kind)
	if kind == KindPartial {
		log.Warn("attribute updated with errors", slog.Any("error", err))
		return
	}
	log.Debug("attribute operation rejected", slog.String("kind", kind.String()), slog.Any("error", err))
}
