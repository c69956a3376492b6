package integrityfs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
)

// Result is the outcome of checking one path
type Result uint8

const (
	// ResultMatch means the stored digest equals the digest of the content
	ResultMatch Result = iota
	// ResultMismatch means the content changed since the digest was stored
	ResultMismatch
	// ResultUnprotected means the path carries neither flag nor digest
	ResultUnprotected
	// ResultNoBaseline means the path is protected but has no digest
	ResultNoBaseline
)

func (r Result) String() string {
	switch r {
	case ResultMatch:
		return "match"
	case ResultMismatch:
		return "mismatch"
	case ResultUnprotected:
		return "unprotected"
	case ResultNoBaseline:
		return "no_baseline"
	default:
		return "unknown"
	}
}

// Verifier recomputes digests and compares them with the stored ones. There
// is no cache: every call reads the whole content again.
//
// The comparison uses bytes.Equal and is not constant time. It must not be
// reused to compare secrets.
type Verifier struct {
	manager *MetadataManager
	logger  *slog.Logger
	metrics Metrics
}

// NewVerifier creates a verifier that reads attributes through manager
func NewVerifier(manager *MetadataManager, cfg *Config) (*Verifier, error) {
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
	return &Verifier{
		manager: manager,
		logger:  cfg.Logger,
		metrics: metricsOrNop(cfg.Metrics),
	}, nil
}

// Verify returns nil when the content of p matches its stored digest. A
// mismatch returns an *IntegrityError; a missing or unreadable digest wraps
// ErrNoBaseline.
func (v *Verifier) Verify(p string) error {
	defer v.manager.locks.Lock(p)()

	_, err := v.compareLocked(p)
	switch {
	case err == nil:
		v.metrics.Verified(ResultMatch)
	case IsIntegrityError(err):
		v.metrics.Verified(ResultMismatch)
		v.logger.Warn("integrity violation", slog.String("path", p), slog.Any("error", err))
	case errors.Is(err, ErrNoBaseline):
		v.metrics.Verified(ResultNoBaseline)
	}
	return err
}

// Check classifies p. Only failures to read content or attributes are
// returned as errors; a mismatch is a result, not an error. A digest that
// exists but cannot be read is returned as an error wrapping ErrNoBaseline
// with ResultNoBaseline.
func (v *Verifier) Check(p string) (Result, error) {
	defer v.manager.locks.Lock(p)()

	res, err := v.compareLocked(p)
	if errors.Is(err, ErrNoBaseline) && IsNotFound(err) {
		protected, perr := v.manager.isProtectedLocked(p)
		if perr != nil {
			return res, perr
		}
		res, err = ResultUnprotected, nil
		if protected {
			res = ResultNoBaseline
		}
	}
	if IsIntegrityError(err) {
		err = nil
	}
	if err == nil {
		v.metrics.Verified(res)
	}
	return res, err
}

func (v *Verifier) compareLocked(p string) (Result, error) {
	// an absent or unreadable digest is no baseline; the store error stays
	// reachable through Cause
	stored, err := v.manager.store.Get(p, AttrDigestValue, MaxDigestLen)
	if err != nil {
		return ResultNoBaseline, &AttrError{
			Op:      "verify",
			Path:    p,
			Attr:    AttrDigestValue,
			Message: err.Error(),
			Err:     ErrNoBaseline,
			Cause:   err,
		}
	}
	alg, err := v.manager.algorithmLocked(p)
	if err != nil {
		return ResultMismatch, err
	}
	computed, err := v.manager.engine.ComputeDigest(p, alg, MaxDigestLen)
	if err != nil {
		return ResultMismatch, err
	}
	if !bytes.Equal(stored, computed) {
		return ResultMismatch, &IntegrityError{Path: p, Algorithm: alg, Stored: stored, Computed: computed}
	}
	return ResultMatch, nil
}
