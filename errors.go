package integrityfs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on its category instead of
// matching messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindPermissionDenied
	KindNotSupported
	KindUnsupportedType
	KindBufferTooSmall
	KindNotFound
	KindAlreadyExists
	KindResourceExhausted
	KindIntegrityViolation
	KindIO
	KindNoBaseline
	KindPartial
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindPermissionDenied:
		return "permission denied"
	case KindNotSupported:
		return "not supported"
	case KindUnsupportedType:
		return "unsupported file type"
	case KindBufferTooSmall:
		return "buffer too small"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindIntegrityViolation:
		return "integrity violation"
	case KindIO:
		return "io"
	case KindNoBaseline:
		return "no baseline"
	case KindPartial:
		return "partial success"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. Structured errors below wrap them so that
// errors.Is works against these values.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotSupported       = errors.New("operation not supported")
	ErrUnsupportedType    = errors.New("file type not supported for integrity")
	ErrBufferTooSmall     = errors.New("buffer too small")
	ErrNotFound           = errors.New("attribute not found")
	ErrAlreadyExists      = errors.New("attribute already exists")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrIntegrityViolation = errors.New("integrity check failed - content may be corrupted or tampered")
	ErrIO                 = errors.New("i/o error")
	ErrNoBaseline         = errors.New("no stored digest to verify against")
	ErrPartial            = errors.New("protection flag written but digest not updated")

	ErrNilConfig = errors.New("config cannot be nil")
	ErrNilBase   = errors.New("base filesystem cannot be nil")
	ErrNilStore  = errors.New("attribute store cannot be nil")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	// Partial and integrity errors are checked first because they wrap other causes.
	{KindPartial, ErrPartial},
	{KindIntegrityViolation, ErrIntegrityViolation},
	{KindNoBaseline, ErrNoBaseline},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindPermissionDenied, ErrPermissionDenied},
	{KindNotSupported, ErrNotSupported},
	{KindUnsupportedType, ErrUnsupportedType},
	{KindBufferTooSmall, ErrBufferTooSmall},
	{KindNotFound, ErrNotFound},
	{KindAlreadyExists, ErrAlreadyExists},
	{KindResourceExhausted, ErrResourceExhausted},
	{KindIO, ErrIO},
}

// KindOf reports the category of err. It returns KindUnknown for nil and for
// errors that do not wrap one of the package sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	if IsValidationError(err) {
		return KindInvalidArgument
	}
	return KindUnknown
}

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidArgument
}

// AttrError represents a rejected or failed attribute operation
type AttrError struct {
	Op      string // "get", "set", "remove", "list"
	Path    string // Target path
	Attr    string // Attribute name, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error, usually a sentinel
	Cause   error  // Store failure behind Err, if any
}

func (e *AttrError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("%s %s on %s: %s", e.Op, e.Attr, e.Path, e.Message)
	}
	return fmt.Sprintf("%s on %s: %s", e.Op, e.Path, e.Message)
}

// Unwrap exposes both Err and, when set, Cause to errors.Is
func (e *AttrError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IOError represents a failure of the underlying store
type IOError struct {
	Operation string // "open", "read", "stat", "readlink", ...
	Path      string // File path
	Offset    int64  // File offset, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" && e.Offset >= 0 {
		return fmt.Sprintf("io error: %s %s at offset %d: %s", e.Operation, e.Path, e.Offset, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

// Is makes every IOError match ErrIO in addition to its wrapped cause
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IntegrityError reports that the stored digest does not match the content
type IntegrityError struct {
	Path      string // File path
	Algorithm string // Algorithm used for both digests
	Stored    []byte // Digest read from the attribute store
	Computed  []byte // Digest of the current content
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s: stored %s digest %x does not match computed %x",
		e.Path, e.Algorithm, e.Stored, e.Computed)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityViolation
}

// PartialError reports a multi-step operation whose first write succeeded
// and whose derived step failed. The store is left with the new flag and the
// previous digest state.
type PartialError struct {
	Path  string // File path
	Stage string // The step that failed, e.g. "compute digest"
	Err   error  // Cause
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial update of %s: %s failed: %v", e.Path, e.Stage, e.Err)
}

// Unwrap exposes both ErrPartial and the cause to errors.Is
func (e *PartialError) Unwrap() []error {
	return []error{ErrPartial, e.Err}
}

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Offset:    -1,
		Message:   err.Error(),
		Err:       err,
	}
}

// newAttrError creates an attribute error wrapping a sentinel
func newAttrError(op, path, attr string, sentinel error, message string) error {
	return &AttrError{
		Op:      op,
		Path:    path,
		Attr:    attr,
		Message: message,
		Err:     sentinel,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsIntegrityError checks if an error is a digest mismatch
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsPartialError checks if an error reports a partially applied update
func IsPartialError(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// IsNotFound checks if an error reports a missing attribute
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
