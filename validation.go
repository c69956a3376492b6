package integrityfs

import (
	"fmt"
	"strings"
)

// Input validation helpers used by the Interceptor guards

// ValidateSize checks if a size parameter is valid
func ValidateSize(size int, name string, minSize, maxSize int) error {
	if size < 0 {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: "size cannot be negative",
		}
	}
	if minSize >= 0 && size < minSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too small: got %d, minimum is %d", size, minSize),
		}
	}
	if maxSize > 0 && size > maxSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too large: got %d, maximum is %d", size, maxSize),
		}
	}
	return nil
}

// ValidateFilePath checks if a file path is valid (not empty)
func ValidateFilePath(path string) error {
	if path == "" {
		return &ValidationError{
			Field:   "path",
			Message: "file path cannot be empty",
		}
	}
	return nil
}

// ValidateAlgorithm checks that name is a registered algorithm whose digest
// fits in MaxDigestLen
func ValidateAlgorithm(name string) error {
	if len(name) == 0 || len(name) > MaxAlgorithmNameLen {
		return &ValidationError{
			Field:   "algorithm",
			Value:   len(name),
			Message: fmt.Sprintf("algorithm name length must be in (0, %d]", MaxAlgorithmNameLen),
		}
	}
	alg, ok := lookupAlgorithm(name)
	if !ok {
		return &ValidationError{
			Field:   "algorithm",
			Value:   name,
			Message: "algorithm not supported",
		}
	}
	if alg.size > MaxDigestLen {
		return &ValidationError{
			Field:   "algorithm",
			Value:   name,
			Message: fmt.Sprintf("digest size %d exceeds maximum %d", alg.size, MaxDigestLen),
		}
	}
	return nil
}

// parseFlag interprets a protection flag value. It accepts exactly one byte,
// '0' or '1'.
func parseFlag(value []byte) (bool, error) {
	if len(value) != 1 {
		return false, &ValidationError{
			Field:   AttrProtectionFlag,
			Value:   len(value),
			Message: "value must be exactly one byte",
		}
	}
	switch value[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	default:
		return false, &ValidationError{
			Field:   AttrProtectionFlag,
			Value:   value[0],
			Message: "value must be '0' or '1'",
		}
	}
}

// flagValue encodes a protection flag
func flagValue(enabled bool) []byte {
	if enabled {
		return []byte{'1'}
	}
	return []byte{'0'}
}

// normalizeAlgorithm trims a trailing NUL (as written by C tools) and lowercases
func normalizeAlgorithm(value []byte) string {
	return strings.ToLower(strings.TrimRight(string(value), "\x00"))
}
