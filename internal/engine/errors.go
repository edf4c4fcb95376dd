package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is
var (
	ErrEngineNotFound   = errors.New("engine not found")
	ErrValidationFailed = errors.New("data validation failed")
	ErrTimeout          = errors.New("engine timed out")
	ErrComputation      = errors.New("engine computation failed")
)

// ConfigErrorKind classifies a ConfigurationError
type ConfigErrorKind string

const (
	ConfigErrCycle             ConfigErrorKind = "cycle"
	ConfigErrDuplicateID       ConfigErrorKind = "duplicate_id"
	ConfigErrUnknownDependency ConfigErrorKind = "unknown_dependency"
	ConfigErrInvalid           ConfigErrorKind = "invalid"
)

// ConfigurationError is a registration-time problem. Fatal at startup.
type ConfigurationError struct {
	Kind   ConfigErrorKind
	IDs    []string
	Detail string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("engine configuration error (%s)", e.Kind)
	if len(e.IDs) > 0 {
		msg += ": " + strings.Join(e.IDs, ", ")
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsConfigurationError reports whether err wraps a ConfigurationError of the given kind.
// An empty kind matches any.
func IsConfigurationError(err error, kind ConfigErrorKind) bool {
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		return false
	}
	if kind == "" {
		return true
	}

	// errors.Join 결과는 첫 번째만 As로 잡히므로 전부 확인
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsConfigurationError(e, kind) {
				return true
			}
		}
		return false
	}
	return cfgErr.Kind == kind
}
