// Package errs holds the typed failures shared by every layer of the pipeline.
//
// Callers branch on these with errors.As / errors.Is instead of string matching.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"
)

// Class is the retry classification of a failure.
type Class string

const (
	ClassNetwork    Class = "network"
	ClassRateLimit  Class = "rate_limit"
	ClassServer     Class = "server"
	ClassValidation Class = "validation"
)

// ErrFatal marks failures that must take an adapter Down immediately
// (e.g. credentials rejected by the provider).
var ErrFatal = errors.New("fatal source error")

// SourceUnavailableError is a single adapter failure.
type SourceUnavailableError struct {
	Source string
	Class  Class
	Status int // HTTP status when known
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("source %s unavailable (%s, status %d): %v", e.Source, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("source %s unavailable (%s): %v", e.Source, e.Class, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// Is reports fatal auth rejections as ErrFatal.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrFatal && (e.Status == 401 || e.Status == 403)
}

// AllSourcesUnavailableError is returned when every candidate adapter failed.
type AllSourcesUnavailableError struct {
	Symbol string
	Causes map[string]error
}

func (e *AllSourcesUnavailableError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("all sources unavailable for %s: no eligible source", e.Symbol)
	}
	ids := make([]string, 0, len(e.Causes))
	for id := range e.Causes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Causes[id]))
	}
	return fmt.Sprintf("all sources unavailable for %s: %s", e.Symbol, strings.Join(parts, "; "))
}

// ValidationError is a malformed payload or request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RetryExhaustedError wraps the last failure after the policy gave up.
type RetryExhaustedError struct {
	Attempts int
	Class    Class
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts (%s): %v", e.Attempts, e.Class, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// CacheBackendError is a non-fatal L2/L3 failure; the cache absorbs it.
type CacheBackendError struct {
	Tier string
	Op   string
	Err  error
}

func (e *CacheBackendError) Error() string {
	return fmt.Sprintf("cache backend %s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *CacheBackendError) Unwrap() error { return e.Err }

// GapFailure annotates a sub-range that could not be backfilled.
type GapFailure struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

func (e *GapFailure) Error() string {
	return fmt.Sprintf("gap fill failed for [%s, %s): %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Reason)
}

// InsufficientDataError reports fewer samples than an indicator (or a series) needs.
type InsufficientDataError struct {
	Indicator string
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	if e.Indicator == "" {
		return fmt.Sprintf("insufficient data: required %d, available %d", e.Required, e.Available)
	}
	return fmt.Sprintf("insufficient data for %s: required %d, available %d", e.Indicator, e.Required, e.Available)
}

// ClassOf maps any error to its retry class.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassValidation
	}
	var su *SourceUnavailableError
	if errors.As(err, &su) && su.Class != "" {
		return su.Class
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassNetwork
	}
	return ClassServer
}

// ClassForStatus classifies an HTTP status code returned by a provider.
func ClassForStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimit
	case code >= 500:
		return ClassServer
	default:
		return ClassValidation
	}
}

// IsFatal reports whether err should take an adapter Down at once.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
