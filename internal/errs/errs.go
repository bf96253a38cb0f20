// Package errs implements the closed error taxonomy of SPEC_FULL.md §7, built
// as sentinel-wrapped types in the spirit of
// torrent-search/internal/search/retry.go's isTransientError classification
// (the teacher's own drivers return bare errors; this generalizes that pack
// idiom into a reusable taxonomy).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the seven behaviors named in §7.
type Kind int

const (
	KindTransientUpstream Kind = iota
	KindUpstreamForbidden
	KindCacheMiss
	KindDriverContractViolation
	KindCancellation
	KindPersistentCacheFailure
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientUpstream:
		return "transient_upstream"
	case KindUpstreamForbidden:
		return "upstream_forbidden"
	case KindCacheMiss:
		return "cache_miss"
	case KindDriverContractViolation:
		return "driver_contract_violation"
	case KindCancellation:
		return "cancellation"
	case KindPersistentCacheFailure:
		return "persistent_cache_failure"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause so callers can branch on
// behavior with errors.As instead of string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and an operation label.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Transient reports whether err should be treated as a retryable, local
// upstream failure that must never abort an in-progress request.
func Transient(err error) bool {
	return Is(err, KindTransientUpstream)
}

// Degradable reports whether the component that produced err can safely
// continue with a degraded (empty/partial) result rather than fail the
// request, per the propagation policy in §7.
func Degradable(err error) bool {
	switch {
	case Is(err, KindTransientUpstream):
		return true
	case Is(err, KindUpstreamForbidden):
		return true
	case Is(err, KindCacheMiss):
		return true
	case Is(err, KindDriverContractViolation):
		return true
	case Is(err, KindPersistentCacheFailure):
		return true
	default:
		return false
	}
}
