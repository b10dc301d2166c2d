// Package errs defines the error taxonomy shared across the trading cycle
// engine so every component handles failures the same way: stage-local
// errors are caught and reflected into state, never propagated past the
// cycle boundary except during initialization.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the handling policies from the
// error-handling design: transient network faults retry with backoff,
// rate-limit errors sleep without burning the retry budget, bad config
// fails a bot out of the active set, risk rejections become alerts rather
// than errors, LLM failures fall back to a safe default, order rejections
// are logged and surfaced, and invariant violations are logged and skipped.
type Kind int

const (
	// Unknown is the zero value; Wrap always assigns a real kind.
	Unknown Kind = iota
	TransientNetwork
	RateLimited
	BadConfig
	RiskRejected
	LLMFailed
	OrderRejected
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient_network"
	case RateLimited:
		return "rate_limited"
	case BadConfig:
		return "bad_config"
	case RiskRejected:
		return "risk_rejected"
	case LLMFailed:
		return "llm_failed"
	case OrderRejected:
		return "order_rejected"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged wrapper around an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. Wrapping nil returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds a new tagged error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err is untagged.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return Unknown
}
