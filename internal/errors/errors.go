// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errors is the structured error taxonomy every component of the
// orchestrator surfaces across its boundary (§7): no opaque internal errors
// ever cross the Service Facade.
package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error, matching the taxonomy in spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation    // ValidationError: malformed rule, unsupported capability
	KindPolicy        // PolicyViolation: never-block match, autonomy gate failure, self-lockout
	KindSyntax        // AdapterError/syntax
	KindSystem        // AdapterError/system
	KindPermission    // AdapterError/permission
	KindUnavailable   // AdapterError/unavailable
	KindTransient     // AdapterError/transient (retried with bounded backoff)
	KindCoexistence   // AdapterError/coexistence
	KindConcurrency   // ConcurrencyError: lock timeout, queue overflow
	KindHeartbeatMiss // HeartbeatMiss: probation deadline elapsed
	KindIntegrity     // IntegrityError: store constraint violation, missing backup
	KindCatastrophic  // CatastrophicError: rollback itself failed
	KindNotFound
	KindConflict
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy_violation"
	case KindSyntax:
		return "syntax"
	case KindSystem:
		return "system"
	case KindPermission:
		return "permission"
	case KindUnavailable:
		return "unavailable"
	case KindTransient:
		return "transient"
	case KindCoexistence:
		return "coexistence"
	case KindConcurrency:
		return "concurrency"
	case KindHeartbeatMiss:
		return "heartbeat_miss"
	case KindIntegrity:
		return "integrity"
	case KindCatastrophic:
		return "catastrophic"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseKind reverses Kind.String, for callers reconstructing a Kind from a
// wire-format error response (e.g. the facade RPC client). An unrecognized
// string maps to KindUnknown rather than erroring.
func ParseKind(s string) Kind {
	switch s {
	case "internal":
		return KindInternal
	case "validation":
		return KindValidation
	case "policy_violation":
		return KindPolicy
	case "syntax":
		return KindSyntax
	case "system":
		return KindSystem
	case "permission":
		return KindPermission
	case "unavailable":
		return KindUnavailable
	case "transient":
		return KindTransient
	case "coexistence":
		return KindCoexistence
	case "concurrency":
		return KindConcurrency
	case "heartbeat_miss":
		return KindHeartbeatMiss
	case "integrity":
		return KindIntegrity
	case "catastrophic":
		return KindCatastrophic
	case "not_found":
		return KindNotFound
	case "conflict":
		return KindConflict
	case "timeout":
		return KindTimeout
	default:
		return KindUnknown
	}
}

// Error represents a structured, kind-tagged error with an optional
// correlation id and freeform attributes, carried across the Facade boundary.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Underlying    error
	Attributes    map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error as a new Error of the specified kind.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf wraps an existing error as a new Error of the specified kind with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// WithCorrelation attaches a correlation id (e.g. a proposal, deployment, or
// assessment id) so audit records and operator-facing errors share one key.
func WithCorrelation(err error, id string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: err.Error(), Underlying: err}
	}
	e.CorrelationID = id
	return e
}

// Attr attaches an attribute to an error. If the error is not an *Error, it
// is wrapped as KindInternal first.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: err.Error(), Underlying: err}
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// GetKind returns the Kind of the error, or KindUnknown if it's not one of
// ours.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetCorrelationID returns the correlation id attached to err, if any.
func GetCorrelationID(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.CorrelationID
	}
	return ""
}

// GetAttributes returns all attributes associated with the error and its chain.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	var e *Error
	tempErr := err
	for tempErr != nil {
		if errors.As(tempErr, &e) {
			for k, v := range e.Attributes {
				if _, ok := attrs[k]; !ok {
					attrs[k] = v
				}
			}
			tempErr = e.Underlying
		} else {
			break
		}
	}
	return attrs
}

// IsRetryable reports whether err's kind is one the Deployment Controller
// retries with bounded backoff (spec §7 propagation policy).
func IsRetryable(err error) bool {
	return GetKind(err) == KindTransient
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err, if any.
func Unwrap(err error) error { return errors.Unwrap(err) }
