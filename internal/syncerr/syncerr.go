// Package syncerr defines the tagged error taxonomy used across the sync
// core. Callers match on Kind with errors.As or IsKind rather than parsing
// message prose.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	// Auth covers missing, expired, or refused tokens.
	Auth Kind = "auth"
	// Remote covers non-2xx API responses not covered by another kind.
	Remote Kind = "remote"
	// NotFound means a contact id is absent remotely.
	NotFound Kind = "not_found"
	// Conflict is a hash mismatch surfaced by conflict detection.
	Conflict Kind = "conflict"
	// Timeout covers the per-item guard and the OAuth flow deadline.
	Timeout Kind = "timeout"
	// Store covers database failures.
	Store Kind = "store"
	// Validation covers invalid enums, offsets/limits, and schema violations.
	Validation Kind = "validation"
	// IO covers CSV read and hash failures.
	IO Kind = "io"
	// Unsupported marks operations the remote API cannot perform.
	Unsupported Kind = "unsupported"
)

// Error is a kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind and context message.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err or any error in its chain carries kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	for errors.As(err, &se) {
		if se.Kind == kind {
			return true
		}
		err = se.Err
		if err == nil {
			return false
		}
	}
	return false
}

// KindOf returns the kind of the outermost tagged error in the chain,
// or the empty Kind when err is untagged.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Retryable reports whether an error should feed the engine's retry loop.
// Store and validation failures are never retried; auth failures are
// handled by the client's single refresh, so a surfaced Auth error is
// final. Unsupported and NotFound are fatal by definition.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Remote, Timeout:
		return true
	default:
		return false
	}
}
