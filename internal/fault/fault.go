// Package fault classifies failures crossing adapter and store boundaries.
package fault

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	// Unknown is treated like Transient by callers that must decide on retry.
	Unknown Kind = iota
	// Validation marks missing or malformed input. Never retried.
	Validation
	// Transient covers timeouts, 5xx responses and connection errors.
	Transient
	// Client covers 4xx responses and business rejections from a backend.
	Client
	// Auth covers signature mismatches and rejected credentials.
	Auth
	// Parse marks an undecodable body on an otherwise successful response.
	Parse
	// Persistence marks an unavailable or failing state store.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case Client:
		return "client"
	case Auth:
		return "auth"
	case Parse:
		return "parse"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the outermost Kind in the chain. Context deadline errors count as Transient.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Unknown
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case Transient, Parse, Unknown:
		return err != nil
	default:
		return false
	}
}
