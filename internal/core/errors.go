package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindExternalService
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_failed"
	case KindConflict:
		return "conflict"
	case KindExternalService:
		return "external_service_failure"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by the ledger core.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrExternalService = &Error{Kind: KindExternalService}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target without a reason
// matches every error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Reason: what + " not found"}
}

func Invalid(reason string) error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func Invalidf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func Conflict(reason string) error {
	return &Error{Kind: KindConflict, Reason: reason}
}

// External wraps a failure of an outside collaborator such as the FX provider.
func External(service string, err error) error {
	return &Error{Kind: KindExternalService, Reason: service, Err: err}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
