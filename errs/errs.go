// Package errs defines the error kinds shared by the resolver, fetcher,
// verifier and watcher so callers can decide whether to retry, watch or alert.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindTransient
	KindIntegrity
	KindFilesystem
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity_mismatch"
	case KindFilesystem:
		return "filesystem"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient failure")
	ErrIntegrity  = errors.New("integrity mismatch")
	ErrFilesystem = errors.New("filesystem failure")
	ErrValidation = errors.New("invalid input")
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrIntegrity:
		return e.Kind == KindIntegrity
	case ErrFilesystem:
		return e.Kind == KindFilesystem
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf returns a KindValidation error with a formatted message.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost classified kind in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }
func IsIntegrity(err error) bool  { return errors.Is(err, ErrIntegrity) }
func IsFilesystem(err error) bool { return errors.Is(err, ErrFilesystem) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
