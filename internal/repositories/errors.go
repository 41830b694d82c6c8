package repositories

import (
	"errors"
	"fmt"
)

type kindError struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *kindError) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *kindError) Unwrap() error       { return e.err }
func (e *kindError) IsNotFound() bool    { return e.notFound }
func (e *kindError) IsConflict() bool    { return e.conflict }
func (e *kindError) IsUnavailable() bool { return e.unavailable }

var (
	errNotFound    = errors.New("not found")
	errConflict    = errors.New("already exists")
	errUnavailable = errors.New("unavailable")
)

// NewNotFoundError reports a missing record for in-process stores.
func NewNotFoundError(op string) error {
	return &kindError{op: op, err: errNotFound, notFound: true}
}

// NewConflictError reports a duplicate record for in-process stores.
func NewConflictError(op string) error {
	return &kindError{op: op, err: errConflict, conflict: true}
}

// NewUnavailableError wraps a transient backend failure.
func NewUnavailableError(op string, err error) error {
	if err == nil {
		err = errUnavailable
	}
	return &kindError{op: op, err: err, unavailable: true}
}

// IsNotFound reports whether err carries a not-found repository categorisation.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict repository categorisation.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable repository categorisation.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
