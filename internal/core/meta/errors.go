package meta

import (
	"errors"
	"fmt"
)

// Error definitions for catalog operations
var (
	ErrKeyNotExists     = errors.New("key does not exist")
	ErrAlreadyExists    = errors.New("key already exists")
	ErrInvalidKey       = errors.New("invalid key")
	ErrDisallowedQuery  = errors.New("disallowed query")
	ErrBackendClosed    = errors.New("backend is closed")
	ErrUnsupportedStore = errors.New("unsupported backend kind")
)

// BackendError wraps an error returned by a storage engine. The engine message
// is kept verbatim so it shows up in logs.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapBackend wraps err as a BackendError unless it is nil or already one of
// the catalog sentinels.
func WrapBackend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrKeyNotExists) || errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrDisallowedQuery) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// IsBackendError reports whether err came from a storage engine.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
