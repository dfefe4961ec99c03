package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStoreUnavailable is returned when the store is not open or could not be opened
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreClosed is returned when trying to use a closed store.
	// It matches ErrStoreUnavailable under errors.Is.
	ErrStoreClosed = fmt.Errorf("%w: store is closed", ErrStoreUnavailable)

	// ErrInvalidEmbedding is returned for absent, malformed or empty vectors
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// errTierUnsupported signals that a retrieval tier's capability is absent
	errTierUnsupported = errors.New("retrieval tier unsupported")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vecmem: %v", e.Err)
	}
	return fmt.Sprintf("vecmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
