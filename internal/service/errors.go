package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no document has the requested ID.
	ErrNotFound = errors.New("document not found")
	// ErrFileRequired is returned by Create when the request carries no file.
	ErrFileRequired = errors.New("File not found")
	// ErrInvalidInput wraps malformed request input that is not tied to a single field.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports a field that failed validation. Its message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// StorageError marks a failure of the blob store or the metadata backend.
// Callers surface it as a server-side failure without leaking Err.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
