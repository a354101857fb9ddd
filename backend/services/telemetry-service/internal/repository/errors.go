package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout is returned when the writer lock could not be obtained in time.
	// Callers may retry.
	ErrLockTimeout = errors.New("log store: lock acquisition timeout")
	// ErrIO is returned when reading or writing the log file failed.
	ErrIO = errors.New("log store: io failure")
)

// StoreError describes a failed log store operation. It matches both its kind
// (ErrLockTimeout or ErrIO) and the underlying cause with errors.Is.
type StoreError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ioError(op, path string, err error) error {
	return &StoreError{Op: op, Path: path, Kind: ErrIO, Err: err}
}
