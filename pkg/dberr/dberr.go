// Package dberr holds the error kind shared by the storage components.
package dberr

import (
	"errors"
	"fmt"
)

// ErrStorage matches every *StorageError under errors.Is.
var ErrStorage = errors.New("storage error")

// StorageError wraps an io or backend failure with the operation and the
// file or key it concerned.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Wrap returns err wrapped as a *StorageError, or nil if err is nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrStorage as a match.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
