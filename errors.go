package simos

import (
	"errors"
	"fmt"
)

// Error kinds returned by kernel operations. Match with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrNotADirectory          = errors.New("not a directory")
	ErrIsADirectory           = errors.New("is a directory")
	ErrDirectoryNotEmpty      = errors.New("directory not empty")
	ErrInvalidHandle          = errors.New("invalid memory handle")
	ErrOutOfMemory            = errors.New("out of memory")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStorageIO              = errors.New("storage i/o error")
	ErrInvalidName            = errors.New("invalid name")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// OpError records the failed operation and the subject it was applied to
// (a path, pid or handle) along with the error kind.
type OpError struct {
	Op      string
	Subject string
	Err     error
}

// NewOpError wraps err for op on subject.
func NewOpError(op, subject string, err error) *OpError {
	return &OpError{Op: op, Subject: subject, Err: err}
}

func (e *OpError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
