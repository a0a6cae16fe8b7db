package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"syscall"
)

// Classification is the failure category assigned to a processing error.
// It decides retry eligibility in the worker.
type Classification string

const (
	// ClassTransient covers connectivity and timeout failures; retryable.
	ClassTransient Classification = "transient"
	// ClassPermanent covers malformed input and unsupported options; a
	// retry can never succeed.
	ClassPermanent Classification = "permanent"
	// ClassEnvironment covers missing binaries and misconfiguration;
	// retrying wastes the worker pool, but the condition is operationally
	// fixable.
	ClassEnvironment Classification = "environment"
	// ClassResource covers disk and permission failures around artifacts;
	// not retryable, triggers cleanup of partial output.
	ClassResource Classification = "resource"
	// ClassReaped marks jobs the retention sweeper failed for being stuck
	// past their window. Never produced by an engine.
	ClassReaped Classification = "reaped"
)

// Error is a classified engine failure.
type Error struct {
	Class   Classification
	Message string
	// PartialRef names a partially written output artifact that should be
	// cleaned up, if any.
	PartialRef string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(class Classification, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(class Classification, err error, message string) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// Classify maps an arbitrary error to a failure classification. Engine
// adapters return *Error with an explicit class; anything unrecognized
// defaults to permanent so unknown failure modes never turn into retry
// storms.
func Classify(err error) Classification {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ClassTransient
	}
	if errors.Is(err, exec.ErrNotFound) {
		return ClassEnvironment
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return ClassResource
	}
	return ClassPermanent
}

// PartialRef extracts the partial-output artifact reference from a
// classified error, or "" when there is none.
func PartialRef(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.PartialRef
	}
	return ""
}
