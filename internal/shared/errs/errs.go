// Package errs defines the launcher's error taxonomy.
//
// Each failure class is a struct carrying its context plus the underlying
// cause, so callers match with errors.As and still see the full chain in
// messages:
//
//	var lf *errs.LaunchFailure
//	if errors.As(err, &lf) {
//		logger.Error("launch aborted", zap.String("reason", lf.Reason), zap.Error(err))
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrTerminated is the internal signal used to unwind an application's exit
// call. The thread group that started the unit swallows it.
var ErrTerminated = errors.New("application terminated")

// ParseError reports a malformed descriptor.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse descriptor %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a failure retrieving a remote resource.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// VerificationFailure reports an invalid or incomplete signature on a jar.
type VerificationFailure struct {
	URL    string
	Reason string
	Err    error
}

func (e *VerificationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("verify %s: %s", e.URL, e.Reason)
}

func (e *VerificationFailure) Unwrap() error { return e.Err }

// LaunchFailure aborts a launch before any application unit starts.
type LaunchFailure struct {
	Reason string
	Err    error
}

func (e *LaunchFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch failed: %s: %v", e.Reason, e.Err)
	}
	return "launch failed: " + e.Reason
}

func (e *LaunchFailure) Unwrap() error { return e.Err }

// NewLaunchFailure builds a LaunchFailure with a formatted reason.
func NewLaunchFailure(format string, args ...any) *LaunchFailure {
	return &LaunchFailure{Reason: fmt.Sprintf(format, args...)}
}

// WrapLaunchFailure attaches a reason to an underlying cause. A cause that is
// already a LaunchFailure is returned unchanged.
func WrapLaunchFailure(err error, reason string) error {
	if err == nil {
		return nil
	}
	var lf *LaunchFailure
	if errors.As(err, &lf) {
		return err
	}
	return &LaunchFailure{Reason: reason, Err: err}
}

// PermissionDenied is raised when application code attempts a disallowed
// operation.
type PermissionDenied struct {
	Permission string
	Subject    string
}

func (e *PermissionDenied) Error() string {
	if e.Subject == "" {
		return "access denied: " + e.Permission
	}
	return fmt.Sprintf("access denied (%s): %s", e.Subject, e.Permission)
}

// IsLaunchFailure reports whether err is or wraps a LaunchFailure.
func IsLaunchFailure(err error) bool {
	var lf *LaunchFailure
	return errors.As(err, &lf)
}

// IsPermissionDenied reports whether err is or wraps a PermissionDenied.
func IsPermissionDenied(err error) bool {
	var pd *PermissionDenied
	return errors.As(err, &pd)
}

// Chain renders err and its causes one per line for user-facing output.
func Chain(err error) string {
	msg := err.Error()
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		msg += "\n  caused by: " + cause.Error()
	}
	return msg
}
