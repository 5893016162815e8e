// Package clusterr defines the error taxonomy shared by every clustdock
// component, so the dispatcher and worker can classify a failure without
// string-matching error messages.
package clusterr

import "fmt"

// Kind classifies a clustdock error.
type Kind string

const (
	// InvalidInput covers malformed ranges, invalid cluster names, unknown
	// profiles, and unmanaged hosts.
	InvalidInput Kind = "invalid_input"

	// HostUnreachable means a driver failed to connect or health-probe.
	HostUnreachable Kind = "host_unreachable"

	// AlreadyExists means the target node name conflicts with a live node.
	AlreadyExists Kind = "already_exists"

	// NotFound means the target node name is absent.
	NotFound Kind = "not_found"

	// BaseMissing means the named base image/domain is not available.
	BaseMissing Kind = "base_missing"

	// DriverError means a driver call returned non-zero; carries a stderr
	// snippet in the wrapped message.
	DriverError Kind = "driver_error"

	// HookFailed means a user hook exited non-zero.
	HookFailed Kind = "hook_failed"

	// Internal is any unclassified failure.
	Internal Kind = "internal"
)

// Error is a clustdock error carrying a Kind alongside the usual message
// and wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, the empty Kind for a nil err, and Internal otherwise.
func KindOf(err error) Kind {
	var ce *Error
	if err == nil {
		return ""
	}
	if asError(err, &ce) {
		return ce.kind
	}
	return Internal
}

// asError is a tiny errors.As shim kept local so this package has no
// dependency beyond the standard errors machinery used via Unwrap.
func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
