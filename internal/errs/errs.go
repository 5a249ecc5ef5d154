// Package errs defines the broker's tagged error taxonomy for tool-call
// failures: a stable kind, a machine-readable code, and optional hint and
// structured details for client-side recovery.
package errs

import "fmt"

// Kind is the stable, wire-preserving error category.
type Kind string

const (
	KindInvalidParams Kind = "invalid_params"
	KindDenied        Kind = "denied"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindTimeout       Kind = "timeout"
	KindRetryable     Kind = "retryable"
	KindInternal      Kind = "internal"
)

// Well-known stable codes referenced throughout the invocation pipeline.
const (
	CodePolicyRequired       = "POLICY_REQUIRED"
	CodePolicyModeRequired   = "POLICY_MODE_REQUIRED"
	CodePolicyDeniedIntent   = "POLICY_DENIED_INTENT"
	CodePolicyDeniedRemote   = "POLICY_DENIED_REMOTE"
	CodePolicyDeniedNS       = "POLICY_DENIED_NAMESPACE"
	CodePolicyChangeWindow   = "POLICY_CHANGE_WINDOW"
	CodeLockHeld             = "LOCK_HELD"
	CodeArtifactNotFound     = "ARTIFACT_NOT_FOUND"
	CodeArtifactTraversal    = "ARTIFACT_PATH_TRAVERSAL"
	CodeSecretExportDisabled = "SECRET_EXPORT_DISABLED"
	CodeSSHAuthKeysAddFailed = "SSH_AUTHORIZED_KEYS_ADD_FAILED"
	CodeUnknownTool          = "UNKNOWN_TOOL"
	CodeUnknownAction        = "UNKNOWN_ACTION"
	CodeAmbiguousTarget      = "AMBIGUOUS_TARGET"
	CodeAmbiguousProfile     = "AMBIGUOUS_PROFILE"
	CodeUnknownJob           = "UNKNOWN_JOB"
	CodeUploadFailed         = "UPLOAD_FAILED"
	CodeRemoteHashFailed     = "REMOTE_HASH_FAILED"
	CodeHashMismatch         = "HASH_MISMATCH"
	CodeInvalidRestart       = "INVALID_RESTART"
	CodeRestartFailed        = "RESTART_FAILED"
	CodeENOENT               = "ENOENT"
)

// Error is the broker's tagged error: a stable kind and code plus optional
// hint, structured details, and a retryable bit.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Hint      string                 `json:"hint,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`

	// wrapped is the underlying cause, if any; not serialized.
	wrapped error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a new tagged error of the given kind/code/message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Retryable: kind == KindRetryable}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	e := New(kind, code, message)
	e.wrapped = cause
	return e
}

// WithHint attaches a human hint and returns the receiver for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithDetails merges details and returns the receiver for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRetryable overrides the retryable bit explicitly.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// InvalidParams is a convenience constructor for the common case.
func InvalidParams(code, message string) *Error {
	return New(KindInvalidParams, code, message)
}

// Denied is a convenience constructor for policy/feature-gate failures.
func Denied(code, message string) *Error {
	return New(KindDenied, code, message)
}

// Conflict is a convenience constructor, used for lock contention.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message).WithRetryable(true)
}

// Timeout is a convenience constructor for hard-timeout failures.
func Timeout(code, message string) *Error {
	return New(KindTimeout, code, message).WithRetryable(true)
}

// Internal wraps an unexpected error, preserving its message.
func Internal(cause error) *Error {
	msg := "internal error"
	if cause != nil {
		msg = cause.Error()
	}
	return Wrap(KindInternal, "INTERNAL", msg, cause)
}

// As extracts a *Error from err, if any exists in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errorsAs(err, &target) {
		return target, true
	}
	return nil, false
}

// errorsAs is a tiny indirection so this file only imports "fmt" directly
// and keeps the std errors.As call in one place for readability.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
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
