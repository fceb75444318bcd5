package plugin

import (
	"errors"
	"fmt"

	"github.com/plugsmith/plugsmith/internal/plugin/sandbox"
)

// Kind classifies runtime errors so callers (and an admin UI) can react to
// the category without parsing messages.
type Kind string

const (
	KindInvalidManifest       Kind = "invalid_manifest"
	KindUnresolvedDependency  Kind = "unresolved_required_dependency"
	KindIncompatibleVersion   Kind = "incompatible_dependency_version"
	KindCircularDependency    Kind = "circular_dependency"
	KindHasActiveDependents   Kind = "has_active_dependents"
	KindHasDependents         Kind = "has_dependents"
	KindPermissionDenied      Kind = "permission_denied"
	KindDomainNotAllowed      Kind = "domain_not_allowed"
	KindSensitiveConfigAccess Kind = "sensitive_config_access_denied"
	KindUnsafeCodePattern     Kind = "unsafe_code_pattern"
	KindExecutionTimeout      Kind = "execution_timeout"
	KindResourceCeiling       Kind = "resource_ceiling_exceeded"
	KindNotFound              Kind = "plugin_not_found"
	KindAlreadyInstalled      Kind = "already_installed"
	KindExecutionFailed       Kind = "execution_failed"
)

// Error is the typed error returned by every mutating runtime operation.
// The message is safe to render to an administrator; no host paths or
// stack details leak through it.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// fromSandboxError translates sandbox sentinels into the runtime taxonomy.
// Unrecognized errors become KindExecutionFailed.
func fromSandboxError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindExecutionFailed
	var patErr *sandbox.UnsafePatternError
	switch {
	case errors.As(err, &patErr):
		kind = KindUnsafeCodePattern
	case errors.Is(err, sandbox.ErrTimeout):
		kind = KindExecutionTimeout
	case errors.Is(err, sandbox.ErrMemoryCeiling):
		kind = KindResourceCeiling
	case errors.Is(err, sandbox.ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, sandbox.ErrDomainNotAllowed):
		kind = KindDomainNotAllowed
	case errors.Is(err, sandbox.ErrSensitiveConfig):
		kind = KindSensitiveConfigAccess
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}
