package sandbox

import (
	"errors"
	"strings"

	"github.com/plugsmith/plugsmith/internal/plugin/api"
)

// Sentinel errors surfaced by sandbox execution. Callers match them with
// errors.Is to translate into their own error taxonomy.
var (
	// ErrDestroyed is returned when a Context is used after Destroy.
	ErrDestroyed = errors.New("sandbox context destroyed")

	// ErrTimeout is returned when an execution exceeds the policy timeout.
	ErrTimeout = errors.New("execution timeout")

	// ErrMemoryCeiling is returned when the plugin's approximate memory
	// usage crosses the policy ceiling.
	ErrMemoryCeiling = errors.New("memory ceiling exceeded")

	// ErrPermissionDenied is returned when plugin code calls a host API
	// function whose capability was not granted.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDomainNotAllowed is returned for network requests to hosts
	// outside the policy allowlist.
	ErrDomainNotAllowed = errors.New("domain not allowed")

	// ErrSensitiveConfig is returned when plugin code reads a
	// credential-like configuration key.
	ErrSensitiveConfig = errors.New("sensitive config access denied")

	// ErrRateLimited is returned when the outbound request rate cap is hit.
	ErrRateLimited = errors.New("rate limited")
)

// mapLuaError translates Lua runtime errors raised by host API modules into
// sandbox sentinels. Lua prefixes raised errors with "chunkname:line:", so
// the module message markers are matched anywhere in the text.
func mapLuaError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for marker, sentinel := range map[string]error{
		api.MsgPermissionDenied: ErrPermissionDenied,
		api.MsgDomainNotAllowed: ErrDomainNotAllowed,
		api.MsgSensitiveConfig:  ErrSensitiveConfig,
		api.MsgRateLimited:      ErrRateLimited,
	} {
		if idx := strings.Index(msg, marker); idx >= 0 {
			detail := strings.TrimSpace(msg[idx+len(marker):])
			return &mappedError{sentinel: sentinel, detail: detail}
		}
	}
	return err
}

type mappedError struct {
	sentinel error
	detail   string
}

func (e *mappedError) Error() string {
	if e.detail == "" {
		return e.sentinel.Error()
	}
	return e.sentinel.Error() + ": " + e.detail
}

func (e *mappedError) Unwrap() error { return e.sentinel }
