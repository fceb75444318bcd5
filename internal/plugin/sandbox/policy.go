package sandbox

import (
	"time"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// Policy is the per-plugin sandbox configuration declared in the manifest.
// Zero values mean "use the host default", not "unlimited". The host
// default profile is security.DefaultResourceLimits; plugins holding a
// high-risk capability that declare no limits of their own run under
// security.StrictResourceLimits instead.
type Policy struct {
	// TimeoutMillis bounds the wall-clock duration of a single execution.
	TimeoutMillis int64 `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// MemoryCeiling bounds the approximate bytes a plugin may allocate
	// through host-visible channels (stored values, response bodies).
	MemoryCeiling int64 `json:"memory_ceiling_bytes,omitempty" yaml:"memory_ceiling_bytes,omitempty"`

	// AllowedModules restricts which host API modules are injected. Empty
	// means every module the plugin's capabilities permit.
	AllowedModules []string `json:"allowed_modules,omitempty" yaml:"allowed_modules,omitempty"`

	// BlockedModules are never injected regardless of capabilities.
	BlockedModules []string `json:"blocked_modules,omitempty" yaml:"blocked_modules,omitempty"`

	// AllowedDomains is the network allowlist. Entries may use a leading
	// "*." wildcard. A plugin with the network capability but an empty
	// allowlist cannot reach any domain.
	AllowedDomains []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`

	// NetworkReqPerSecond caps outbound request rate.
	NetworkReqPerSecond int `json:"network_req_per_second,omitempty" yaml:"network_req_per_second,omitempty"`
}

// LimitsFrom converts the policy into concrete resource limits, filling
// knobs the manifest left unset from the base profile.
func (p Policy) LimitsFrom(base security.ResourceLimits) security.ResourceLimits {
	limits := base
	if p.TimeoutMillis > 0 {
		limits.ExecutionTimeout = time.Duration(p.TimeoutMillis) * time.Millisecond
	}
	if p.MemoryCeiling > 0 {
		limits.MemoryCeiling = p.MemoryCeiling
	}
	if p.NetworkReqPerSecond > 0 {
		limits.NetworkReqPerSecond = p.NetworkReqPerSecond
	}
	return limits
}
