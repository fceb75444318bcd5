package security

import (
	"fmt"
	"strings"
)

// Capability represents a permission that a plugin can request.
// Capabilities are hierarchical - granting a parent capability
// implicitly grants all child capabilities.
type Capability string

// Core capabilities that plugins can request.
const (
	// CapabilityUser grants access to user and tenant accessors.
	CapabilityUser Capability = "user"

	// CapabilityUserRead allows reading the current user and tenant.
	CapabilityUserRead Capability = "user.read"

	// CapabilityEvent allows emitting and subscribing to host events.
	CapabilityEvent Capability = "event"

	// CapabilityConfig grants full configuration access.
	CapabilityConfig Capability = "config"

	// CapabilityConfigRead allows reading configuration values.
	CapabilityConfigRead Capability = "config.read"

	// CapabilityConfigWrite allows writing configuration values in the
	// plugin's own namespace.
	CapabilityConfigWrite Capability = "config.write"

	// CapabilityNetwork allows HTTP calls to the manifest's allowed domains.
	CapabilityNetwork Capability = "network"

	// CapabilityStorage allows access to the plugin's namespaced key-value store.
	CapabilityStorage Capability = "storage"

	// CapabilityCrypto allows use of the hashing/encryption helpers.
	CapabilityCrypto Capability = "crypto"
)

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability allows.
	Description string

	// Parent is the parent capability (for hierarchical capabilities).
	Parent Capability

	// RiskLevel indicates how dangerous this capability is.
	RiskLevel RiskLevel
}

// RiskLevel indicates the security risk of a capability.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityUser: {
		Name:        CapabilityUser,
		DisplayName: "User Access",
		Description: "Read user and tenant information",
		RiskLevel:   RiskLow,
	},
	CapabilityUserRead: {
		Name:        CapabilityUserRead,
		DisplayName: "Read User",
		Description: "Read the current user and tenant",
		Parent:      CapabilityUser,
		RiskLevel:   RiskLow,
	},
	CapabilityEvent: {
		Name:        CapabilityEvent,
		DisplayName: "Events",
		Description: "Emit and subscribe to host events",
		RiskLevel:   RiskLow,
	},
	CapabilityConfig: {
		Name:        CapabilityConfig,
		DisplayName: "Configuration",
		Description: "Read and write configuration values",
		RiskLevel:   RiskMedium,
	},
	CapabilityConfigRead: {
		Name:        CapabilityConfigRead,
		DisplayName: "Read Configuration",
		Description: "Read configuration values",
		Parent:      CapabilityConfig,
		RiskLevel:   RiskLow,
	},
	CapabilityConfigWrite: {
		Name:        CapabilityConfigWrite,
		DisplayName: "Write Configuration",
		Description: "Write configuration values in the plugin namespace",
		Parent:      CapabilityConfig,
		RiskLevel:   RiskMedium,
	},
	CapabilityNetwork: {
		Name:        CapabilityNetwork,
		DisplayName: "Network",
		Description: "Make HTTP requests to allowed domains",
		RiskLevel:   RiskHigh,
	},
	CapabilityStorage: {
		Name:        CapabilityStorage,
		DisplayName: "Storage",
		Description: "Access the plugin's namespaced key-value store",
		RiskLevel:   RiskLow,
	},
	CapabilityCrypto: {
		Name:        CapabilityCrypto,
		DisplayName: "Cryptography",
		Description: "Use hashing and encryption helpers",
		RiskLevel:   RiskLow,
	},
}

// GetCapabilityInfo returns metadata for a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	return caps
}

// HighestRisk returns the highest risk level among the given capabilities.
// Unknown capabilities are ignored.
func HighestRisk(caps []Capability) RiskLevel {
	highest := RiskLow
	for _, cap := range caps {
		if info, ok := GetCapabilityInfo(cap); ok && info.RiskLevel > highest {
			highest = info.RiskLevel
		}
	}
	return highest
}

// ImpliesCapability returns true if granting parent implies child.
// A capability implies itself, and a parent implies every capability
// beneath it in the dotted hierarchy.
func ImpliesCapability(parent, child Capability) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(string(child), string(parent)+".")
}

// CapabilityError is returned when an operation requires a capability
// the plugin has not been granted.
type CapabilityError struct {
	Capability Capability
	Operation  string
	Reason     string
}

// NewCapabilityError creates a capability error.
func NewCapabilityError(cap Capability, operation, reason string) *CapabilityError {
	return &CapabilityError{Capability: cap, Operation: operation, Reason: reason}
}

func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("capability %q denied for %s: %s", e.Capability, e.Operation, e.Reason)
	}
	return fmt.Sprintf("capability %q denied: %s", e.Capability, e.Reason)
}
