package security

import (
	"net"
	"strings"
	"sync"
)

// PermissionChecker validates permissions for plugin operations.
type PermissionChecker struct {
	mu sync.RWMutex

	// Granted capabilities
	capabilities map[Capability]bool

	// Network restrictions (lowercased)
	allowedDomains []string
	blockedDomains []string

	// Plugin identity
	pluginSlug string
}

// NewPermissionChecker creates a new permission checker.
func NewPermissionChecker(pluginSlug string) *PermissionChecker {
	return &PermissionChecker{
		capabilities: make(map[Capability]bool),
		pluginSlug:   pluginSlug,
	}
}

// PluginSlug returns the slug of the plugin this checker belongs to.
func (pc *PermissionChecker) PluginSlug() string {
	return pc.pluginSlug
}

// Grant grants a capability to the plugin.
func (pc *PermissionChecker) Grant(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capabilities[cap] = true
}

// GrantAll grants multiple capabilities.
func (pc *PermissionChecker) GrantAll(caps []Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, cap := range caps {
		pc.capabilities[cap] = true
	}
}

// Revoke revokes a capability from the plugin.
func (pc *PermissionChecker) Revoke(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.capabilities, cap)
}

// HasCapability returns true if the capability is granted.
func (pc *PermissionChecker) HasCapability(cap Capability) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	// Direct check
	if pc.capabilities[cap] {
		return true
	}

	// Check if any granted capability implies this one
	for granted := range pc.capabilities {
		if ImpliesCapability(granted, cap) {
			return true
		}
	}

	return false
}

// CheckCapability returns an error if the capability is not granted.
func (pc *PermissionChecker) CheckCapability(cap Capability) error {
	if !pc.HasCapability(cap) {
		return NewCapabilityError(cap, "", "not granted")
	}
	return nil
}

// Capabilities returns all granted capabilities.
func (pc *PermissionChecker) Capabilities() []Capability {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	caps := make([]Capability, 0, len(pc.capabilities))
	for cap := range pc.capabilities {
		caps = append(caps, cap)
	}
	return caps
}

// AllowDomain adds a domain to the allowed network list.
// The domain is normalized to lowercase. "*." prefixes match subdomains.
func (pc *PermissionChecker) AllowDomain(domain string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.allowedDomains = append(pc.allowedDomains, strings.ToLower(domain))
}

// BlockDomain adds a domain to the blocked network list.
func (pc *PermissionChecker) BlockDomain(domain string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.blockedDomains = append(pc.blockedDomains, strings.ToLower(domain))
}

// CheckNetwork checks if network access to a host is permitted.
// The host may include a port; it is stripped before matching.
func (pc *PermissionChecker) CheckNetwork(host string) error {
	if !pc.HasCapability(CapabilityNetwork) {
		return NewCapabilityError(CapabilityNetwork, "network request", "not granted")
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	hostOnly := strings.ToLower(extractHost(host))

	// Blocked domains take precedence
	for _, blocked := range pc.blockedDomains {
		if matchDomain(hostOnly, blocked) {
			return NewCapabilityError(CapabilityNetwork, "network request", "domain is blocked")
		}
	}

	// With an allowlist present, the host must match one entry
	if len(pc.allowedDomains) > 0 {
		for _, allowed := range pc.allowedDomains {
			if matchDomain(hostOnly, allowed) {
				return nil
			}
		}
		return NewCapabilityError(CapabilityNetwork, "network request", "domain not in allowed list")
	}

	// No allowlist means the plugin declared no domains; deny by default.
	return NewCapabilityError(CapabilityNetwork, "network request", "no allowed domains declared")
}

// extractHost extracts the host from a host:port string.
// Handles IPv6 addresses like [::1]:8080 and regular host:port.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}

	// Bracketed IPv6 address without a port: [::1]
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}

	return hostPort
}

// matchDomain checks if a host matches a pattern (case-insensitive).
// Supports wildcard matching (e.g., "*.example.com").
func matchDomain(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if host == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // keep the leading dot
		return strings.HasSuffix(host, suffix)
	}

	return false
}

// sensitiveKeySubstrings is the fixed denylist applied to configuration reads.
// Any key containing one of these substrings is refused.
var sensitiveKeySubstrings = []string{
	"secret",
	"password",
	"passwd",
	"credential",
	"private_key",
	"privatekey",
	"api_key",
	"apikey",
	"token",
}

// IsSensitiveKey returns true if the configuration key must not be exposed
// to plugins. Matching is case-insensitive substring matching.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// PermissionSet represents a collection of permissions for a plugin.
type PermissionSet struct {
	// Capabilities granted
	Capabilities []Capability

	// Network permissions
	AllowedDomains []string
	BlockedDomains []string
}

// ApplyPermissionSet applies a permission set to a checker.
func (pc *PermissionChecker) ApplyPermissionSet(set *PermissionSet) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for _, cap := range set.Capabilities {
		pc.capabilities[cap] = true
	}
	for _, domain := range set.AllowedDomains {
		pc.allowedDomains = append(pc.allowedDomains, strings.ToLower(domain))
	}
	for _, domain := range set.BlockedDomains {
		pc.blockedDomains = append(pc.blockedDomains, strings.ToLower(domain))
	}
}

// Reset clears all permissions.
func (pc *PermissionChecker) Reset() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.capabilities = make(map[Capability]bool)
	pc.allowedDomains = nil
	pc.blockedDomains = nil
}
