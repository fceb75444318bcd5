package api

// Lua error message prefixes raised by API modules. The sandbox maps Lua
// errors carrying these prefixes back to typed runtime errors, so the exact
// strings are part of the module contract.
const (
	// MsgPermissionDenied prefixes errors for calls lacking a capability.
	MsgPermissionDenied = "host: permission denied: "

	// MsgDomainNotAllowed prefixes errors for network calls to hosts outside
	// the manifest's allowed domains.
	MsgDomainNotAllowed = "host: domain not allowed: "

	// MsgSensitiveConfig prefixes errors for configuration reads matching the
	// sensitive-key denylist.
	MsgSensitiveConfig = "host: sensitive config access denied: "

	// MsgRateLimited prefixes errors for calls refused by a rate limiter.
	MsgRateLimited = "host: rate limited: "
)
