// Package api implements the host API surface exposed to plugins.
//
// Each API area is a Module registered into a plugin's Lua state under the
// global "host" table (host.event, host.config, host.http, ...). Modules are
// backed by Provider interfaces supplied by the embedding application through
// a Context; every provider method must be safe to call with no network or
// database available and return empty defaults in that case.
//
// Every gated function re-checks the plugin's granted capabilities at call
// time through a security.PermissionChecker, so a plugin that was never
// granted a capability fails with a permission-denied error even if the
// module table is present.
package api
