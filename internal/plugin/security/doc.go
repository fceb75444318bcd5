// Package security provides the permission primitives for the plugin runtime.
//
// Plugins declare capabilities in their manifest; the runtime grants them to a
// PermissionChecker which every host API call consults before executing.
// Capabilities are hierarchical - granting a parent capability implicitly
// grants its children (granting "config" grants "config.read").
//
// The package also holds resource limits (execution timeout, memory ceiling,
// request rates) and the monitor that enforces them, plus the denylist used to
// screen configuration reads for sensitive material.
package security
