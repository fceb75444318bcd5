// Package sandbox builds the restricted execution environment a plugin runs
// in. A Context is created fresh for every activation and destroyed on
// deactivation: it owns a sandboxed gopher-lua state with the host API
// modules injected, enforces the plugin's sandbox policy (execution timeout,
// memory ceiling, module and domain restrictions), and statically screens
// plugin source for dangerous constructs before it is ever loaded.
//
// This is deliberately a pragmatic middle ground - capability scoping plus
// static screening inside one process, not hard OS-level isolation. A
// deployment that needs hard guarantees must wrap plugin execution in a
// process or container boundary on top of this package.
package sandbox
