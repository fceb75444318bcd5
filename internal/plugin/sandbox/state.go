package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// newLockedState creates a gopher-lua state with only safe standard
// libraries opened and the remaining escape hatches removed.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. The owning Context
// serializes all access to the returned state, including calls made on
// behalf of event delivery.
func newLockedState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})

	openSafeLibraries(L)
	lockDownGlobals(L)

	return L
}

// openSafeLibraries opens only the Lua standard libraries that cannot reach
// outside the VM.
func openSafeLibraries(L *lua.LState) {
	// Base library (print, type, pairs, ipairs, pcall, etc.)
	lua.OpenBase(L)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally NOT opened:
	// - io (file system access)
	// - os (system calls, execute)
	// - debug (can bypass sandboxing)
	// - package (can load arbitrary modules)
	// - channel/coroutine (plugins are single threaded by contract)
}

// lockDownGlobals removes base-library functions that allow dynamic code
// loading or sandbox introspection. The static pre-screen rejects source
// that references them; this is the runtime backstop.
func lockDownGlobals(L *lua.LState) {
	dangerous := []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"require",
		"collectgarbage",
		"getfenv",
		"setfenv",
	}
	for _, name := range dangerous {
		L.SetGlobal(name, lua.LNil)
	}
}
