package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// StoreModule implements the host.store API module.
//
// All operations are confined to the plugin's own namespace. The namespace
// is fixed at construction time, so cross-plugin access is structurally
// impossible through this surface.
type StoreModule struct {
	ctx       *Context
	namespace string
	checker   *security.PermissionChecker
	monitor   *security.ResourceMonitor
}

// NewStoreModule creates a new store module namespaced to the given plugin
// identifier.
func NewStoreModule(ctx *Context, namespace string, checker *security.PermissionChecker, monitor *security.ResourceMonitor) *StoreModule {
	return &StoreModule{ctx: ctx, namespace: namespace, checker: checker, monitor: monitor}
}

// Name returns the module name.
func (m *StoreModule) Name() string {
	return "store"
}

// RequiredCapability returns the capability required for this module.
func (m *StoreModule) RequiredCapability() security.Capability {
	return security.CapabilityStorage
}

// Register registers the module into the Lua state.
func (m *StoreModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	setHostField(L, m.Name(), mod)
	return nil
}

// get reads a value: host.store.get(key) -> value|nil
func (m *StoreModule) get(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityStorage); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	key := L.CheckString(1)
	if m.ctx.Store == nil {
		L.Push(lua.LNil)
		return 1
	}
	value, ok := m.ctx.Store.Get(m.namespace, key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, value))
	return 1
}

// set writes a value: host.store.set(key, value) -> bool
func (m *StoreModule) set(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityStorage); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	key := L.CheckString(1)
	value := luaToGo(L.Get(2))

	if m.ctx.Store == nil {
		L.Push(lua.LFalse)
		return 1
	}

	// Count the write toward the memory ceiling. Approximate: string
	// payloads count their length, everything else a flat cost.
	if m.monitor != nil {
		cost := int64(len(key)) + 64
		if s, ok := value.(string); ok {
			cost += int64(len(s))
		}
		m.monitor.AddMemoryUsage(cost)
	}

	if err := m.ctx.Store.Set(m.namespace, key, value); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// delete removes a key: host.store.delete(key)
func (m *StoreModule) delete(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityStorage); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	key := L.CheckString(1)
	if m.ctx.Store != nil {
		m.ctx.Store.Delete(m.namespace, key)
	}
	return 0
}

// keys lists keys in the plugin namespace: host.store.keys() -> {key, ...}
func (m *StoreModule) keys(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityStorage); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	tbl := L.NewTable()
	if m.ctx.Store != nil {
		for i, key := range m.ctx.Store.Keys(m.namespace) {
			tbl.RawSetInt(i+1, lua.LString(key))
		}
	}
	L.Push(tbl)
	return 1
}
