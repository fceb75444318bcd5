package api

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// ConfigModule implements the host.config API module.
//
// Reads are screened against the sensitive-key denylist; writes are confined
// to the plugin's own namespace (keys prefixed with "<slug>.").
type ConfigModule struct {
	ctx        *Context
	pluginSlug string
	checker    *security.PermissionChecker
}

// NewConfigModule creates a new config module.
func NewConfigModule(ctx *Context, pluginSlug string, checker *security.PermissionChecker) *ConfigModule {
	return &ConfigModule{ctx: ctx, pluginSlug: pluginSlug, checker: checker}
}

// Name returns the module name.
func (m *ConfigModule) Name() string {
	return "config"
}

// RequiredCapability returns the capability required for this module.
func (m *ConfigModule) RequiredCapability() security.Capability {
	return security.CapabilityConfigRead
}

// Register registers the module into the Lua state.
func (m *ConfigModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	setHostField(L, m.Name(), mod)
	return nil
}

// get reads a value: host.config.get(key) -> value|nil
func (m *ConfigModule) get(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityConfigRead); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	key := L.CheckString(1)
	if security.IsSensitiveKey(key) {
		L.RaiseError("%s", MsgSensitiveConfig+key)
		return 0
	}

	if m.ctx.Config == nil {
		L.Push(lua.LNil)
		return 1
	}
	value, ok := m.ctx.Config.Get(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, value))
	return 1
}

// set writes a value in the plugin namespace: host.config.set(key, value)
func (m *ConfigModule) set(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityConfigWrite); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	key := L.CheckString(1)
	value := luaToGo(L.Get(2))

	if !strings.HasPrefix(key, m.pluginSlug+".") {
		L.RaiseError("%s", MsgPermissionDenied+"config key "+key+" is outside namespace "+m.pluginSlug)
		return 0
	}

	if m.ctx.Config == nil {
		L.Push(lua.LFalse)
		return 1
	}
	if err := m.ctx.Config.Set(key, value); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// keys lists keys under a prefix, filtering sensitive ones:
// host.config.keys(prefix) -> {key, ...}
func (m *ConfigModule) keys(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityConfigRead); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	prefix := L.OptString(1, "")

	tbl := L.NewTable()
	if m.ctx.Config != nil {
		i := 1
		for _, key := range m.ctx.Config.Keys(prefix) {
			if security.IsSensitiveKey(key) {
				continue
			}
			tbl.RawSetInt(i, lua.LString(key))
			i++
		}
	}
	L.Push(tbl)
	return 1
}
