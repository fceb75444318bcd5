package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// UserModule implements the host.user API module.
// It exposes read-only accessors for the current user and tenant.
type UserModule struct {
	ctx     *Context
	checker *security.PermissionChecker
}

// NewUserModule creates a new user module.
func NewUserModule(ctx *Context, checker *security.PermissionChecker) *UserModule {
	return &UserModule{ctx: ctx, checker: checker}
}

// Name returns the module name.
func (m *UserModule) Name() string {
	return "user"
}

// RequiredCapability returns the capability required for this module.
func (m *UserModule) RequiredCapability() security.Capability {
	return security.CapabilityUserRead
}

// Register registers the module into the Lua state.
func (m *UserModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "current", L.NewFunction(m.current))
	L.SetField(mod, "tenant", L.NewFunction(m.tenant))
	setHostField(L, m.Name(), mod)
	return nil
}

// current returns the current user as a table, or nil if unavailable.
func (m *UserModule) current(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityUserRead); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	if m.ctx.User == nil {
		L.Push(lua.LNil)
		return 1
	}
	user, ok := m.ctx.User.CurrentUser()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(user.ID))
	L.SetField(tbl, "name", lua.LString(user.Name))
	L.SetField(tbl, "email", lua.LString(user.Email))
	L.SetField(tbl, "role", lua.LString(user.Role))
	L.Push(tbl)
	return 1
}

// tenant returns the current tenant as a table, or nil if unavailable.
func (m *UserModule) tenant(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityUserRead); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	if m.ctx.User == nil {
		L.Push(lua.LNil)
		return 1
	}
	tenant, ok := m.ctx.User.CurrentTenant()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(tenant.ID))
	L.SetField(tbl, "name", lua.LString(tenant.Name))
	L.Push(tbl)
	return 1
}
