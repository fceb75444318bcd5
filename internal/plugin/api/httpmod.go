package api

import (
	"context"
	"net/url"

	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// HTTPModule implements the host.http API module.
//
// Requests are restricted to the manifest's allowed domains and rate limited
// by the sandbox's resource monitor. With no HTTPProvider configured, calls
// return nil plus an error string rather than failing hard, so plugins keep
// working in hosts without network access.
type HTTPModule struct {
	ctx     *Context
	checker *security.PermissionChecker
	monitor *security.ResourceMonitor
}

// NewHTTPModule creates a new http module.
func NewHTTPModule(ctx *Context, checker *security.PermissionChecker, monitor *security.ResourceMonitor) *HTTPModule {
	return &HTTPModule{ctx: ctx, checker: checker, monitor: monitor}
}

// Name returns the module name.
func (m *HTTPModule) Name() string {
	return "http"
}

// RequiredCapability returns the capability required for this module.
func (m *HTTPModule) RequiredCapability() security.Capability {
	return security.CapabilityNetwork
}

// Register registers the module into the Lua state.
func (m *HTTPModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "fetch", L.NewFunction(m.fetch))
	setHostField(L, m.Name(), mod)
	return nil
}

// fetch performs an HTTP request:
// host.http.fetch(url, opts?) -> {status=, body=, headers=}|nil, err
// opts: {method=, headers=, body=}
func (m *HTTPModule) fetch(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityNetwork); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	rawURL := L.CheckString(1)

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		L.Push(lua.LNil)
		L.Push(lua.LString("invalid url"))
		return 2
	}

	if err := m.checker.CheckNetwork(parsed.Host); err != nil {
		L.RaiseError("%s", MsgDomainNotAllowed+parsed.Hostname())
		return 0
	}

	if m.monitor != nil && !m.monitor.TryNetworkRequest() {
		L.RaiseError("%s", MsgRateLimited+"network requests")
		return 0
	}

	method := "GET"
	var headers map[string]string
	var body string
	if L.GetTop() >= 2 {
		opts := L.OptTable(2, nil)
		if opts != nil {
			if mv := opts.RawGetString("method"); mv != lua.LNil {
				method = mv.String()
			}
			if hv, ok := opts.RawGetString("headers").(*lua.LTable); ok {
				headers = luaTableToStringMap(hv)
			}
			if bv := opts.RawGetString("body"); bv != lua.LNil {
				body = bv.String()
			}
		}
	}

	if m.ctx.HTTP == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("network unavailable"))
		return 2
	}

	// The VM context carries the execution deadline, so the request is
	// cancelled when the policy timeout fires instead of running out the
	// provider's own client timeout.
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := m.ctx.HTTP.Do(ctx, method, rawURL, headers, body)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	if m.monitor != nil {
		m.monitor.AddOutput(int64(len(resp.Body)))
	}

	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LNumber(resp.Status))
	L.SetField(tbl, "body", lua.LString(resp.Body))
	L.SetField(tbl, "headers", goToLua(L, resp.Headers))
	L.Push(tbl)
	return 1
}
