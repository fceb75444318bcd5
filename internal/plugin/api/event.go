package api

import (
	"strconv"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// EventModule implements the host.event API module (emit/on/off).
//
// Handler functions are stored in a Lua table held under a plugin-specific
// global so they survive garbage collection. Callbacks from the host bus are
// marshaled back onto the plugin's Lua goroutine through the Invoker.
type EventModule struct {
	ctx        *Context
	pluginSlug string
	checker    *security.PermissionChecker
	invoker    Invoker
	L          *lua.LState

	mu            sync.Mutex
	subscriptions map[string]string // local ID -> provider subscription ID
	handlerTbl    *lua.LTable       // holds handler functions to prevent GC
	handlerKey    string            // global key for the handler table
	nextID        uint64
}

// NewEventModule creates a new event module.
func NewEventModule(ctx *Context, pluginSlug string, checker *security.PermissionChecker, invoker Invoker) *EventModule {
	return &EventModule{
		ctx:           ctx,
		pluginSlug:    pluginSlug,
		checker:       checker,
		invoker:       invoker,
		subscriptions: make(map[string]string),
		handlerKey:    "_host_event_handlers_" + pluginSlug,
	}
}

// Name returns the module name.
func (m *EventModule) Name() string {
	return "event"
}

// RequiredCapability returns the capability required for this module.
func (m *EventModule) RequiredCapability() security.Capability {
	return security.CapabilityEvent
}

// Register registers the module into the Lua state.
func (m *EventModule) Register(L *lua.LState) error {
	m.L = L

	m.handlerTbl = L.NewTable()
	L.SetGlobal(m.handlerKey, m.handlerTbl)

	mod := L.NewTable()
	L.SetField(mod, "emit", L.NewFunction(m.emit))
	L.SetField(mod, "on", L.NewFunction(m.on))
	L.SetField(mod, "off", L.NewFunction(m.off))
	setHostField(L, m.Name(), mod)
	return nil
}

// emit publishes an event: host.event.emit(topic, data?)
func (m *EventModule) emit(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityEvent); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	topic := L.CheckString(1)
	var data map[string]any
	if L.GetTop() >= 2 {
		data = luaTableToDataMap(L.OptTable(2, nil))
	} else {
		data = map[string]any{}
	}

	if m.ctx.Event != nil {
		m.ctx.Event.Emit(topic, data)
	}
	return 0
}

// on subscribes to a topic: host.event.on(topic, handler) -> id
func (m *EventModule) on(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityEvent); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	topic := L.CheckString(1)
	handler := L.CheckFunction(2)

	if m.ctx.Event == nil {
		L.Push(lua.LNil)
		return 1
	}

	m.mu.Lock()
	localID := "ev-" + strconv.FormatUint(atomic.AddUint64(&m.nextID, 1), 10)
	m.handlerTbl.RawSetString(localID, handler)
	m.mu.Unlock()

	providerID := m.ctx.Event.Subscribe(topic, func(data map[string]any) {
		m.dispatch(localID, data)
	})

	m.mu.Lock()
	m.subscriptions[localID] = providerID
	m.mu.Unlock()

	L.Push(lua.LString(localID))
	return 1
}

// off removes a subscription: host.event.off(id) -> bool
func (m *EventModule) off(L *lua.LState) int {
	if err := m.checker.CheckCapability(security.CapabilityEvent); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return 0
	}

	localID := L.CheckString(1)

	m.mu.Lock()
	providerID, ok := m.subscriptions[localID]
	if ok {
		delete(m.subscriptions, localID)
		m.handlerTbl.RawSetString(localID, lua.LNil)
	}
	m.mu.Unlock()

	removed := false
	if ok && m.ctx.Event != nil {
		removed = m.ctx.Event.Unsubscribe(providerID)
	}
	L.Push(lua.LBool(removed))
	return 1
}

// dispatch invokes a stored handler through the invoker.
// Handler errors are swallowed; event delivery is best-effort.
func (m *EventModule) dispatch(localID string, data map[string]any) {
	if m.invoker == nil {
		return
	}

	m.mu.Lock()
	hv := m.handlerTbl.RawGetString(localID)
	m.mu.Unlock()

	fn, ok := hv.(*lua.LFunction)
	if !ok {
		return
	}

	// Delivery hops to a fresh goroutine. The bus publishes synchronously,
	// and the emitter may be subscribed to its own topic while holding its
	// execution lock; invoking inline would deadlock.
	go func() {
		_ = m.invoker.InvokeLua(fn, data)
	}()
}

// Teardown unsubscribes all remaining subscriptions.
func (m *EventModule) Teardown() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]string)
	m.mu.Unlock()

	if m.ctx.Event == nil {
		return
	}
	for _, providerID := range subs {
		m.ctx.Event.Unsubscribe(providerID)
	}
}
