package api

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// Module represents a host API module that can be injected into a plugin's
// Lua state.
type Module interface {
	// Name returns the module name (e.g. "event", "config", "http").
	Name() string

	// RequiredCapability returns the capability required to use this module.
	// Returns empty string if no capability is required. Modules still
	// re-check capabilities per call; this is used for reporting.
	RequiredCapability() security.Capability

	// Register registers the module table into the Lua state under
	// host.<name>.
	Register(L *lua.LState) error
}

// Teardowner is implemented by modules that hold per-activation resources
// (event subscriptions, handler tables). Teardown is called when the
// sandbox context is destroyed and must be idempotent.
type Teardowner interface {
	Teardown()
}

// Registry manages the set of modules injected into one plugin's state.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	order   []string
}

// NewRegistry creates a new module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}

	r.modules[mod.Name()] = mod
	r.order = append(r.order, mod.Name())
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns all registered module names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string{}, r.order...)
}

// InjectAll registers modules into the Lua state under the "host" global.
// The allowed/blocked sets come from the plugin's sandbox policy: a module in
// blocked is never injected; with a non-empty allowed set only listed modules
// are injected. Capability enforcement is per call inside each module, not
// here - an injected module a plugin has no capability for fails at call
// time.
func (r *Registry) InjectAll(L *lua.LState, allowed, blocked []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blockedSet := make(map[string]bool, len(blocked))
	for _, name := range blocked {
		blockedSet[name] = true
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	// Ensure the host table exists
	host := L.GetGlobal("host")
	hostTbl, ok := host.(*lua.LTable)
	if !ok {
		hostTbl = L.NewTable()
		L.SetGlobal("host", hostTbl)
	}

	for _, name := range r.order {
		if blockedSet[name] {
			continue
		}
		if len(allowedSet) > 0 && !allowedSet[name] {
			continue
		}
		if err := r.modules[name].Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}
	}

	return nil
}

// TeardownAll tears down every module that holds per-activation resources.
func (r *Registry) TeardownAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if td, ok := r.modules[name].(Teardowner); ok {
			td.Teardown()
		}
	}
}

// setHostField sets host.<name> = tbl, creating the host table if needed.
func setHostField(L *lua.LState, name string, tbl *lua.LTable) {
	host := L.GetGlobal("host")
	hostTbl, ok := host.(*lua.LTable)
	if !ok {
		hostTbl = L.NewTable()
		L.SetGlobal("host", hostTbl)
	}
	L.SetField(hostTbl, name, tbl)
}
