package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

// User describes the user on whose behalf the host is running.
type User struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// Tenant describes the tenant a plugin instance belongs to.
type Tenant struct {
	ID   string
	Name string
}

// UserProvider supplies read-only user and tenant accessors.
type UserProvider interface {
	// CurrentUser returns the current user, or false if none is available.
	CurrentUser() (User, bool)

	// CurrentTenant returns the current tenant, or false if none is available.
	CurrentTenant() (Tenant, bool)
}

// EventProvider supplies event bus operations.
type EventProvider interface {
	// Emit publishes an event to the host bus.
	Emit(topic string, data map[string]any)

	// Subscribe registers a handler and returns a subscription ID.
	Subscribe(topic string, handler func(data map[string]any)) string

	// Unsubscribe removes a subscription by ID.
	// Returns true if the subscription existed.
	Unsubscribe(id string) bool
}

// ConfigProvider supplies key-value configuration access.
// Keys are hierarchical, separated by dots (e.g. "myplugin.interval").
type ConfigProvider interface {
	// Get retrieves a configuration value by key.
	Get(key string) (any, bool)

	// Set sets a configuration value.
	// Implementations may restrict which keys are writable.
	Set(key string, value any) error

	// Keys returns all keys with the given prefix.
	Keys(prefix string) []string
}

// HTTPResponse is the result of an HTTPProvider call.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

// HTTPProvider performs HTTP requests on behalf of plugins.
// Host and domain restrictions are enforced by the caller before Do is
// invoked; providers only perform the request.
type HTTPProvider interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body string) (*HTTPResponse, error)
}

// StoreProvider supplies namespaced key-value storage.
// The namespace is the plugin identifier; providers must not allow one
// namespace to read or enumerate another.
type StoreProvider interface {
	Get(namespace, key string) (any, bool)
	Set(namespace, key string, value any) error
	Delete(namespace, key string)
	Keys(namespace string) []string
}

// Invoker runs a Lua function on the goroutine that owns the plugin's Lua
// state. gopher-lua's LState is not goroutine-safe, so event handlers and
// other callbacks must be marshaled through an Invoker rather than called
// directly. The data map is converted to a Lua table inside the invocation,
// never on the caller's goroutine.
type Invoker interface {
	InvokeLua(fn *lua.LFunction, data map[string]any) error
}

// Context bundles the providers available to API modules.
// A nil provider disables the corresponding module's functionality; the
// module's functions then return empty defaults or descriptive errors
// instead of panicking.
type Context struct {
	User   UserProvider
	Event  EventProvider
	Config ConfigProvider
	HTTP   HTTPProvider
	Store  StoreProvider
}
