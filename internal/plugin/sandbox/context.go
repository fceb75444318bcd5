package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/api"
	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// abandonGrace is how long an interrupted execution goroutine gets to
// unwind before the state is considered abandoned.
const abandonGrace = 50 * time.Millisecond

// Options configures a new execution context.
type Options struct {
	Slug       string
	Version    string
	InstanceID string
	Tenant     string

	// Capabilities granted to the plugin, from the validated manifest.
	Capabilities []security.Capability

	// Policy is the sandbox policy from the manifest, zero values filled
	// with host defaults.
	Policy Policy

	// API holds the host-side providers backing the injected modules.
	API *api.Context

	// Chunks, when set, reuses compiled prototypes across activations.
	Chunks *ChunkCache

	Logger *logrus.Entry
}

// Context is the isolated execution environment for one plugin activation.
// It owns a sandboxed Lua state with host API modules injected according to
// the plugin's capabilities and policy.
//
// All Lua access is serialized through an internal mutex; event deliveries
// from other goroutines funnel through InvokeLua and take the same lock.
type Context struct {
	slug       string
	version    string
	instanceID string
	tenant     string

	mu        sync.Mutex
	L         *lua.LState
	bridge    *Bridge
	registry  *api.Registry
	checker   *security.PermissionChecker
	monitor   *security.ResourceMonitor
	chunks    *ChunkCache
	logger    *logrus.Entry
	destroyed bool

	// abandoned is set when an interrupted execution goroutine did not
	// unwind in time. The state is then never touched again, including by
	// Destroy, to avoid racing the stuck goroutine.
	abandoned bool
}

// NewContext builds a sandboxed execution context for a plugin instance.
// The caller must Destroy it when the activation ends.
func NewContext(opts Options) (*Context, error) {
	if opts.Slug == "" {
		return nil, fmt.Errorf("sandbox: plugin slug required")
	}
	if opts.API == nil {
		opts.API = &api.Context{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("plugin", opts.Slug)

	checker := security.NewPermissionChecker(opts.Slug)
	checker.GrantAll(opts.Capabilities)
	for _, domain := range opts.Policy.AllowedDomains {
		checker.AllowDomain(domain)
	}

	// High-risk plugins that declare no limits of their own get the strict
	// profile as their baseline.
	base := security.DefaultResourceLimits()
	if security.HighestRisk(opts.Capabilities) == security.RiskHigh {
		base = security.StrictResourceLimits()
	}
	monitor := security.NewResourceMonitor(opts.Policy.LimitsFrom(base))

	c := &Context{
		slug:       opts.Slug,
		version:    opts.Version,
		instanceID: opts.InstanceID,
		tenant:     opts.Tenant,
		L:          newLockedState(),
		checker:    checker,
		monitor:    monitor,
		chunks:     opts.Chunks,
		logger:     logger,
	}
	c.bridge = NewBridge(c.L)

	c.registry = api.NewRegistry()
	modules := []api.Module{
		api.NewLogModule(logger),
		api.NewUserModule(opts.API, checker),
		api.NewEventModule(opts.API, opts.Slug, checker, c),
		api.NewConfigModule(opts.API, opts.Slug, checker),
		api.NewHTTPModule(opts.API, checker, monitor),
		api.NewStoreModule(opts.API, opts.Slug, checker, monitor),
		api.NewCryptoModule(checker),
	}
	for _, mod := range modules {
		if err := c.registry.Register(mod); err != nil {
			c.L.Close()
			return nil, err
		}
	}
	if err := c.registry.InjectAll(c.L, opts.Policy.AllowedModules, opts.Policy.BlockedModules); err != nil {
		c.L.Close()
		return nil, err
	}
	c.injectPluginInfo()

	return c, nil
}

// injectPluginInfo exposes identity fields under host.plugin so plugin code
// can log or namespace by its own identity.
func (c *Context) injectPluginInfo() {
	host, ok := c.L.GetGlobal("host").(*lua.LTable)
	if !ok {
		host = c.L.NewTable()
		c.L.SetGlobal("host", host)
	}
	info := c.L.NewTable()
	info.RawSetString("slug", lua.LString(c.slug))
	info.RawSetString("version", lua.LString(c.version))
	info.RawSetString("instance_id", lua.LString(c.instanceID))
	info.RawSetString("tenant", lua.LString(c.tenant))
	host.RawSetString("plugin", info)
}

// Load screens, compiles and runs the plugin's entry source. Top-level code
// runs under the execution timeout like any call; it typically just defines
// the lifecycle functions.
func (c *Context) Load(ctx context.Context, source string) error {
	if err := Prescreen(source); err != nil {
		return err
	}
	if c.monitor.AddMemoryUsage(int64(len(source))) {
		return fmt.Errorf("%w: source is %d bytes", ErrMemoryCeiling, len(source))
	}

	var proto *lua.FunctionProto
	var err error
	if c.chunks != nil {
		proto, err = c.chunks.Compile(c.slug, c.version, source)
	} else {
		proto, err = compileChunk(source, c.slug)
	}
	if err != nil {
		return err
	}

	return c.run(ctx, func(L *lua.LState) error {
		fn := L.NewFunctionFromProto(proto)
		L.Push(fn)
		return L.PCall(0, lua.MultRet, nil)
	})
}

// Call invokes a global function defined by the plugin. Missing functions
// are not an error; lifecycle hooks are optional. The second return value
// reports whether the function existed.
func (c *Context) Call(ctx context.Context, name string, args ...any) ([]any, bool, error) {
	var results []any
	found := false
	finished, err := c.execute(ctx, func(L *lua.LState) error {
		fnVal := L.GetGlobal(name)
		if fnVal.Type() != lua.LTFunction {
			return nil
		}
		found = true

		top := L.GetTop()
		L.Push(fnVal)
		for _, arg := range args {
			L.Push(c.bridge.ToLua(arg))
		}
		if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}

		nret := L.GetTop() - top
		if nret > 0 {
			results = make([]any, nret)
			for i := 0; i < nret; i++ {
				results[i] = c.bridge.ToGo(L.Get(top + i + 1))
			}
			L.Pop(nret)
		}
		return nil
	})
	if !finished {
		// The execution goroutine is still on the state; the closure's
		// captured values must not be read.
		return nil, false, err
	}
	return results, found, err
}

// InvokeLua delivers an event payload to a Lua handler function. It takes
// the same lock as every other execution, so handlers never run while the
// plugin is mid-call on another goroutine.
func (c *Context) InvokeLua(fn *lua.LFunction, data map[string]any) error {
	return c.run(context.Background(), func(L *lua.LState) error {
		L.Push(fn)
		L.Push(c.bridge.ToLua(data))
		return L.PCall(1, 0, nil)
	})
}

// run executes fn under the policy timeout, discarding whether the
// execution goroutine finished. Callers whose closure produces values
// must use execute and check the finished flag instead.
func (c *Context) run(parent context.Context, fn func(L *lua.LState) error) error {
	_, err := c.execute(parent, fn)
	return err
}

// execute runs fn against the Lua state under the policy timeout. The VM
// loop honors context cancellation, so busy loops abort close to the
// deadline rather than on the next host call.
//
// The finished flag reports whether the execution goroutine was observed
// to complete. Only a receive on its channel establishes ordering with the
// goroutine's writes, so values the closure captured may be read only
// when finished is true. On the abandoned path the state is never touched
// again, including RemoveContext, because the goroutine is still on it.
func (c *Context) execute(parent context.Context, fn func(L *lua.LState) error) (finished bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || c.abandoned {
		return false, ErrDestroyed
	}
	if c.monitor.MemoryExceeded() {
		return false, fmt.Errorf("%w: %s", ErrMemoryCeiling, c.monitor.ExceededReason())
	}

	if parent == nil {
		parent = context.Background()
	}
	timeout := c.monitor.ExecutionTimeout()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	c.L.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- runRecovered(fn, c.L)
	}()

	select {
	case err := <-done:
		c.L.RemoveContext()
		if ctx.Err() == context.DeadlineExceeded {
			return true, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return true, mapLuaError(err)
	case <-ctx.Done():
		// The VM aborts at its next instruction boundary. Wait briefly so
		// the goroutine is off the state before anyone touches it again.
		select {
		case <-done:
			c.L.RemoveContext()
			return true, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-time.After(abandonGrace):
			c.abandoned = true
			c.logger.Warn("execution did not unwind after interrupt, state abandoned")
			return false, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}
}

func runRecovered(fn func(L *lua.LState) error, L *lua.LState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(L)
}

// Monitor exposes the resource monitor for usage reporting.
func (c *Context) Monitor() *security.ResourceMonitor {
	return c.monitor
}

// Checker exposes the permission checker, for health and introspection.
func (c *Context) Checker() *security.PermissionChecker {
	return c.checker
}

// Destroyed reports whether Destroy has run.
func (c *Context) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy tears down API modules, releases provider subscriptions and
// closes the Lua state. It is idempotent and safe after a timeout.
func (c *Context) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}
	c.destroyed = true

	// Module teardown only touches Go-side handler maps and provider
	// subscriptions, so it is safe even for an abandoned state.
	c.registry.TeardownAll()

	if !c.abandoned {
		c.L.Close()
	}
	return nil
}
