package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plugsmith/plugsmith/internal/plugin/api"
	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

func newTestContext(t *testing.T, opts Options) *Context {
	t.Helper()
	if opts.Slug == "" {
		opts.Slug = "test-plugin"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	c, err := NewContext(opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func TestLoadAndCall(t *testing.T) {
	c := newTestContext(t, Options{})

	source := `
function add(a, b)
    return a + b
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}

	results, found, err := c.Call(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !found {
		t.Fatal("function add not found")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if n, ok := results[0].(float64); !ok || n != 5 {
		t.Errorf("expected 5, got %v", results[0])
	}
}

func TestCallMissingFunctionIsNotAnError(t *testing.T) {
	c := newTestContext(t, Options{})
	_, found, err := c.Call(context.Background(), "deactivate")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if found {
		t.Error("expected found=false for undefined function")
	}
}

func TestDangerousGlobalsRemoved(t *testing.T) {
	c := newTestContext(t, Options{})

	source := `
function probe()
    return load == nil and dofile == nil and require == nil and os == nil and io == nil
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}
	results, _, err := c.Call(context.Background(), "probe")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || results[0] != true {
		t.Errorf("expected dangerous globals removed, got %v", results)
	}
}

func TestPermissionDeniedSurfacesAsTypedError(t *testing.T) {
	// No capabilities granted: the module is still injected at the policy
	// level, but calling it fails with a permission error rather than a
	// nil-index error.
	c := newTestContext(t, Options{})

	source := `
function read_config()
    return host.config.get("feature.enabled")
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, _, err := c.Call(context.Background(), "read_config")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestDomainNotAllowed(t *testing.T) {
	c := newTestContext(t, Options{
		Capabilities: []security.Capability{security.CapabilityNetwork},
		Policy:       Policy{AllowedDomains: []string{"api.example.com"}},
		API:          &api.Context{HTTP: &stubHTTPProvider{}},
	})

	source := `
function fetch_other()
    return host.http.fetch("https://evil.example.org/data")
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, _, err := c.Call(context.Background(), "fetch_other")
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Fatalf("expected ErrDomainNotAllowed, got %v", err)
	}
}

func TestExecutionTimeoutInterruptsBusyLoop(t *testing.T) {
	timeout := 100 * time.Millisecond
	c := newTestContext(t, Options{
		Policy: Policy{TimeoutMillis: timeout.Milliseconds()},
	})

	source := `
function spin()
    while true do end
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := time.Now()
	_, _, err := c.Call(context.Background(), "spin")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > timeout+150*time.Millisecond {
		t.Errorf("interrupt took %s, want within 150ms of %s", elapsed, timeout)
	}
}

func TestMemoryCeilingRejectsLoad(t *testing.T) {
	c := newTestContext(t, Options{
		Policy: Policy{MemoryCeiling: 64},
	})

	source := "function f() return string.rep('x', 10) end -- padding padding padding"
	err := c.Load(context.Background(), source)
	if !errors.Is(err, ErrMemoryCeiling) {
		t.Fatalf("expected ErrMemoryCeiling, got %v", err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	c := newTestContext(t, Options{})
	if err := c.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if err := c.Load(context.Background(), "x = 1"); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed after Destroy, got %v", err)
	}
}

func TestDestroyAfterTimeout(t *testing.T) {
	c := newTestContext(t, Options{
		Policy: Policy{TimeoutMillis: 50},
	})
	if err := c.Load(context.Background(), "function spin() while true do end end"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, _, err := c.Call(context.Background(), "spin")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy after timeout: %v", err)
	}
}

func TestBlockedModuleNotInjected(t *testing.T) {
	c := newTestContext(t, Options{
		Capabilities: []security.Capability{security.CapabilityCrypto},
		Policy:       Policy{BlockedModules: []string{"crypto"}},
	})

	source := `
function has_crypto()
    return host.crypto ~= nil
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}
	results, _, err := c.Call(context.Background(), "has_crypto")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || results[0] != false {
		t.Errorf("blocked module was injected: %v", results)
	}
}

func TestChunkCacheReuse(t *testing.T) {
	chunks, err := NewChunkCache(8)
	if err != nil {
		t.Fatalf("NewChunkCache: %v", err)
	}

	source := "function ping() return 'pong' end"
	for i := 0; i < 2; i++ {
		c := newTestContext(t, Options{Slug: "cached-plugin", Chunks: chunks})
		if err := c.Load(context.Background(), source); err != nil {
			t.Fatalf("Load %d: %v", i, err)
		}
		results, _, err := c.Call(context.Background(), "ping")
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if len(results) != 1 || results[0] != "pong" {
			t.Fatalf("unexpected result: %v", results)
		}
		_ = c.Destroy()
	}
	if chunks.Len() != 1 {
		t.Errorf("expected 1 cached chunk, got %d", chunks.Len())
	}

	chunks.Invalidate("cached-plugin")
	if chunks.Len() != 0 {
		t.Errorf("expected empty cache after invalidate, got %d", chunks.Len())
	}
}

func TestStrictProfileForHighRiskCapabilities(t *testing.T) {
	// Network-capable plugin with no declared limits runs under the strict
	// profile; declared knobs still win; low-risk plugins get the defaults.
	networked := newTestContext(t, Options{
		Capabilities: []security.Capability{security.CapabilityNetwork},
	})
	strict := security.StrictResourceLimits()
	if got := networked.Monitor().Limits(); got.MemoryCeiling != strict.MemoryCeiling {
		t.Errorf("memory ceiling = %d, want strict %d", got.MemoryCeiling, strict.MemoryCeiling)
	}

	declared := newTestContext(t, Options{
		Slug:         "declared-plugin",
		Capabilities: []security.Capability{security.CapabilityNetwork},
		Policy:       Policy{MemoryCeiling: 2048},
	})
	if got := declared.Monitor().Limits(); got.MemoryCeiling != 2048 {
		t.Errorf("declared memory ceiling = %d, want 2048", got.MemoryCeiling)
	}

	plain := newTestContext(t, Options{
		Slug:         "plain-plugin",
		Capabilities: []security.Capability{security.CapabilityStorage},
	})
	def := security.DefaultResourceLimits()
	if got := plain.Monitor().Limits(); got.MemoryCeiling != def.MemoryCeiling {
		t.Errorf("low-risk memory ceiling = %d, want default %d", got.MemoryCeiling, def.MemoryCeiling)
	}
}

func TestTimeoutAbandonsStuckHostCall(t *testing.T) {
	// A provider that ignores cancellation keeps the execution goroutine on
	// the state past the grace window. The call must report the timeout
	// without exposing any partial results, and the state must refuse
	// further work but still destroy cleanly.
	c := newTestContext(t, Options{
		Capabilities: []security.Capability{security.CapabilityNetwork},
		Policy: Policy{
			TimeoutMillis:  100,
			AllowedDomains: []string{"api.example.com"},
		},
		API: &api.Context{HTTP: &hangingHTTPProvider{hold: 400 * time.Millisecond}},
	})

	source := `
function slow_fetch()
    local resp = host.http.fetch("https://api.example.com/slow")
    return "finished"
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}

	results, found, err := c.Call(context.Background(), "slow_fetch")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if results != nil || found {
		t.Errorf("abandoned call leaked closure state: results=%v found=%v", results, found)
	}

	if _, _, err := c.Call(context.Background(), "slow_fetch"); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed on abandoned state, got %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Errorf("Destroy of abandoned state: %v", err)
	}
}

func TestHostCallCancelledAtPolicyDeadline(t *testing.T) {
	// A provider that honors its context returns when the execution deadline
	// fires, so the goroutine unwinds inside the grace window and the state
	// stays usable.
	provider := &deadlineHTTPProvider{}
	c := newTestContext(t, Options{
		Capabilities: []security.Capability{security.CapabilityNetwork},
		Policy: Policy{
			TimeoutMillis:  100,
			AllowedDomains: []string{"api.example.com"},
		},
		API: &api.Context{HTTP: provider},
	})

	source := `
function slow_fetch()
    return host.http.fetch("https://api.example.com/slow")
end
function ping()
    return "pong"
end
`
	if err := c.Load(context.Background(), source); err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := time.Now()
	_, _, err := c.Call(context.Background(), "slow_fetch")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("request outlived the deadline: took %s", elapsed)
	}
	if !provider.sawDeadline {
		t.Error("provider context carried no deadline")
	}

	results, found, err := c.Call(context.Background(), "ping")
	if err != nil || !found {
		t.Fatalf("state unusable after cancelled request: found=%v err=%v", found, err)
	}
	if len(results) != 1 || results[0] != "pong" {
		t.Errorf("unexpected result: %v", results)
	}
}

type stubHTTPProvider struct{}

func (s *stubHTTPProvider) Do(_ context.Context, _, _ string, _ map[string]string, _ string) (*api.HTTPResponse, error) {
	return &api.HTTPResponse{Status: 200, Body: "{}"}, nil
}

// hangingHTTPProvider ignores cancellation, simulating a misbehaving
// provider implementation.
type hangingHTTPProvider struct {
	hold time.Duration
}

func (s *hangingHTTPProvider) Do(_ context.Context, _, _ string, _ map[string]string, _ string) (*api.HTTPResponse, error) {
	time.Sleep(s.hold)
	return &api.HTTPResponse{Status: 200, Body: "{}"}, nil
}

// deadlineHTTPProvider blocks until its context is cancelled and records
// whether the context carried a deadline.
type deadlineHTTPProvider struct {
	sawDeadline bool
}

func (s *deadlineHTTPProvider) Do(ctx context.Context, _, _ string, _ map[string]string, _ string) (*api.HTTPResponse, error) {
	_, s.sawDeadline = ctx.Deadline()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		return &api.HTTPResponse{Status: 200, Body: "{}"}, nil
	}
}
