package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plugsmith/plugsmith/internal/event"
	"github.com/plugsmith/plugsmith/internal/plugin/api"
)

// Default limits for the host HTTP provider.
const (
	httpClientTimeout  = 30 * time.Second
	httpMaxBodyBytes   = 4 * 1024 * 1024
	httpUserAgentValue = "plugsmith-plugin-runtime"
)

// StaticUserProvider serves a fixed user and tenant, for hosts that embed
// the runtime without a real identity layer and for tests.
type StaticUserProvider struct {
	User   api.User
	Tenant api.Tenant
}

func (p *StaticUserProvider) CurrentUser() (api.User, bool) {
	return p.User, p.User.ID != ""
}

func (p *StaticUserProvider) CurrentTenant() (api.Tenant, bool) {
	return p.Tenant, p.Tenant.ID != ""
}

// busEventProvider bridges plugin event calls onto the host event bus,
// stamping events with the emitting plugin and tenant.
type busEventProvider struct {
	bus    *event.Bus
	plugin string
	tenant string
}

func newBusEventProvider(bus *event.Bus, plugin, tenant string) *busEventProvider {
	return &busEventProvider{bus: bus, plugin: plugin, tenant: tenant}
}

func (p *busEventProvider) Emit(topic string, data map[string]any) {
	p.bus.Publish(event.Event{
		Topic:  topic,
		Plugin: p.plugin,
		Tenant: p.tenant,
		Data:   data,
		Time:   time.Now(),
	})
}

func (p *busEventProvider) Subscribe(topic string, handler func(data map[string]any)) string {
	return p.bus.Subscribe(topic, func(evt event.Event) {
		handler(evt.Data)
	})
}

func (p *busEventProvider) Unsubscribe(id string) bool {
	return p.bus.Unsubscribe(id)
}

// MemoryConfigProvider is a thread-safe in-memory configuration map used
// when the host does not supply its own configuration backend.
type MemoryConfigProvider struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemoryConfigProvider creates a config provider seeded with values.
func NewMemoryConfigProvider(values map[string]any) *MemoryConfigProvider {
	p := &MemoryConfigProvider{values: make(map[string]any)}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

func (p *MemoryConfigProvider) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *MemoryConfigProvider) Set(key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}

func (p *MemoryConfigProvider) Keys(prefix string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// MemoryStoreProvider is a namespaced in-memory key-value store. Each
// plugin sees only its own namespace.
type MemoryStoreProvider struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStoreProvider creates an empty namespaced store.
func NewMemoryStoreProvider() *MemoryStoreProvider {
	return &MemoryStoreProvider{data: make(map[string]map[string]any)}
}

func (p *MemoryStoreProvider) Get(namespace, key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[namespace][key]
	return v, ok
}

func (p *MemoryStoreProvider) Set(namespace, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data[namespace] == nil {
		p.data[namespace] = make(map[string]any)
	}
	p.data[namespace][key] = value
	return nil
}

func (p *MemoryStoreProvider) Delete(namespace, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data[namespace], key)
}

func (p *MemoryStoreProvider) Keys(namespace string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.data[namespace]))
	for k := range p.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DropNamespace removes every key in a namespace. Used on uninstall.
func (p *MemoryStoreProvider) DropNamespace(namespace string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, namespace)
}

// HTTPClientProvider performs plugin HTTP requests with a shared client.
// Domain and rate checks happen in the API module before Do is reached;
// this provider only caps response size and wall time.
type HTTPClientProvider struct {
	Client *http.Client
}

// NewHTTPClientProvider creates a provider with a bounded default client.
func NewHTTPClientProvider() *HTTPClientProvider {
	return &HTTPClientProvider{
		Client: &http.Client{Timeout: httpClientTimeout},
	}
}

func (p *HTTPClientProvider) Do(ctx context.Context, method, url string, headers map[string]string, body string) (*api.HTTPResponse, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", httpUserAgentValue)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return &api.HTTPResponse{
		Status:  resp.StatusCode,
		Body:    string(data),
		Headers: respHeaders,
	}, nil
}
