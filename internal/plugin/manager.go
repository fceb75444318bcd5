package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plugsmith/plugsmith/internal/event"
	"github.com/plugsmith/plugsmith/internal/plugin/api"
	"github.com/plugsmith/plugsmith/internal/plugin/sandbox"
	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// Lifecycle event topics published on the host bus.
const (
	TopicInstalled       = "plugin:installed"
	TopicInstallError    = "plugin:install-error"
	TopicActivated       = "plugin:activated"
	TopicActivateError   = "plugin:activate-error"
	TopicDeactivated     = "plugin:deactivated"
	TopicDeactivateError = "plugin:deactivate-error"
	TopicUpdated         = "plugin:updated"
	TopicUpdateError     = "plugin:update-error"
	TopicUninstalled     = "plugin:uninstalled"
)

// Store persists plugin instances coarsely: one record per installed
// plugin, enough to rebuild the in-memory registry on restart.
type Store interface {
	SaveInstance(inst *Instance) error
	DeleteInstance(id string) error
	LoadInstances() ([]*Instance, error)
}

// MigrationFunc adjusts a plugin's stored data during an update between
// two specific versions.
type MigrationFunc func(inst *Instance, oldVersion, newVersion string) error

// Options configures a Manager. Nil providers fall back to in-memory
// defaults so the runtime works without a full host environment.
type Options struct {
	Bus    *event.Bus
	Store  Store
	Logger *logrus.Entry

	Users  api.UserProvider
	Config api.ConfigProvider
	KV     api.StoreProvider
	HTTP   api.HTTPProvider

	ChunkCacheSize int
	QueueDepth     int
}

// Manager is the plugin lifecycle state machine. Every mutating operation
// (install, activate, deactivate, update, uninstall) is serialized through
// a single FIFO operation queue; the queue worker is the sole writer of
// instance state. Read-only queries run concurrently against snapshots.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	bySlug    map[string]map[string]string // tenant -> slug -> id
	contexts  map[string]*sandbox.Context

	resolver *Resolver
	queue    *opQueue
	bus      *event.Bus
	store    Store
	logger   *logrus.Entry
	chunks   *sandbox.ChunkCache

	users  api.UserProvider
	config api.ConfigProvider
	kv     api.StoreProvider
	http   api.HTTPProvider
	memKV  *MemoryStoreProvider // set when kv defaulted, for namespace cleanup

	migMu      sync.RWMutex
	migrations map[string]MigrationFunc
}

// NewManager creates a runtime manager and starts its operation queue.
// Call Close to stop it.
func NewManager(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus()
	}

	chunks, err := sandbox.NewChunkCache(opts.ChunkCacheSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		instances:  make(map[string]*Instance),
		bySlug:     make(map[string]map[string]string),
		contexts:   make(map[string]*sandbox.Context),
		resolver:   NewResolver(),
		queue:      newOpQueue(opts.QueueDepth),
		bus:        bus,
		store:      opts.Store,
		logger:     logger.WithField("component", "plugin-manager"),
		chunks:     chunks,
		users:      opts.Users,
		config:     opts.Config,
		kv:         opts.KV,
		http:       opts.HTTP,
		migrations: make(map[string]MigrationFunc),
	}
	if m.config == nil {
		m.config = NewMemoryConfigProvider(nil)
	}
	if m.kv == nil {
		mem := NewMemoryStoreProvider()
		m.kv = mem
		m.memKV = mem
	}
	if m.http == nil {
		m.http = NewHTTPClientProvider()
	}
	return m, nil
}

// Bus returns the event bus lifecycle events are published on.
func (m *Manager) Bus() *event.Bus {
	return m.bus
}

// RegisterMigration installs a migration hook for a slug's version pair,
// run during Update when oldVersion and newVersion match.
func (m *Manager) RegisterMigration(slug, oldVersion, newVersion string, fn MigrationFunc) {
	m.migMu.Lock()
	defer m.migMu.Unlock()
	m.migrations[migrationKey(slug, oldVersion, newVersion)] = fn
}

func migrationKey(slug, oldVersion, newVersion string) string {
	return slug + "|" + oldVersion + "|" + newVersion
}

// Install validates the manifest, creates an instance in Installed state
// and resolves its dependency edges. A resolver failure leaves the
// instance registered in Error state with the fault attached, and the
// call fails. Install never auto-activates.
func (m *Manager) Install(manifest *Manifest, tenant string) (*Instance, error) {
	var snapshot *Instance
	err := m.queue.submit("install", func() error {
		inst, err := m.installOp(manifest, tenant)
		if inst != nil {
			snapshot = inst.Snapshot()
		}
		return err
	})
	return snapshot, err
}

func (m *Manager) installOp(manifest *Manifest, tenant string) (*Instance, error) {
	if result := ValidateManifest(manifest); !result.Valid {
		return nil, newError(KindInvalidManifest, "%s", strings.Join(result.Errors, "; "))
	}

	m.mu.Lock()
	if id, ok := m.bySlug[tenant][manifest.Slug]; ok {
		m.mu.Unlock()
		return nil, newError(KindAlreadyInstalled, "%s is already installed for tenant %q (instance %s)", manifest.Slug, tenant, id)
	}

	inst := &Instance{
		ID:          uuid.NewString(),
		Tenant:      tenant,
		Manifest:    manifest.Clone(),
		Status:      StatusInstalled,
		Config:      make(map[string]any),
		InstalledAt: time.Now(),
	}
	m.instances[inst.ID] = inst
	if m.bySlug[tenant] == nil {
		m.bySlug[tenant] = make(map[string]string)
	}
	m.bySlug[tenant][manifest.Slug] = inst.ID
	peers := m.tenantPeersLocked(tenant, inst.ID)
	m.mu.Unlock()

	if err := m.resolver.Resolve(inst, peers); err != nil {
		m.failInstance(inst, "install", err)
		m.emit(TopicInstallError, inst, err)
		return inst, err
	}

	m.persist(inst)
	m.logger.WithFields(logrus.Fields{
		"slug":    inst.Slug(),
		"version": inst.Version(),
		"tenant":  tenant,
	}).Info("plugin installed")
	m.emit(TopicInstalled, inst, nil)
	return inst, nil
}

// tenantPeersLocked returns the tenant's instances keyed by slug,
// excluding the given instance. Caller holds m.mu.
func (m *Manager) tenantPeersLocked(tenant, excludeID string) map[string]*Instance {
	peers := make(map[string]*Instance)
	for slug, id := range m.bySlug[tenant] {
		if id == excludeID {
			continue
		}
		peers[slug] = m.instances[id]
	}
	return peers
}

// Activate brings an instance and its whole dependency chain to Active,
// deepest dependency first. Already-active instances are a no-op. If a
// dependency fails partway, everything activated earlier in the chain is
// left active; callers deactivate explicitly if that is unacceptable.
func (m *Manager) Activate(id string) error {
	return m.queue.submit("activate", func() error {
		return m.activateOp(id, map[string]bool{})
	})
}

func (m *Manager) activateOp(id string, visiting map[string]bool) error {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return newError(KindNotFound, "no plugin instance %q", id)
	}
	if inst.Status == StatusActive {
		return nil
	}
	if visiting[id] {
		return newError(KindCircularDependency, "activation of %s revisited itself", inst.Slug())
	}
	visiting[id] = true

	for _, depID := range m.resolver.DependenciesOf(id) {
		if err := m.activateOp(depID, visiting); err != nil {
			return err
		}
	}
	return m.activateSelf(inst)
}

func (m *Manager) activateSelf(inst *Instance) error {
	m.setStatus(inst, StatusActivating)

	source, err := inst.Manifest.EntrySource()
	if err != nil {
		m.failInstance(inst, "activate", err)
		m.emit(TopicActivateError, inst, err)
		return fromSandboxError(err)
	}

	sbx, err := sandbox.NewContext(sandbox.Options{
		Slug:         inst.Slug(),
		Version:      inst.Version(),
		InstanceID:   inst.ID,
		Tenant:       inst.Tenant,
		Capabilities: inst.Manifest.Capabilities,
		Policy:       inst.Manifest.Policy,
		API:          m.apiContext(inst),
		Chunks:       m.chunks,
		Logger:       m.logger,
	})
	if err != nil {
		m.failInstance(inst, "activate", err)
		m.emit(TopicActivateError, inst, err)
		return fromSandboxError(err)
	}

	bg := context.Background()
	if err := sbx.Load(bg, source); err != nil {
		_ = sbx.Destroy()
		err = fromSandboxError(err)
		m.failInstance(inst, "activate", err)
		m.emit(TopicActivateError, inst, err)
		return err
	}
	if _, _, err := sbx.Call(bg, "activate"); err != nil {
		_ = sbx.Destroy()
		err = fromSandboxError(err)
		m.failInstance(inst, "activate", err)
		m.emit(TopicActivateError, inst, err)
		return err
	}

	m.mu.Lock()
	m.contexts[inst.ID] = sbx
	inst.Status = StatusActive
	inst.LastActivated = time.Now()
	inst.ExecutionCount++
	if inst.LastFault != nil && inst.LastFault.Operation == "activate" {
		inst.LastFault = nil
	}
	m.mu.Unlock()

	m.persist(inst)
	m.logger.WithFields(logrus.Fields{
		"slug":    inst.Slug(),
		"version": inst.Version(),
	}).Info("plugin activated")
	m.emit(TopicActivated, inst, nil)
	return nil
}

// Deactivate transitions an Active instance to Inactive. Without force it
// fails with HasActiveDependents while any active dependent exists.
// Idempotent when the instance is already inactive.
func (m *Manager) Deactivate(id string, force bool) error {
	return m.queue.submit("deactivate", func() error {
		return m.deactivateOp(id, force)
	})
}

func (m *Manager) deactivateOp(id string, force bool) error {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return newError(KindNotFound, "no plugin instance %q", id)
	}
	if inst.Status != StatusActive && inst.Status != StatusActivating {
		return nil
	}

	if !force {
		if active := m.activeDependents(id); len(active) > 0 {
			return newError(KindHasActiveDependents,
				"%s is required by active plugins: %s", inst.Slug(), strings.Join(active, ", "))
		}
	}

	m.setStatus(inst, StatusDeactivating)

	m.mu.Lock()
	sbx := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()

	var hookErr error
	if sbx != nil {
		_, _, hookErr = sbx.Call(context.Background(), "deactivate")
		_ = sbx.Destroy()
	}

	m.mu.Lock()
	inst.Status = StatusInactive
	if hookErr == nil && inst.LastFault != nil && inst.LastFault.Operation == "deactivate" {
		inst.LastFault = nil
	}
	m.mu.Unlock()

	if hookErr != nil {
		// The plugin is deactivated regardless; a failing hook is recorded
		// but does not keep the instance active.
		hookErr = fromSandboxError(hookErr)
		m.mu.Lock()
		inst.recordFault("deactivate", hookErr)
		m.mu.Unlock()
		m.logger.WithField("slug", inst.Slug()).WithError(hookErr).Warn("deactivate hook failed")
		m.emit(TopicDeactivateError, inst, hookErr)
	} else {
		m.emit(TopicDeactivated, inst, nil)
	}

	m.persist(inst)
	return nil
}

// activeDependents returns slugs of Active instances depending on id.
func (m *Manager) activeDependents(id string) []string {
	var active []string
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, depID := range m.resolver.Dependents(id) {
		if dep, ok := m.instances[depID]; ok && dep.Status == StatusActive {
			active = append(active, dep.Slug())
		}
	}
	return active
}

// Uninstall removes an instance entirely: its record, its dependency
// edges, its dependents-index entry and its storage namespace. Without
// force it fails with HasDependents while any dependent edge exists.
func (m *Manager) Uninstall(id string, force bool) error {
	return m.queue.submit("uninstall", func() error {
		return m.uninstallOp(id, force)
	})
}

func (m *Manager) uninstallOp(id string, force bool) error {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return newError(KindNotFound, "no plugin instance %q", id)
	}

	if !force && !m.resolver.CanSafelyRemove(id) {
		var slugs []string
		m.mu.RLock()
		for _, depID := range m.resolver.Dependents(id) {
			if dep, ok := m.instances[depID]; ok {
				slugs = append(slugs, dep.Slug())
			}
		}
		m.mu.RUnlock()
		return newError(KindHasDependents,
			"%s is required by installed plugins: %s", inst.Slug(), strings.Join(slugs, ", "))
	}

	if inst.Status == StatusActive || inst.Status == StatusActivating {
		if err := m.deactivateOp(id, true); err != nil {
			return err
		}
	}

	m.resolver.RemoveInstance(id)

	m.mu.Lock()
	delete(m.instances, id)
	if slugs, ok := m.bySlug[inst.Tenant]; ok {
		delete(slugs, inst.Slug())
		if len(slugs) == 0 {
			delete(m.bySlug, inst.Tenant)
		}
	}
	inst.Status = StatusUninstalled
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteInstance(id); err != nil {
			m.logger.WithError(err).WithField("slug", inst.Slug()).Error("delete persisted instance")
		}
	}
	if m.memKV != nil {
		m.memKV.DropNamespace(inst.Slug())
	}
	m.chunks.Invalidate(inst.Slug())

	m.logger.WithField("slug", inst.Slug()).Info("plugin uninstalled")
	m.emit(TopicUninstalled, inst, nil)
	return nil
}

// Update replaces an instance's manifest with a new version: deactivates
// if active, re-resolves dependencies, runs the registered migration hook
// for the version pair, then reactivates if the instance was active. A
// resolver failure reverts to the old manifest.
func (m *Manager) Update(id string, newManifest *Manifest) error {
	return m.queue.submit("update", func() error {
		return m.updateOp(id, newManifest)
	})
}

func (m *Manager) updateOp(id string, newManifest *Manifest) error {
	if result := ValidateManifest(newManifest); !result.Valid {
		return newError(KindInvalidManifest, "%s", strings.Join(result.Errors, "; "))
	}

	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return newError(KindNotFound, "no plugin instance %q", id)
	}
	if newManifest.Slug != inst.Slug() {
		return newError(KindInvalidManifest, "update cannot change slug from %q to %q", inst.Slug(), newManifest.Slug)
	}

	wasActive := inst.Status == StatusActive
	if wasActive {
		if err := m.deactivateOp(id, true); err != nil {
			return err
		}
	}

	m.setStatus(inst, StatusUpdating)
	oldManifest := inst.Manifest
	oldVersion := oldManifest.Version

	m.mu.Lock()
	inst.Manifest = newManifest.Clone()
	peers := m.tenantPeersLocked(inst.Tenant, id)
	m.mu.Unlock()

	m.resolver.ResetInstance(id)
	if err := m.resolver.Resolve(inst, peers); err != nil {
		// Revert to the previous manifest and edges.
		m.mu.Lock()
		inst.Manifest = oldManifest
		m.mu.Unlock()
		if rerr := m.resolver.Resolve(inst, peers); rerr != nil {
			m.logger.WithError(rerr).WithField("slug", inst.Slug()).Error("re-resolve after failed update")
		}
		m.failInstance(inst, "update", err)
		m.emit(TopicUpdateError, inst, err)
		return err
	}

	m.migMu.RLock()
	migrate := m.migrations[migrationKey(inst.Slug(), oldVersion, newManifest.Version)]
	m.migMu.RUnlock()
	if migrate != nil {
		if err := migrate(inst, oldVersion, newManifest.Version); err != nil {
			err = wrapError(KindExecutionFailed, err, "migration %s -> %s failed", oldVersion, newManifest.Version)
			m.failInstance(inst, "update", err)
			m.emit(TopicUpdateError, inst, err)
			return err
		}
	}

	m.chunks.Invalidate(inst.Slug())

	m.mu.Lock()
	inst.Status = StatusInactive
	if inst.LastFault != nil && inst.LastFault.Operation == "update" {
		inst.LastFault = nil
	}
	m.mu.Unlock()

	m.persist(inst)
	m.logger.WithFields(logrus.Fields{
		"slug": inst.Slug(),
		"from": oldVersion,
		"to":   newManifest.Version,
	}).Info("plugin updated")
	m.emit(TopicUpdated, inst, nil)

	if wasActive {
		return m.activateOp(id, map[string]bool{})
	}
	return nil
}

// Execute invokes an exported function on an Active plugin. Unlike
// lifecycle operations, executions are not queued: calls for different
// plugins run in parallel on their own contexts, each bounded by its own
// policy timeout.
func (m *Manager) Execute(ctx context.Context, id, fn string, args ...any) ([]any, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	sbx := m.contexts[id]
	m.mu.RUnlock()
	if !ok {
		return nil, newError(KindNotFound, "no plugin instance %q", id)
	}
	if sbx == nil || inst.Status != StatusActive {
		return nil, newError(KindExecutionFailed, "%s is not active", inst.Slug())
	}

	results, found, err := sbx.Call(ctx, fn, args...)
	if err != nil {
		terr := fromSandboxError(err)
		m.mu.Lock()
		inst.recordFault("execute", terr)
		m.mu.Unlock()
		m.logger.WithField("slug", inst.Slug()).WithError(terr).Warn("plugin execution failed")
		return nil, terr
	}
	if !found {
		return nil, newError(KindExecutionFailed, "%s does not export %q", inst.Slug(), fn)
	}

	m.mu.Lock()
	inst.ExecutionCount++
	m.mu.Unlock()
	return results, nil
}

// Get returns a snapshot of an instance.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, newError(KindNotFound, "no plugin instance %q", id)
	}
	return inst.Snapshot(), nil
}

// GetBySlug returns a snapshot of the tenant's instance for a slug.
func (m *Manager) GetBySlug(slug, tenant string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySlug[tenant][slug]
	if !ok {
		return nil, newError(KindNotFound, "no plugin %q for tenant %q", slug, tenant)
	}
	return m.instances[id].Snapshot(), nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status   *Status
	Category string
	Tenant   string
}

// List returns snapshots of instances matching the filter, in no
// particular order.
func (m *Manager) List(filter Filter) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Instance
	for _, inst := range m.instances {
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && inst.Manifest.Category != filter.Category {
			continue
		}
		if filter.Tenant != "" && inst.Tenant != filter.Tenant {
			continue
		}
		result = append(result, inst.Snapshot())
	}
	return result
}

// Health describes an instance's observable condition.
type Health struct {
	ID             string       `json:"id"`
	Slug           string       `json:"slug"`
	Version        string       `json:"version"`
	Status         string       `json:"status"`
	ExecutionCount int64        `json:"execution_count"`
	LastActivated  time.Time    `json:"last_activated,omitempty"`
	LastFault      *FaultRecord `json:"last_fault,omitempty"`
	MemoryUsage    int64        `json:"memory_usage"`

	// CapabilityRisk is the highest risk level among the granted
	// capabilities, for admin display.
	CapabilityRisk string `json:"capability_risk"`
}

// HealthOf returns a health snapshot for an instance, including sandbox
// memory usage when active.
func (m *Manager) HealthOf(id string) (*Health, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, newError(KindNotFound, "no plugin instance %q", id)
	}
	h := &Health{
		ID:             inst.ID,
		Slug:           inst.Slug(),
		Version:        inst.Version(),
		Status:         inst.Status.String(),
		ExecutionCount: inst.ExecutionCount,
		LastActivated:  inst.LastActivated,
	}
	if inst.Manifest != nil {
		h.CapabilityRisk = security.HighestRisk(inst.Manifest.Capabilities).String()
	}
	if inst.LastFault != nil {
		fault := *inst.LastFault
		h.LastFault = &fault
	}
	if sbx := m.contexts[id]; sbx != nil {
		h.MemoryUsage = sbx.Monitor().MemoryUsage()
	}
	return h, nil
}

// Restore rebuilds the registry from the persistence layer. Instances
// persisted as active come back Inactive; the caller decides what to
// reactivate. Dependency edges are re-resolved after all instances are
// registered, so declaration order does not matter.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	return m.queue.submit("restore", func() error {
		instances, err := m.store.LoadInstances()
		if err != nil {
			return fmt.Errorf("load persisted plugins: %w", err)
		}

		m.mu.Lock()
		for _, inst := range instances {
			if inst.Status == StatusActive || inst.Status == StatusActivating {
				inst.Status = StatusInactive
			}
			m.instances[inst.ID] = inst
			if m.bySlug[inst.Tenant] == nil {
				m.bySlug[inst.Tenant] = make(map[string]string)
			}
			m.bySlug[inst.Tenant][inst.Slug()] = inst.ID
		}
		m.mu.Unlock()

		for _, inst := range instances {
			m.mu.RLock()
			peers := m.tenantPeersLocked(inst.Tenant, inst.ID)
			m.mu.RUnlock()
			if err := m.resolver.Resolve(inst, peers); err != nil {
				m.failInstance(inst, "install", err)
				m.logger.WithError(err).WithField("slug", inst.Slug()).Warn("restored plugin failed to resolve")
			}
		}
		m.logger.WithField("count", len(instances)).Info("plugin registry restored")
		return nil
	})
}

// Close drains the operation queue and destroys every live sandbox
// context. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.queue.close()

	m.mu.Lock()
	contexts := m.contexts
	m.contexts = make(map[string]*sandbox.Context)
	m.mu.Unlock()

	for _, sbx := range contexts {
		_ = sbx.Destroy()
	}
}

func (m *Manager) apiContext(inst *Instance) *api.Context {
	return &api.Context{
		User:   m.users,
		Event:  newBusEventProvider(m.bus, inst.Slug(), inst.Tenant),
		Config: m.config,
		HTTP:   m.http,
		Store:  m.kv,
	}
}

func (m *Manager) setStatus(inst *Instance, status Status) {
	m.mu.Lock()
	inst.Status = status
	m.mu.Unlock()
}

// failInstance records a fault and transitions the instance to Error.
func (m *Manager) failInstance(inst *Instance, op string, err error) {
	m.mu.Lock()
	inst.recordFault(op, err)
	inst.Status = StatusError
	m.mu.Unlock()
	m.persist(inst)
}

func (m *Manager) persist(inst *Instance) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	snapshot := inst.Snapshot()
	m.mu.RUnlock()
	if err := m.store.SaveInstance(snapshot); err != nil {
		m.logger.WithError(err).WithField("slug", inst.Slug()).Error("persist instance")
	}
}

// emit publishes a best-effort lifecycle event. Failures in handlers are
// contained by the bus and never affect the operation itself. Handlers run
// on the queue worker goroutine and must not submit lifecycle operations
// synchronously.
func (m *Manager) emit(topic string, inst *Instance, opErr error) {
	data := map[string]any{
		"id":      inst.ID,
		"slug":    inst.Slug(),
		"version": inst.Version(),
		"status":  inst.Status.String(),
	}
	if opErr != nil {
		data["error"] = opErr.Error()
	}
	m.bus.Publish(event.Event{
		Topic:  topic,
		Plugin: inst.Slug(),
		Tenant: inst.Tenant,
		Data:   data,
		Time:   time.Now(),
	})
}
