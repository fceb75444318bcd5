package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/plugsmith/plugsmith/internal/event"
	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Bus: event.NewBus()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func testManifest(slug, version string) *Manifest {
	return &Manifest{
		Name:    slug,
		Slug:    slug,
		Version: version,
		Author:  "tests",
		Entry: Entry{
			Source: "function activate() end\nfunction deactivate() end",
		},
	}
}

func mustInstall(t *testing.T, m *Manager, manifest *Manifest) *Instance {
	t.Helper()
	inst, err := m.Install(manifest, "tenant-1")
	if err != nil {
		t.Fatalf("Install %s: %v", manifest.Slug, err)
	}
	return inst
}

func statusOf(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	inst, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return inst.Status
}

func TestInstallAndGet(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))

	if inst.ID == "" {
		t.Error("expected generated instance ID")
	}
	if inst.Status != StatusInstalled {
		t.Errorf("expected installed status, got %s", inst.Status)
	}

	got, err := m.Get(inst.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Slug() != "alpha" || got.Version() != "1.0.0" {
		t.Errorf("unexpected instance: %s v%s", got.Slug(), got.Version())
	}
}

func TestInstallRejectsDuplicateSlugPerTenant(t *testing.T) {
	m := newTestManager(t)
	mustInstall(t, m, testManifest("alpha", "1.0.0"))

	_, err := m.Install(testManifest("alpha", "2.0.0"), "tenant-1")
	if !IsKind(err, KindAlreadyInstalled) {
		t.Fatalf("expected KindAlreadyInstalled, got %v", err)
	}

	// A different tenant may install the same slug.
	if _, err := m.Install(testManifest("alpha", "2.0.0"), "tenant-2"); err != nil {
		t.Fatalf("install for second tenant: %v", err)
	}
}

func TestInstallInvalidManifest(t *testing.T) {
	m := newTestManager(t)
	bad := testManifest("Bad Slug!", "1.0.0")
	_, err := m.Install(bad, "tenant-1")
	if !IsKind(err, KindInvalidManifest) {
		t.Fatalf("expected KindInvalidManifest, got %v", err)
	}
}

func TestInstallUnresolvedDependency(t *testing.T) {
	m := newTestManager(t)
	manifest := testManifest("beta", "1.0.0")
	manifest.Dependencies = map[string]Dependency{
		"missing": {Version: "1.0.0"},
	}

	inst, err := m.Install(manifest, "tenant-1")
	if !IsKind(err, KindUnresolvedDependency) {
		t.Fatalf("expected KindUnresolvedDependency, got %v", err)
	}
	// Instance remains registered in error state with the fault attached.
	if inst == nil {
		t.Fatal("expected instance to be returned")
	}
	if statusOf(t, m, inst.ID) != StatusError {
		t.Errorf("expected error status, got %s", statusOf(t, m, inst.ID))
	}
	got, _ := m.Get(inst.ID)
	if got.LastFault == nil || got.LastFault.Code != KindUnresolvedDependency {
		t.Errorf("expected fault record, got %+v", got.LastFault)
	}
}

func TestOptionalDependencySkipped(t *testing.T) {
	m := newTestManager(t)
	manifest := testManifest("beta", "1.0.0")
	manifest.Dependencies = map[string]Dependency{
		"missing": {Version: "1.0.0", Optional: true},
	}
	if _, err := m.Install(manifest, "tenant-1"); err != nil {
		t.Fatalf("optional missing dependency should not fail install: %v", err)
	}
}

func TestIncompatibleDependencyVersion(t *testing.T) {
	m := newTestManager(t)
	mustInstall(t, m, testManifest("alpha", "0.9.0"))

	manifest := testManifest("beta", "1.0.0")
	manifest.Dependencies = map[string]Dependency{
		"alpha": {Version: "1.0.0"},
	}
	_, err := m.Install(manifest, "tenant-1")
	if !IsKind(err, KindIncompatibleVersion) {
		t.Fatalf("expected KindIncompatibleVersion, got %v", err)
	}
}

// The full dependency scenario: B depends on A >= 1.0.0 with A at 1.2.0.
func TestDependencyChainLifecycle(t *testing.T) {
	m := newTestManager(t)
	a := mustInstall(t, m, testManifest("plugin-a", "1.2.0"))

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Dependencies = map[string]Dependency{
		"plugin-a": {Version: "1.0.0"},
	}
	b := mustInstall(t, m, bManifest)

	// Activating B activates A first.
	if err := m.Activate(b.ID); err != nil {
		t.Fatalf("Activate B: %v", err)
	}
	if statusOf(t, m, a.ID) != StatusActive {
		t.Errorf("dependency A not active, got %s", statusOf(t, m, a.ID))
	}
	if statusOf(t, m, b.ID) != StatusActive {
		t.Errorf("B not active, got %s", statusOf(t, m, b.ID))
	}

	// A cannot be deactivated while B is active.
	err := m.Deactivate(a.ID, false)
	if !IsKind(err, KindHasActiveDependents) {
		t.Fatalf("expected KindHasActiveDependents, got %v", err)
	}

	// B, then A, both deactivate cleanly.
	if err := m.Deactivate(b.ID, false); err != nil {
		t.Fatalf("Deactivate B: %v", err)
	}
	if err := m.Deactivate(a.ID, false); err != nil {
		t.Fatalf("Deactivate A: %v", err)
	}
	if statusOf(t, m, a.ID) != StatusInactive || statusOf(t, m, b.ID) != StatusInactive {
		t.Error("expected both inactive")
	}
}

func TestForceDeactivateOverridesDependents(t *testing.T) {
	m := newTestManager(t)
	a := mustInstall(t, m, testManifest("plugin-a", "1.0.0"))

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Dependencies = map[string]Dependency{"plugin-a": {}}
	b := mustInstall(t, m, bManifest)

	if err := m.Activate(b.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := m.Deactivate(a.ID, true); err != nil {
		t.Fatalf("forced Deactivate: %v", err)
	}
	if statusOf(t, m, a.ID) != StatusInactive {
		t.Errorf("expected inactive, got %s", statusOf(t, m, a.ID))
	}
}

func TestActivateIdempotent(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))

	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	first, _ := m.Get(inst.ID)

	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	second, _ := m.Get(inst.ID)

	if second.ExecutionCount != first.ExecutionCount {
		t.Errorf("second activate changed execution count: %d -> %d",
			first.ExecutionCount, second.ExecutionCount)
	}
}

func TestActivationFailureRecordsFault(t *testing.T) {
	m := newTestManager(t)
	manifest := testManifest("broken", "1.0.0")
	manifest.Entry.Source = `function activate() error("refusing to start") end`
	inst := mustInstall(t, m, manifest)

	err := m.Activate(inst.ID)
	if err == nil {
		t.Fatal("expected activation failure")
	}
	got, _ := m.Get(inst.ID)
	if got.Status != StatusError {
		t.Errorf("expected error status, got %s", got.Status)
	}
	if got.LastFault == nil || got.LastFault.Operation != "activate" {
		t.Errorf("expected activate fault, got %+v", got.LastFault)
	}
}

func TestPartialChainLeftActive(t *testing.T) {
	// When a later link in the chain fails, previously activated
	// dependencies stay active. No automatic rollback.
	m := newTestManager(t)
	a := mustInstall(t, m, testManifest("plugin-a", "1.0.0"))

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Entry.Source = `function activate() error("boom") end`
	bManifest.Dependencies = map[string]Dependency{"plugin-a": {}}
	b := mustInstall(t, m, bManifest)

	if err := m.Activate(b.ID); err == nil {
		t.Fatal("expected activation failure")
	}
	if statusOf(t, m, a.ID) != StatusActive {
		t.Errorf("dependency should remain active, got %s", statusOf(t, m, a.ID))
	}
	if statusOf(t, m, b.ID) != StatusError {
		t.Errorf("expected error status for b, got %s", statusOf(t, m, b.ID))
	}
}

func TestCircularDependencyRejected(t *testing.T) {
	m := newTestManager(t)
	mustInstall(t, m, testManifest("plugin-a", "1.0.0"))

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Dependencies = map[string]Dependency{"plugin-a": {}}
	mustInstall(t, m, bManifest)

	// Updating A to depend on B would close the loop.
	updated := testManifest("plugin-a", "1.1.0")
	updated.Dependencies = map[string]Dependency{"plugin-b": {}}

	aInst, err := m.GetBySlug("plugin-a", "tenant-1")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	err = m.Update(aInst.ID, updated)
	if !IsKind(err, KindCircularDependency) {
		t.Fatalf("expected KindCircularDependency, got %v", err)
	}

	// The failed update reverted the manifest and left the graph usable.
	got, _ := m.Get(aInst.ID)
	if got.Version() != "1.0.0" {
		t.Errorf("expected manifest revert to 1.0.0, got %s", got.Version())
	}
}

func TestUninstall(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := m.Uninstall(inst.ID, false); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := m.Get(inst.ID); !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound after uninstall, got %v", err)
	}

	// No soft-deleted record: the slug is free for reinstallation.
	if _, err := m.Install(testManifest("alpha", "2.0.0"), "tenant-1"); err != nil {
		t.Fatalf("reinstall after uninstall: %v", err)
	}
}

func TestUninstallWithDependents(t *testing.T) {
	m := newTestManager(t)
	a := mustInstall(t, m, testManifest("plugin-a", "1.0.0"))

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Dependencies = map[string]Dependency{"plugin-a": {}}
	mustInstall(t, m, bManifest)

	err := m.Uninstall(a.ID, false)
	if !IsKind(err, KindHasDependents) {
		t.Fatalf("expected KindHasDependents, got %v", err)
	}
	if err := m.Uninstall(a.ID, true); err != nil {
		t.Fatalf("forced Uninstall: %v", err)
	}
}

func TestUpdateRunsMigrationAndReactivates(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	migrated := false
	m.RegisterMigration("alpha", "1.0.0", "2.0.0", func(_ *Instance, from, to string) error {
		migrated = from == "1.0.0" && to == "2.0.0"
		return nil
	})

	if err := m.Update(inst.ID, testManifest("alpha", "2.0.0")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !migrated {
		t.Error("migration hook did not run")
	}
	got, _ := m.Get(inst.ID)
	if got.Version() != "2.0.0" {
		t.Errorf("expected version 2.0.0, got %s", got.Version())
	}
	if got.Status != StatusActive {
		t.Errorf("expected reactivation, got %s", got.Status)
	}
}

func TestUpdateInactiveStaysInactive(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))

	if err := m.Update(inst.ID, testManifest("alpha", "1.1.0")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if statusOf(t, m, inst.ID) != StatusInactive {
		t.Errorf("expected inactive after update, got %s", statusOf(t, m, inst.ID))
	}
}

func TestExecuteExportedFunction(t *testing.T) {
	m := newTestManager(t)
	manifest := testManifest("mathy", "1.0.0")
	manifest.Entry.Source = `
function activate() end
function double(n) return n * 2 end
`
	inst := mustInstall(t, m, manifest)
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	before, _ := m.Get(inst.ID)

	results, err := m.Execute(context.Background(), inst.ID, "double", 21)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 || results[0] != float64(42) {
		t.Errorf("expected 42, got %v", results)
	}

	after, _ := m.Get(inst.ID)
	if after.ExecutionCount != before.ExecutionCount+1 {
		t.Errorf("execution count not incremented: %d -> %d",
			before.ExecutionCount, after.ExecutionCount)
	}
}

func TestExecuteInactivePluginFails(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))
	if _, err := m.Execute(context.Background(), inst.ID, "anything"); err == nil {
		t.Fatal("expected error executing inactive plugin")
	}
}

func TestConcurrentLifecycleOperations(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))

	// Hammer the queue from many goroutines. Operations are serialized,
	// so every call must return cleanly and the final status must be one
	// of the two legal outcomes.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Activate(inst.ID)
		}()
		go func() {
			defer wg.Done()
			_ = m.Deactivate(inst.ID, false)
		}()
	}
	wg.Wait()

	final := statusOf(t, m, inst.ID)
	if final != StatusActive && final != StatusInactive {
		t.Errorf("unexpected final status %s", final)
	}

	// The manager is still fully usable.
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate after churn: %v", err)
	}
	if statusOf(t, m, inst.ID) != StatusActive {
		t.Error("expected active after final activate")
	}
}

func TestLifecycleEventsEmitted(t *testing.T) {
	bus := event.NewBus()
	m, err := NewManager(Options{Bus: bus})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)

	var mu sync.Mutex
	var topics []string
	bus.Subscribe("plugin:*", func(evt event.Event) {
		mu.Lock()
		topics = append(topics, evt.Topic)
		mu.Unlock()
	})

	inst, err := m.Install(testManifest("alpha", "1.0.0"), "tenant-1")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := m.Deactivate(inst.ID, false); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := m.Uninstall(inst.ID, false); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	want := []string{TopicInstalled, TopicActivated, TopicDeactivated, TopicUninstalled}
	mu.Lock()
	defer mu.Unlock()
	if len(topics) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), topics)
	}
	for i, topic := range want {
		if topics[i] != topic {
			t.Errorf("event %d: expected %s, got %s", i, topic, topics[i])
		}
	}
}

type fakeStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*Instance)}
}

func (s *fakeStore) SaveInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst.Snapshot()
	return nil
}

func (s *fakeStore) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	return nil
}

func (s *fakeStore) LoadInstances() ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Instance
	for _, inst := range s.instances {
		result = append(result, inst.Snapshot())
	}
	return result, nil
}

func TestRestoreRebuildsRegistry(t *testing.T) {
	store := newFakeStore()

	m1, err := NewManager(Options{Store: store})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	a, err := m1.Install(testManifest("plugin-a", "1.0.0"), "tenant-1")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	bManifest := testManifest("plugin-b", "1.0.0")
	bManifest.Dependencies = map[string]Dependency{"plugin-a": {}}
	b, err := m1.Install(bManifest, "tenant-1")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := m1.Activate(b.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	m1.Close()

	m2, err := NewManager(Options{Store: store})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m2.Close)

	if err := m2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Previously active instances come back inactive, with edges rebuilt.
	if statusOf(t, m2, b.ID) != StatusInactive {
		t.Errorf("expected inactive after restore, got %s", statusOf(t, m2, b.ID))
	}
	if err := m2.Deactivate(a.ID, false); err != nil {
		t.Fatalf("Deactivate restored A: %v", err)
	}
	if err := m2.Activate(b.ID); err != nil {
		t.Fatalf("Activate restored B: %v", err)
	}
	if statusOf(t, m2, a.ID) != StatusActive {
		t.Error("restored dependency edge not honored")
	}
}

func TestHealthSnapshot(t *testing.T) {
	m := newTestManager(t)
	inst := mustInstall(t, m, testManifest("alpha", "1.0.0"))
	if err := m.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	h, err := m.HealthOf(inst.ID)
	if err != nil {
		t.Fatalf("HealthOf: %v", err)
	}
	if h.Status != "active" {
		t.Errorf("expected active, got %s", h.Status)
	}
	if h.ExecutionCount != 1 {
		t.Errorf("expected 1 execution, got %d", h.ExecutionCount)
	}
	if h.CapabilityRisk != "low" {
		t.Errorf("expected low capability risk, got %s", h.CapabilityRisk)
	}

	risky := testManifest("beta", "1.0.0")
	risky.Capabilities = []security.Capability{security.CapabilityNetwork}
	instB := mustInstall(t, m, risky)
	hb, err := m.HealthOf(instB.ID)
	if err != nil {
		t.Fatalf("HealthOf: %v", err)
	}
	if hb.CapabilityRisk != "high" {
		t.Errorf("expected high capability risk, got %s", hb.CapabilityRisk)
	}
}

func TestListFilters(t *testing.T) {
	m := newTestManager(t)
	a := testManifest("alpha", "1.0.0")
	a.Category = "audit"
	instA := mustInstall(t, m, a)

	b := testManifest("beta", "1.0.0")
	b.Category = "metrics"
	mustInstall(t, m, b)

	if err := m.Activate(instA.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	active := StatusActive
	got := m.List(Filter{Status: &active})
	if len(got) != 1 || got[0].Slug() != "alpha" {
		t.Errorf("status filter: expected [alpha], got %v", slugsOf(got))
	}
	got = m.List(Filter{Category: "metrics"})
	if len(got) != 1 || got[0].Slug() != "beta" {
		t.Errorf("category filter: expected [beta], got %v", slugsOf(got))
	}
	if got := m.List(Filter{Tenant: "tenant-1"}); len(got) != 2 {
		t.Errorf("tenant filter: expected 2, got %d", len(got))
	}
}

func slugsOf(instances []*Instance) []string {
	slugs := make([]string, len(instances))
	for i, inst := range instances {
		slugs[i] = inst.Slug()
	}
	return slugs
}

func TestErrorKindMatching(t *testing.T) {
	err := newError(KindNotFound, "nope")
	if !errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Error("errors.Is should match same kind")
	}
	if errors.Is(err, &Error{Kind: KindHasDependents}) {
		t.Error("errors.Is should not match different kind")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf: got %s", KindOf(err))
	}
}
