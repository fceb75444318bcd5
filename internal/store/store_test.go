package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/plugsmith/plugsmith/internal/plugin"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "plugins.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedInstance(id, slug string) *plugin.Instance {
	return &plugin.Instance{
		ID:     id,
		Tenant: "tenant-1",
		Manifest: &plugin.Manifest{
			Name:    slug,
			Slug:    slug,
			Version: "1.0.0",
			Entry:   plugin.Entry{Source: "function activate() end"},
		},
		Status:      plugin.StatusInstalled,
		Config:      map[string]any{"interval": float64(30)},
		InstalledAt: time.Now().Truncate(time.Second),
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	inst := storedInstance("id-1", "audit-log")
	inst.Status = plugin.StatusActive
	inst.ExecutionCount = 7
	inst.LastActivated = time.Now().Truncate(time.Second)
	inst.LastFault = &plugin.FaultRecord{
		Code:      plugin.KindExecutionTimeout,
		Message:   "execution timeout after 5s",
		Time:      time.Now().Truncate(time.Second),
		Operation: "execute",
	}

	if err := s.SaveInstance(inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	loaded, err := s.LoadInstances()
	if err != nil {
		t.Fatalf("LoadInstances: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(loaded))
	}

	got := loaded[0]
	if got.ID != "id-1" || got.Slug() != "audit-log" || got.Version() != "1.0.0" {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Status != plugin.StatusActive {
		t.Errorf("expected active, got %s", got.Status)
	}
	if got.ExecutionCount != 7 {
		t.Errorf("expected execution count 7, got %d", got.ExecutionCount)
	}
	if got.Config["interval"] != float64(30) {
		t.Errorf("config lost: %v", got.Config)
	}
	if got.LastFault == nil || got.LastFault.Code != plugin.KindExecutionTimeout {
		t.Errorf("fault lost: %+v", got.LastFault)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	s := openTestStore(t)

	inst := storedInstance("id-1", "audit-log")
	if err := s.SaveInstance(inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	inst.Status = plugin.StatusInactive
	inst.ExecutionCount = 3
	if err := s.SaveInstance(inst); err != nil {
		t.Fatalf("second SaveInstance: %v", err)
	}

	loaded, err := s.LoadInstances()
	if err != nil {
		t.Fatalf("LoadInstances: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("upsert created a duplicate: %d rows", len(loaded))
	}
	if loaded[0].Status != plugin.StatusInactive || loaded[0].ExecutionCount != 3 {
		t.Errorf("update not applied: %+v", loaded[0])
	}
}

func TestDeleteInstance(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveInstance(storedInstance("id-1", "a")); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := s.SaveInstance(storedInstance("id-2", "b")); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	if err := s.DeleteInstance("id-1"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	// Unknown IDs are not an error.
	if err := s.DeleteInstance("id-unknown"); err != nil {
		t.Fatalf("DeleteInstance unknown: %v", err)
	}

	loaded, err := s.LoadInstances()
	if err != nil {
		t.Fatalf("LoadInstances: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "id-2" {
		t.Errorf("expected only id-2, got %+v", loaded)
	}
}

func TestManagerPersistenceIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m1, err := plugin.NewManager(plugin.Options{Store: s})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	inst, err := m1.Install(&plugin.Manifest{
		Name:    "greeter",
		Slug:    "greeter",
		Version: "1.0.0",
		Author:  "tests",
		Entry:   plugin.Entry{Source: "function activate() end"},
	}, "tenant-1")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := m1.Activate(inst.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	m1.Close()
	_ = s.Close()

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })

	m2, err := plugin.NewManager(plugin.Options{Store: s2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m2.Close)
	if err := m2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := m2.Get(inst.ID)
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if got.Slug() != "greeter" {
		t.Errorf("unexpected slug %s", got.Slug())
	}
	if got.Status != plugin.StatusInactive {
		t.Errorf("restored status should be inactive, got %s", got.Status)
	}
}
