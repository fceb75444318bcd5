package plugin

import (
	"time"
)

// Status is the lifecycle state of a plugin instance.
type Status int

const (
	StatusInstalled Status = iota
	StatusActivating
	StatusActive
	StatusDeactivating
	StatusInactive
	StatusUpdating
	StatusError
	StatusUninstalled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	case StatusDeactivating:
		return "deactivating"
	case StatusInactive:
		return "inactive"
	case StatusUpdating:
		return "updating"
	case StatusError:
		return "error"
	case StatusUninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status name back to a Status.
func ParseStatus(s string) (Status, bool) {
	for st := StatusInstalled; st <= StatusUninstalled; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StatusError, false
}

// FaultRecord captures the most recent failure attached to an instance.
// It is cleared only by a successful subsequent operation of the same kind.
type FaultRecord struct {
	Code    Kind           `json:"code"`
	Message string         `json:"message"`
	Time    time.Time      `json:"time"`
	Context map[string]any `json:"context,omitempty"`

	// Operation is the lifecycle operation that failed.
	Operation string `json:"operation,omitempty"`
}

// Instance is the mutable runtime record for one installed plugin. The
// Manager is its sole writer; everyone else receives snapshots.
type Instance struct {
	ID       string         `json:"id"`
	Tenant   string         `json:"tenant"`
	Manifest *Manifest      `json:"manifest"`
	Status   Status         `json:"-"`
	Config   map[string]any `json:"config,omitempty"`

	ExecutionCount int64        `json:"execution_count"`
	LastActivated  time.Time    `json:"last_activated,omitempty"`
	InstalledAt    time.Time    `json:"installed_at"`
	LastFault      *FaultRecord `json:"last_fault,omitempty"`
}

// Slug is a convenience accessor for the manifest slug.
func (i *Instance) Slug() string {
	if i.Manifest == nil {
		return ""
	}
	return i.Manifest.Slug
}

// Version is a convenience accessor for the manifest version.
func (i *Instance) Version() string {
	if i.Manifest == nil {
		return ""
	}
	return i.Manifest.Version
}

// Snapshot returns a deep copy safe to hand outside the Manager.
func (i *Instance) Snapshot() *Instance {
	clone := *i
	if i.Manifest != nil {
		clone.Manifest = i.Manifest.Clone()
	}
	if i.Config != nil {
		clone.Config = make(map[string]any, len(i.Config))
		for k, v := range i.Config {
			clone.Config[k] = v
		}
	}
	if i.LastFault != nil {
		fault := *i.LastFault
		if i.LastFault.Context != nil {
			fault.Context = make(map[string]any, len(i.LastFault.Context))
			for k, v := range i.LastFault.Context {
				fault.Context[k] = v
			}
		}
		clone.LastFault = &fault
	}
	return &clone
}

// recordFault attaches a fault record for a failed operation.
func (i *Instance) recordFault(op string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindExecutionFailed
	}
	i.LastFault = &FaultRecord{
		Code:      kind,
		Message:   err.Error(),
		Time:      time.Now(),
		Operation: op,
		Context: map[string]any{
			"slug":    i.Slug(),
			"version": i.Version(),
		},
	}
}
