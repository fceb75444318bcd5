package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/plugsmith/plugsmith/internal/plugin/sandbox"
	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// Manifest describes a plugin's identity, requirements and sandbox policy.
// It is supplied by the installer and treated as immutable after install.
type Manifest struct {
	// Identity
	Name    string `json:"name"`    // Human-readable name
	Slug    string `json:"slug"`    // Unique identifier (e.g. "audit-log")
	Version string `json:"version"` // Dotted numeric version (e.g. "1.2.0")

	// Descriptive metadata
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Dependencies maps a dependency slug to its requirement.
	Dependencies map[string]Dependency `json:"dependencies,omitempty"`

	// Capabilities the plugin requests.
	Capabilities []security.Capability `json:"capabilities,omitempty"`

	// Entry point
	Entry Entry `json:"entry"`

	// Sandbox policy (timeout, memory ceiling, module and domain limits).
	Policy sandbox.Policy `json:"policy,omitempty"`

	// Internal: directory the manifest was loaded from, when file-based.
	path string
}

// Dependency is one declared requirement on another plugin.
type Dependency struct {
	// Version is the minimum required version. Empty means any.
	Version string `json:"version,omitempty"`

	// Optional dependencies that are not installed are silently skipped.
	Optional bool `json:"optional,omitempty"`
}

// Entry locates the plugin's Lua entry point. Exactly one of Source or
// File must be set: inline source for registered plugins, a file path
// relative to the manifest directory for directory-based ones.
type Entry struct {
	Source string `json:"source,omitempty"`
	File   string `json:"file,omitempty"`
}

// ValidationResult is the outcome of manifest validation. Warnings do not
// block installation.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// slugPattern validates plugin slugs.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// versionPattern validates dotted numeric version strings with an optional
// prerelease suffix.
var versionPattern = regexp.MustCompile(`^\d+(\.\d+)*(-[a-zA-Z0-9.-]+)?$`)

// ValidateManifest checks the structural correctness of a manifest. It is a
// pure function: no state is read or mutated, and the same input always
// yields the same result.
func ValidateManifest(m *Manifest) ValidationResult {
	var result ValidationResult
	if m == nil {
		result.Errors = append(result.Errors, "manifest is required")
		return result
	}

	if m.Name == "" {
		result.Errors = append(result.Errors, "name is required")
	}
	if m.Slug == "" {
		result.Errors = append(result.Errors, "slug is required")
	} else if !slugPattern.MatchString(m.Slug) {
		result.Errors = append(result.Errors, fmt.Sprintf("slug %q must contain only lowercase letters, digits and hyphens", m.Slug))
	}
	if m.Version == "" {
		result.Errors = append(result.Errors, "version is required")
	} else if !versionPattern.MatchString(m.Version) {
		result.Errors = append(result.Errors, fmt.Sprintf("version %q must be a dotted numeric sequence", m.Version))
	}

	if m.Entry.Source == "" && m.Entry.File == "" {
		result.Errors = append(result.Errors, "entry requires either source or file")
	} else if m.Entry.Source != "" && m.Entry.File != "" {
		result.Errors = append(result.Errors, "entry source and file are mutually exclusive")
	}
	if m.Entry.File != "" && filepath.Ext(m.Entry.File) != ".lua" {
		result.Errors = append(result.Errors, fmt.Sprintf("entry file %q must be a .lua file", m.Entry.File))
	}

	for _, cap := range m.Capabilities {
		if !security.IsValidCapability(cap) {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown capability %q", cap))
		}
	}

	for slug, dep := range m.Dependencies {
		if !slugPattern.MatchString(slug) {
			result.Errors = append(result.Errors, fmt.Sprintf("dependency slug %q is invalid", slug))
		}
		if dep.Version != "" && !versionPattern.MatchString(dep.Version) {
			result.Errors = append(result.Errors, fmt.Sprintf("dependency %q version %q is invalid", slug, dep.Version))
		}
		if slug == m.Slug {
			result.Errors = append(result.Errors, fmt.Sprintf("plugin %q cannot depend on itself", slug))
		}
	}

	if m.Description == "" {
		result.Warnings = append(result.Warnings, "description is empty")
	}
	if m.Author == "" {
		result.Warnings = append(result.Warnings, "author is empty")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// LoadManifest loads and validates a manifest from a JSON file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newError(KindInvalidManifest, "parse manifest: %v", err)
	}
	m.path = filepath.Dir(path)

	if result := ValidateManifest(&m); !result.Valid {
		return nil, newError(KindInvalidManifest, "%s: %v", m.Slug, result.Errors)
	}
	return &m, nil
}

// LoadManifestFromDir loads plugin.json from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, "plugin.json"))
}

// Path returns the directory the manifest was loaded from, or "" for
// manifests registered programmatically.
func (m *Manifest) Path() string {
	return m.path
}

// EntrySource returns the plugin's entry source, reading the entry file
// when the manifest is directory-based.
func (m *Manifest) EntrySource() (string, error) {
	if m.Entry.Source != "" {
		return m.Entry.Source, nil
	}
	if m.Entry.File == "" {
		return "", newError(KindInvalidManifest, "%s: no entry point declared", m.Slug)
	}
	data, err := os.ReadFile(filepath.Join(m.path, m.Entry.File))
	if err != nil {
		return "", fmt.Errorf("read entry for %s: %w", m.Slug, err)
	}
	return string(data), nil
}

// HasCapability returns true if the manifest requests the capability.
func (m *Manifest) HasCapability(cap security.Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns "name vVersion" for logs and events.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = m.Slug
	}
	return fmt.Sprintf("%s v%s", name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Tags != nil {
		clone.Tags = make([]string, len(m.Tags))
		copy(clone.Tags, m.Tags)
	}
	if m.Capabilities != nil {
		clone.Capabilities = make([]security.Capability, len(m.Capabilities))
		copy(clone.Capabilities, m.Capabilities)
	}
	if m.Dependencies != nil {
		clone.Dependencies = make(map[string]Dependency, len(m.Dependencies))
		for k, v := range m.Dependencies {
			clone.Dependencies[k] = v
		}
	}
	if m.Policy.AllowedModules != nil {
		clone.Policy.AllowedModules = append([]string(nil), m.Policy.AllowedModules...)
	}
	if m.Policy.BlockedModules != nil {
		clone.Policy.BlockedModules = append([]string(nil), m.Policy.BlockedModules...)
	}
	if m.Policy.AllowedDomains != nil {
		clone.Policy.AllowedDomains = append([]string(nil), m.Policy.AllowedDomains...)
	}
	return &clone
}
