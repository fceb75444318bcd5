package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// DiscoverManifests scans a directory for plugin subdirectories containing
// a plugin.json and loads each manifest. Invalid manifests are logged and
// skipped so one broken plugin does not hide the rest. Results are sorted
// by slug for deterministic install order.
func DiscoverManifests(dir string, logger *logrus.Entry) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin directory: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(pluginDir, "plugin.json")); err != nil {
			continue
		}
		m, err := LoadManifestFromDir(pluginDir)
		if err != nil {
			logger.WithError(err).WithField("dir", entry.Name()).Warn("skipping invalid plugin manifest")
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Slug < manifests[j].Slug
	})
	return manifests, nil
}

// InstallDiscovered installs every manifest found under dir for the given
// tenant, skipping ones already installed. It returns the installed
// instances; per-plugin failures are logged and do not stop the rest.
func InstallDiscovered(m *Manager, dir, tenant string, logger *logrus.Entry) ([]*Instance, error) {
	manifests, err := DiscoverManifests(dir, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	// Install in dependency order: keep passing over the remaining
	// manifests, installing those whose required dependencies are already
	// present. Anything left after a pass with no progress has a missing
	// or cyclic dependency and is attempted once more to surface the
	// resolver's error.
	var installed []*Instance
	remaining := manifests
	for len(remaining) > 0 {
		var deferred []*Manifest
		progress := false
		for _, manifest := range remaining {
			if !dependenciesPresent(m, manifest, tenant) {
				deferred = append(deferred, manifest)
				continue
			}
			progress = true
			inst, err := m.Install(manifest, tenant)
			if err != nil {
				if IsKind(err, KindAlreadyInstalled) {
					continue
				}
				logger.WithError(err).WithField("slug", manifest.Slug).Warn("plugin install failed")
				continue
			}
			installed = append(installed, inst)
		}
		if !progress {
			for _, manifest := range deferred {
				if _, err := m.Install(manifest, tenant); err != nil && !IsKind(err, KindAlreadyInstalled) {
					logger.WithError(err).WithField("slug", manifest.Slug).Warn("plugin install failed")
				}
			}
			break
		}
		remaining = deferred
	}
	return installed, nil
}

func dependenciesPresent(m *Manager, manifest *Manifest, tenant string) bool {
	for slug, dep := range manifest.Dependencies {
		if dep.Optional {
			continue
		}
		if _, err := m.GetBySlug(slug, tenant); err != nil {
			return false
		}
	}
	return true
}
