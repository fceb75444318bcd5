// Package main is the entry point for the plugsmith plugin host.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/plugsmith/plugsmith/internal/config"
	"github.com/plugsmith/plugsmith/internal/plugin"
	"github.com/plugsmith/plugsmith/internal/store"
	"github.com/plugsmith/plugsmith/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "plugsmith.yaml", "path to host configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("plugsmith %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log)
	logger.WithFields(logrus.Fields{
		"version": version,
		"tenant":  cfg.Tenant,
	}).Info("plugsmith starting")

	db, err := store.Open(filepath.Join(cfg.DataDir, "plugins.db"), logger)
	if err != nil {
		logger.WithError(err).Error("open plugin store")
		return 1
	}
	defer db.Close()

	manager, err := plugin.NewManager(plugin.Options{
		Store:          db,
		Logger:         logger,
		ChunkCacheSize: cfg.Defaults.ChunkCacheSize,
		QueueDepth:     cfg.Defaults.QueueDepth,
	})
	if err != nil {
		logger.WithError(err).Error("create plugin manager")
		return 1
	}
	defer manager.Close()

	if err := manager.Restore(); err != nil {
		logger.WithError(err).Error("restore plugin registry")
		return 1
	}

	for _, dir := range cfg.PluginDirs {
		installed, err := plugin.InstallDiscovered(manager, dir, cfg.Tenant, logger)
		if err != nil {
			logger.WithError(err).WithField("dir", dir).Warn("plugin discovery failed")
			continue
		}
		logger.WithFields(logrus.Fields{
			"dir":   dir,
			"count": len(installed),
		}).Info("plugins discovered")
	}

	if cfg.AutoActivate {
		for _, inst := range manager.List(plugin.Filter{Tenant: cfg.Tenant}) {
			if inst.Status == plugin.StatusError {
				continue
			}
			if err := manager.Activate(inst.ID); err != nil {
				logger.WithError(err).WithField("slug", inst.Slug()).Warn("plugin activation failed")
			}
		}
	}

	var watcher *watch.Watcher
	if cfg.Watch {
		watcher, err = watch.New(cfg.PluginDirs, logger)
		if err != nil {
			logger.WithError(err).Warn("plugin watch disabled")
		} else {
			defer watcher.Close()
			go reloadLoop(manager, watcher, cfg.Tenant, logger)
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.WithField("signal", sig.String()).Info("shutting down")
	return 0
}

// reloadLoop applies debounced manifest changes: updated manifests are
// re-installed or updated in place, removed manifests uninstall the plugin.
func reloadLoop(manager *plugin.Manager, watcher *watch.Watcher, tenant string, logger *logrus.Entry) {
	for change := range watcher.Changes() {
		slug := filepath.Base(change.Dir)
		log := logger.WithField("slug", slug)

		switch change.Kind {
		case watch.ChangeRemoved:
			inst, err := manager.GetBySlug(slug, tenant)
			if err != nil {
				continue
			}
			if err := manager.Uninstall(inst.ID, true); err != nil {
				log.WithError(err).Warn("hot uninstall failed")
			} else {
				log.Info("plugin removed from disk, uninstalled")
			}

		case watch.ChangeUpdated:
			manifest, err := plugin.LoadManifestFromDir(change.Dir)
			if err != nil {
				log.WithError(err).Warn("changed manifest invalid, ignoring")
				continue
			}
			inst, err := manager.GetBySlug(manifest.Slug, tenant)
			if err != nil {
				if _, ierr := manager.Install(manifest, tenant); ierr != nil {
					log.WithError(ierr).Warn("hot install failed")
				} else {
					log.Info("new plugin installed from disk")
				}
				continue
			}
			if err := manager.Update(inst.ID, manifest); err != nil {
				log.WithError(err).Warn("hot update failed")
			} else {
				log.WithField("version", manifest.Version).Info("plugin updated from disk")
			}
		}
	}
}

func newLogger(cfg config.LogConfig) *logrus.Entry {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(logger)
}
