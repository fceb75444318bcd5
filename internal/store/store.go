// Package store persists plugin instances in SQLite. One row per installed
// plugin captures manifest, status, configuration and the last fault,
// enough to rebuild the in-memory registry on restart.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/plugsmith/plugsmith/internal/plugin"
)

// SQLite wraps the database connection and implements plugin.Store.
type SQLite struct {
	db     *sql.DB
	logger *logrus.Entry
}

const schema = `
CREATE TABLE IF NOT EXISTS plugin_instances (
	id              TEXT PRIMARY KEY,
	tenant          TEXT NOT NULL,
	slug            TEXT NOT NULL,
	status          TEXT NOT NULL,
	manifest        TEXT NOT NULL,
	config          TEXT NOT NULL DEFAULT '{}',
	execution_count INTEGER NOT NULL DEFAULT 0,
	installed_at    TIMESTAMP,
	last_activated  TIMESTAMP,
	fault           TEXT,
	UNIQUE (tenant, slug)
);
CREATE INDEX IF NOT EXISTS idx_plugin_instances_tenant ON plugin_instances (tenant);
`

// Open opens (creating if needed) the plugin database at path.
func Open(path string, logger *logrus.Entry) (*SQLite, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLite{db: db, logger: logger.WithField("component", "plugin-store")}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveInstance upserts the full persisted record of an instance.
func (s *SQLite) SaveInstance(inst *plugin.Instance) error {
	manifestJSON, err := json.Marshal(inst.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest for %s: %w", inst.Slug(), err)
	}
	configJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("marshal config for %s: %w", inst.Slug(), err)
	}
	var faultJSON sql.NullString
	if inst.LastFault != nil {
		data, err := json.Marshal(inst.LastFault)
		if err != nil {
			return fmt.Errorf("marshal fault for %s: %w", inst.Slug(), err)
		}
		faultJSON = sql.NullString{String: string(data), Valid: true}
	}

	var lastActivated sql.NullTime
	if !inst.LastActivated.IsZero() {
		lastActivated = sql.NullTime{Time: inst.LastActivated, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO plugin_instances
			(id, tenant, slug, status, manifest, config, execution_count, installed_at, last_activated, fault)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			manifest = excluded.manifest,
			config = excluded.config,
			execution_count = excluded.execution_count,
			last_activated = excluded.last_activated,
			fault = excluded.fault`,
		inst.ID, inst.Tenant, inst.Slug(), inst.Status.String(),
		string(manifestJSON), string(configJSON), inst.ExecutionCount,
		inst.InstalledAt, lastActivated, faultJSON,
	)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.Slug(), err)
	}
	return nil
}

// DeleteInstance removes a persisted instance entirely. Deleting an
// unknown ID is not an error.
func (s *SQLite) DeleteInstance(id string) error {
	if _, err := s.db.Exec(`DELETE FROM plugin_instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

// LoadInstances returns every persisted instance. Rows that fail to decode
// are logged and skipped so one corrupt record cannot block a restart.
func (s *SQLite) LoadInstances() ([]*plugin.Instance, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant, status, manifest, config, execution_count, installed_at, last_activated, fault
		FROM plugin_instances ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var instances []*plugin.Instance
	for rows.Next() {
		var (
			inst          plugin.Instance
			status        string
			manifestJSON  string
			configJSON    string
			installedAt   sql.NullTime
			lastActivated sql.NullTime
			faultJSON     sql.NullString
		)
		if err := rows.Scan(&inst.ID, &inst.Tenant, &status, &manifestJSON, &configJSON,
			&inst.ExecutionCount, &installedAt, &lastActivated, &faultJSON); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}

		var manifest plugin.Manifest
		if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
			s.logger.WithError(err).WithField("id", inst.ID).Warn("skipping instance with corrupt manifest")
			continue
		}
		inst.Manifest = &manifest

		if err := json.Unmarshal([]byte(configJSON), &inst.Config); err != nil {
			s.logger.WithError(err).WithField("id", inst.ID).Warn("resetting corrupt instance config")
			inst.Config = map[string]any{}
		}
		if faultJSON.Valid {
			var fault plugin.FaultRecord
			if err := json.Unmarshal([]byte(faultJSON.String), &fault); err == nil {
				inst.LastFault = &fault
			}
		}
		if st, ok := plugin.ParseStatus(status); ok {
			inst.Status = st
		} else {
			inst.Status = plugin.StatusError
		}
		if installedAt.Valid {
			inst.InstalledAt = installedAt.Time
		}
		if lastActivated.Valid {
			inst.LastActivated = lastActivated.Time
		}
		instances = append(instances, &inst)
	}
	return instances, rows.Err()
}
