// Package plugin implements the plugin runtime core: manifest validation,
// dependency resolution with cycle prevention, and the lifecycle manager
// that serializes install, activate, deactivate, update and uninstall
// operations through a single FIFO queue.
//
// The Manager is the sole writer of plugin instances. Other components see
// read-only snapshots or act through it. Plugin code itself runs inside the
// sandbox package's execution contexts.
package plugin
