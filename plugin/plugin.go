// Package plugin discovers and loads kernel plugins: a plugin is any shared object conforming to the registry ABI —
// an entry point that registers functions by name, plus a version number.
// Discovery scans a directory; loading goes through Go's stdlib plugin
// machinery, so no runtime reflection beyond symbol lookup is involved.
// Loaded plugins may override built-in kernels.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/sbl8/harmonics/internal/hlog"
	"github.com/sbl8/harmonics/kernel/registry"
)

// EntrySymbol is the exported registration hook every plugin must carry:
//
//	func HarmonicsRegister(r *registry.Registry) error
//
// VersionSymbol is the exported ABI version the loader checks:
//
//	var HarmonicsVersion uint32
const (
	EntrySymbol   = "HarmonicsRegister"
	VersionSymbol = "HarmonicsVersion"

	// ABIVersion is the registry ABI this loader understands.
	ABIVersion uint32 = 1
)

// Info records one loaded plugin.
type Info struct {
	Path    string
	Version uint32
}

// Table is the process-wide record of loaded plugins, guarded for writes
// like the kernel registry.
type Table struct {
	mu     sync.Mutex
	loaded []Info
}

// NewTable creates an empty plugin table.
func NewTable() *Table { return &Table{} }

// Loaded returns a snapshot of the plugins loaded so far.
func (t *Table) Loaded() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Info(nil), t.loaded...)
}

// Load opens one plugin file, checks its ABI version, and invokes its
// registration entry point against r.
func (t *Table) Load(path string, r *registry.Registry) (Info, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("plugin %s: %w", path, err)
	}

	vsym, err := p.Lookup(VersionSymbol)
	if err != nil {
		return Info{}, fmt.Errorf("plugin %s: missing %s: %w", path, VersionSymbol, err)
	}
	version, ok := vsym.(*uint32)
	if !ok {
		return Info{}, fmt.Errorf("plugin %s: %s is %T, want *uint32", path, VersionSymbol, vsym)
	}
	if *version != ABIVersion {
		return Info{}, fmt.Errorf("plugin %s: ABI version %d, loader speaks %d", path, *version, ABIVersion)
	}

	esym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return Info{}, fmt.Errorf("plugin %s: missing %s: %w", path, EntrySymbol, err)
	}
	entry, ok := esym.(func(*registry.Registry) error)
	if !ok {
		return Info{}, fmt.Errorf("plugin %s: %s has wrong signature", path, EntrySymbol)
	}
	if err := entry(r); err != nil {
		return Info{}, fmt.Errorf("plugin %s: register: %w", path, err)
	}

	info := Info{Path: path, Version: *version}
	t.mu.Lock()
	t.loaded = append(t.loaded, info)
	t.mu.Unlock()
	hlog.For("plugin").WithField("path", path).WithField("version", *version).Info("plugin loaded")
	return info, nil
}

// Scan loads every .so under dir (non-recursive), skipping files that fail
// to load but reporting the first error encountered after the scan
// completes.
func (t *Table) Scan(dir string, r *registry.Registry) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		info, err := t.Load(filepath.Join(dir, e.Name()), r)
		if err != nil {
			hlog.For("plugin").WithError(err).Warn("plugin skipped")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		infos = append(infos, info)
	}
	return infos, firstErr
}
