package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/logger"
)

// Manager owns every index defined for one collection and keeps their
// sidecar files in a shared directory, one file per index named
// "<collection>.<index>.idx".
type Manager struct {
	mu      sync.RWMutex
	dir     string
	coll    string
	indexes map[string]*Index
	logger  *logger.Logger
}

// NewManager returns an index manager rooted at dir for the named
// collection. dir is created by the caller (the storage layout owns
// directory creation).
func NewManager(dir, collection string, log *logger.Logger) *Manager {
	return &Manager{
		dir:     dir,
		coll:    collection,
		indexes: make(map[string]*Index),
		logger:  log,
	}
}

func (m *Manager) sidecarPath(name string) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s.%s.idx", m.coll, name))
}

// Create registers a new index, rebuilding it from the supplied document
// set (the collection's current live-version map) rather than starting
// empty, so CreateIndex on a populated collection works the same as one
// declared up front.
func (m *Manager) Create(name string, fields []string, unique bool, docs map[uint64]map[string]interface{}) (*Index, error) {
	m.mu.Lock()
	if _, exists := m.indexes[name]; exists {
		m.mu.Unlock()
		return nil, ironerr.Wrap(ironerr.CodeIndexError, fmt.Errorf("index %q already exists", name))
	}
	idx := New(name, fields, unique)
	m.indexes[name] = idx
	m.mu.Unlock()

	if err := idx.RebuildFromScan(docs); err != nil {
		m.mu.Lock()
		delete(m.indexes, name)
		m.mu.Unlock()
		return nil, err
	}
	return idx, nil
}

// Drop removes an index and its sidecar.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		return ironerr.Wrap(ironerr.CodeIndexError, fmt.Errorf("index %q not found", name))
	}
	delete(m.indexes, name)
	return removeSidecarBestEffort(m.sidecarPath(name))
}

// Get returns the named index, or nil if it doesn't exist.
func (m *Manager) Get(name string) *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexes[name]
}

// All returns every index currently registered, in no particular order.
func (m *Manager) All() []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		out = append(out, idx)
	}
	return out
}

// ForField returns an index whose field list is exactly fields, used by
// tests and callers that need an exact (not prefix) match.
func (m *Manager) ForField(fields []string) *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, idx := range m.indexes {
		if sameFields(idx.Fields, fields) {
			return idx
		}
	}
	return nil
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// InsertAll adds id/doc to every registered index, rolling back on the
// first unique-constraint violation so a failed insert never leaves some
// indexes updated and others not (insert is all indexes
// or none).
func (m *Manager) InsertAll(doc map[string]interface{}, id uint64) error {
	m.mu.RLock()
	indexes := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		indexes = append(indexes, idx)
	}
	m.mu.RUnlock()

	applied := make([]*Index, 0, len(indexes))
	for _, idx := range indexes {
		if err := idx.Insert(doc, id); err != nil {
			for _, done := range applied {
				done.Remove(id)
			}
			return err
		}
		applied = append(applied, idx)
	}
	return nil
}

// RemoveAll removes id from every registered index.
func (m *Manager) RemoveAll(id uint64) {
	for _, idx := range m.All() {
		idx.Remove(id)
	}
}

// ReindexAll updates id's position in every registered index to match
// its new document value. It stops at the first unique violation and
// returns it without rolling back: indexes already reindexed keep the new
// key, indexes not yet reached keep the old one, and the index that
// failed no longer holds an entry for id.
func (m *Manager) ReindexAll(doc map[string]interface{}, id uint64) error {
	m.mu.RLock()
	indexes := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		indexes = append(indexes, idx)
	}
	m.mu.RUnlock()

	for i, idx := range indexes {
		if err := idx.Reindex(doc, id); err != nil {
			// No unwind: indexes already reindexed keep their new key.
			// Collection.Apply calls this after the updated document has
			// been appended to the storage log, and only logs the error.
			_ = i
			return err
		}
	}
	return nil
}

// SaveAll persists every index to its sidecar file, logging (but not
// failing the caller on) any individual write error — sidecars are a
// cache, rebuildable from a full scan.
func (m *Manager) SaveAll() {
	for name, idx := range m.snapshot() {
		if err := idx.SaveSidecar(m.sidecarPath(name)); err != nil {
			m.logger.Warn("index: failed to persist sidecar for %q: %v", name, err)
		}
	}
}

func (m *Manager) snapshot() map[string]*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Index, len(m.indexes))
	for k, v := range m.indexes {
		out[k] = v
	}
	return out
}

// LoadOrRebuild restores the named index from its sidecar, falling
// back to a full scan of docs when the sidecar is absent or unreadable
// ("on open: load sidecar metadata; on any validation failure
// of a sidecar, transparently fall back to the scan-based rebuild").
func (m *Manager) LoadOrRebuild(name string, fields []string, unique bool, docs map[uint64]map[string]interface{}) (*Index, error) {
	idx, err := LoadSidecar(m.sidecarPath(name))
	if err != nil || !sameFields(idx.Fields, fields) || idx.Unique != unique {
		if err != nil {
			m.logger.Info("index: no usable sidecar for %q (%v), rebuilding from scan", name, err)
		} else {
			m.logger.Warn("index: sidecar for %q has mismatched definition, rebuilding from scan", name)
		}
		idx = New(name, fields, unique)
		if rebuildErr := idx.RebuildFromScan(docs); rebuildErr != nil {
			return nil, rebuildErr
		}
	}

	m.mu.Lock()
	m.indexes[name] = idx
	m.mu.Unlock()
	return idx, nil
}

func removeSidecarBestEffort(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return nil
}
