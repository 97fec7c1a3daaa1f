package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/btree"

	"github.com/petitan/ironbase/internal/ironerr"
)

// degree is the google/btree branching factor. 32 is the value the
// library's own benchmarks settle on for general-purpose use.
const degree = 32

// entry is one (key, document id) pair stored in the tree. Ties on Key
// are broken by ID ascending, so a non-unique index naturally yields its
// matching ids in insertion-independent, deterministic order.
type entry struct {
	Key Key
	ID  uint64
}

func (e entry) Less(than btree.Item) bool {
	other := than.(entry)
	if c := e.Key.Compare(other.Key); c != 0 {
		return c < 0
	}
	return e.ID < other.ID
}

// Index is one secondary index over a collection: an in-memory ordered
// tree keyed by one or more dot-paths. Single-field and
// compound indexes share this type; Fields has length 1 for the former.
type Index struct {
	mu     sync.RWMutex
	Name   string
	Fields []string
	Unique bool

	tree *btree.BTree
	// byID tracks the current key for each indexed document, so Remove
	// and reindex-on-update don't require the caller to keep the old key
	// around.
	byID map[uint64]Key
}

// New builds an empty index over fields.
func New(name string, fields []string, unique bool) *Index {
	return &Index{
		Name:   name,
		Fields: append([]string(nil), fields...),
		Unique: unique,
		tree:   btree.New(degree),
		byID:   make(map[uint64]Key),
	}
}

// Insert adds doc's id under the key extracted from doc, enforcing
// uniqueness when the index is unique ("a unique index
// rejects an insert whose key already maps to a different id").
func (idx *Index) Insert(doc map[string]interface{}, id uint64) error {
	key := ExtractKey(doc, idx.Fields)
	return idx.InsertKey(key, id)
}

// InsertKey adds id under an already-extracted key.
func (idx *Index) InsertKey(key Key, id uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.Unique {
		if existing := idx.firstAt(key); existing != nil && *existing != id {
			return ironerr.Wrap(ironerr.CodeUniqueViolation,
				fmt.Errorf("index %q: duplicate key %s", idx.Name, key.String()))
		}
	}

	idx.tree.ReplaceOrInsert(entry{Key: key, ID: id})
	idx.byID[id] = key
	return nil
}

// firstAt returns the id stored at key, if any, without locking (callers
// must hold idx.mu).
func (idx *Index) firstAt(key Key) *uint64 {
	var found *uint64
	pivot := entry{Key: key, ID: 0}
	idx.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		e := i.(entry)
		if e.Key.Compare(key) != 0 {
			return false
		}
		id := e.ID
		found = &id
		return false
	})
	return found
}

// Remove drops id's current entry, looked up via the last key it was
// inserted or reindexed under.
func (idx *Index) Remove(id uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id uint64) {
	key, ok := idx.byID[id]
	if !ok {
		return
	}
	idx.tree.Delete(entry{Key: key, ID: id})
	delete(idx.byID, id)
}

// Reindex replaces id's key, e.g. after an update changed an indexed
// field. No-op (but still re-extracts) if the key didn't actually move.
func (idx *Index) Reindex(doc map[string]interface{}, id uint64) error {
	newKey := ExtractKey(doc, idx.Fields)

	idx.mu.Lock()
	oldKey, had := idx.byID[id]
	if had && oldKey.Compare(newKey) == 0 {
		idx.mu.Unlock()
		return nil
	}
	if had {
		idx.tree.Delete(entry{Key: oldKey, ID: id})
		delete(idx.byID, id)
	}
	idx.mu.Unlock()

	return idx.InsertKey(newKey, id)
}

// Equals returns every document id whose key equals key, in id-ascending
// order (a point lookup).
func (idx *Index) Equals(key Key) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var ids []uint64
	pivot := entry{Key: key, ID: 0}
	idx.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		e := i.(entry)
		if e.Key.Compare(key) != 0 {
			return false
		}
		ids = append(ids, e.ID)
		return true
	})
	return ids
}

// Range describes a bounded scan. Either bound may be nil for an
// open-ended scan; Inclusive{Lo,Hi} control boundary membership.
type Range struct {
	Lo, Hi      Key
	InclusiveLo bool
	InclusiveHi bool
}

// Scan walks the index in ascending key order over r, calling fn with
// each (key, id) pair. Scan stops early if fn returns false (matching
// range scans back an IndexScan query plan).
func (idx *Index) Scan(r Range, fn func(key Key, id uint64) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	visit := func(i btree.Item) bool {
		e := i.(entry)
		if r.Hi != nil {
			c := e.Key.Compare(r.Hi)
			if c > 0 || (c == 0 && !r.InclusiveHi) {
				return false
			}
		}
		return fn(e.Key, e.ID)
	}

	if r.Lo == nil {
		idx.tree.Ascend(visit)
		return
	}
	if r.InclusiveLo {
		idx.tree.AscendGreaterOrEqual(entry{Key: r.Lo, ID: 0}, visit)
	} else {
		// Skip every entry equal to Lo by walking from Lo and filtering
		// the boundary ourselves, since google/btree has no exclusive
		// AscendGreaterThan primitive.
		idx.tree.AscendGreaterOrEqual(entry{Key: r.Lo, ID: 0}, func(i btree.Item) bool {
			e := i.(entry)
			if e.Key.Compare(r.Lo) == 0 {
				return true
			}
			return visit(i)
		})
	}
}

// Len returns the number of entries currently in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

// IDs returns every document id currently indexed, in no particular
// order, for diagnostics that compare the index against the live storage
// projection.
func (idx *Index) IDs() []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]uint64, 0, len(idx.byID))
	for id := range idx.byID {
		out = append(out, id)
	}
	return out
}

// sidecarEntry is the on-disk representation of one (key, ids) group,
// used to persist and reload an index without replaying the whole
// collection ("indexes may be persisted to a sidecar file and
// reloaded, or rebuilt from a full scan").
type sidecarEntry struct {
	Key Key      `json:"key"`
	IDs []uint64 `json:"ids"`
}

type sidecarFile struct {
	Name   string         `json:"name"`
	Fields []string       `json:"fields"`
	Unique bool           `json:"unique"`
	Groups []sidecarEntry `json:"groups"`
}

// SaveSidecar serializes the whole index, in ascending key order, to path.
func (idx *Index) SaveSidecar(path string) error {
	idx.mu.RLock()
	sc := sidecarFile{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique}
	var cur *sidecarEntry
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(entry)
		if cur != nil && cur.Key.Compare(e.Key) == 0 {
			cur.IDs = append(cur.IDs, e.ID)
			return true
		}
		if cur != nil {
			sc.Groups = append(sc.Groups, *cur)
		}
		cur = &sidecarEntry{Key: e.Key, IDs: []uint64{e.ID}}
		return true
	})
	if cur != nil {
		sc.Groups = append(sc.Groups, *cur)
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("index: marshal sidecar %q: %w", idx.Name, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return nil
}

// LoadSidecar rebuilds an index from a previously saved sidecar file.
func LoadSidecar(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	var sc sidecarFile
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("index: unmarshal sidecar %q: %w", path, err)
	}

	idx := New(sc.Name, sc.Fields, sc.Unique)
	for _, g := range sc.Groups {
		for _, id := range g.IDs {
			idx.tree.ReplaceOrInsert(entry{Key: g.Key, ID: id})
			idx.byID[id] = g.Key
		}
	}
	return idx, nil
}

// RebuildFromScan discards whatever the index currently holds and
// reinserts every (id, doc) pair from scratch, the fallback path when no
// sidecar exists or the sidecar fails validation.
func (idx *Index) RebuildFromScan(docs map[uint64]map[string]interface{}) error {
	idx.mu.Lock()
	idx.tree = btree.New(degree)
	idx.byID = make(map[uint64]Key)
	idx.mu.Unlock()

	for id, doc := range docs {
		if err := idx.Insert(doc, id); err != nil {
			return err
		}
	}
	return nil
}
