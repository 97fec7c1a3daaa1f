// Package collection orchestrates one IronBase collection:
// CRUD against the storage log and secondary indexes, schema validation,
// and the query surface (filter/update/aggregate/planner) bound together.
// Grounded on bundoc/collection.go (mutex-protected indexes
// map, validate-then-write-then-index-maintenance Insert shape,
// EnsureIndex/DropIndex pair) adapted from bundoc's on-disk B+Tree +
// MVCC transaction write-set to this module's append-only storage log,
// in-memory btree index, and single-writer WAL transaction model.
package collection

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/petitan/ironbase/internal/docmodel"
	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/metrics"
	"github.com/petitan/ironbase/internal/query/aggregate"
	"github.com/petitan/ironbase/internal/query/filter"
	"github.com/petitan/ironbase/internal/query/planner"
	"github.com/petitan/ironbase/internal/query/update"
	"github.com/petitan/ironbase/internal/record"
	"github.com/petitan/ironbase/internal/schema"
	"github.com/petitan/ironbase/internal/storage"
	"github.com/petitan/ironbase/internal/transaction"
)

// Collection is one named, independently stored document set.
type Collection struct {
	mu      sync.RWMutex
	name    string
	dir     string
	log     *storage.Log
	indexes *index.Manager
	ids     *docmodel.Counter
	schema  *schema.Validator
	cache   map[uint64]map[string]interface{}
	logger  *logger.Logger
	stats   *metrics.Registry
}

// FindOptions controls a Find call's sort order, pagination, and field
// projection, grounded on bundoc's QueryOptions (SortField/SortDesc/
// Skip/Limit) widened to a multi-key sort and a projection spec.
type FindOptions struct {
	Sort       []docmodel.SortKey
	Skip       int
	Limit      int
	Projection map[string]bool
}

// IndexDescriptor is the persisted definition of one secondary index:
// the collection-level state a reserved __meta__ record carries so
// index definitions and the schema validator survive a
// reopen without a separate catalog file.
type IndexDescriptor struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

// Open opens (or creates) the collection's storage log under dir,
// rebuilds its in-memory live-document cache from it, and restores
// whatever index definitions and schema validator the last __meta__
// record describes ("loaded lazily on open; rebuilt from a
// full scan if missing or corrupted").
func Open(dir, name string, log *logger.Logger) (*Collection, error) {
	logPath := filepath.Join(dir, name+".log")
	storageLog, err := storage.Open(logPath, log)
	if err != nil {
		return nil, err
	}

	lvm, err := storageLog.BuildLiveVersionMap()
	if err != nil {
		storageLog.Close()
		return nil, err
	}

	var lastMeta map[string]interface{}
	err = storageLog.ReadAll(func(e storage.Entry) error {
		if record.IsMeta(e.Doc) {
			lastMeta = e.Doc
		}
		return nil
	})
	if err != nil {
		storageLog.Close()
		return nil, err
	}

	var highest uint64
	for id := range lvm.Docs {
		if id > highest {
			highest = id
		}
	}

	emptySchema, _ := schema.Compile("")
	c := &Collection{
		name:    name,
		dir:     dir,
		log:     storageLog,
		indexes: index.NewManager(dir, name, log),
		ids:     docmodel.NewCounter(highest),
		schema:  emptySchema,
		cache:   lvm.Docs,
		logger:  log,
	}

	if lastMeta != nil {
		if err := c.restoreMeta(lastMeta, lvm.Docs); err != nil {
			storageLog.Close()
			return nil, err
		}
	}
	return c, nil
}

// restoreMeta reinstalls the schema validator and every declared index
// from a decoded __meta__ record. Index state itself comes from its
// sidecar (or a scan rebuild), not from this record.
func (c *Collection) restoreMeta(meta map[string]interface{}, docs map[uint64]map[string]interface{}) error {
	if schemaRaw, ok := meta["schema"].(string); ok && schemaRaw != "" {
		v, err := schema.Compile(schemaRaw)
		if err != nil {
			return err
		}
		c.schema = v
	}

	rawIndexes, ok := meta["indexes"].([]interface{})
	if !ok {
		return nil
	}
	for _, raw := range rawIndexes {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		unique, _ := m["unique"].(bool)
		rawFields, _ := m["fields"].([]interface{})
		fields := make([]string, 0, len(rawFields))
		for _, f := range rawFields {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
		if name == "" || len(fields) == 0 {
			continue
		}
		if _, err := c.indexes.LoadOrRebuild(name, fields, unique, docs); err != nil {
			return err
		}
	}
	return nil
}

// persistMeta appends a fresh __meta__ record describing the current
// schema and index definitions, so CreateIndex/DropIndex/SetSchema
// survive a reopen.
func (c *Collection) persistMeta() error {
	c.mu.RLock()
	descriptors := make([]IndexDescriptor, 0, len(c.indexes.All()))
	for _, idx := range c.indexes.All() {
		descriptors = append(descriptors, IndexDescriptor{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique})
	}
	schemaRaw := c.schema.Raw()
	name := c.name
	c.mu.RUnlock()

	meta := map[string]interface{}{
		record.MetaKey: true,
		"name":         name,
		"schema":       schemaRaw,
		"indexes":      descriptors,
	}
	_, err := c.log.AppendDoc(meta)
	return err
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// SetMetrics installs the registry this collection's CRUD/index paths
// report into. A nil or never-called registry leaves those paths as
// plain no-ops.
func (c *Collection) SetMetrics(m *metrics.Registry) {
	c.mu.Lock()
	c.stats = m
	c.mu.Unlock()
}

// recordOp increments OperationsTotal and observes OperationDuration for
// one completed CRUD operation, called with c.mu already released so the
// metrics call itself never holds the collection lock.
func (c *Collection) recordOp(op string, start time.Time) {
	c.mu.RLock()
	stats := c.stats
	c.mu.RUnlock()
	if stats == nil {
		return
	}
	stats.OperationsTotal.WithLabelValues(c.name, op).Inc()
	stats.OperationDuration.WithLabelValues(c.name, op).Observe(time.Since(start).Seconds())
}

// Close flushes and closes the collection's storage log.
func (c *Collection) Close() error {
	c.indexes.SaveAll()
	return c.log.Close()
}

// SetSchema compiles and installs a JSON-Schema validator, or clears
// validation entirely when schemaJSON is empty.
func (c *Collection) SetSchema(schemaJSON string) error {
	v, err := schema.Compile(schemaJSON)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.schema = v
	c.mu.Unlock()
	return c.persistMeta()
}

// CreateIndex defines a new secondary index over fields, rebuilding it
// from the collection's current documents.
func (c *Collection) CreateIndex(name string, fields []string, unique bool) error {
	c.mu.RLock()
	docsSnapshot := c.snapshotDocsLocked()
	c.mu.RUnlock()
	if _, err := c.indexes.Create(name, fields, unique, docsSnapshot); err != nil {
		return err
	}
	return c.persistMeta()
}

// DropIndex removes a secondary index.
func (c *Collection) DropIndex(name string) error {
	if err := c.indexes.Drop(name); err != nil {
		return err
	}
	return c.persistMeta()
}

// ListIndexes returns the name, fields, and uniqueness of every index
// currently registered.
func (c *Collection) ListIndexes() []IndexDescriptor {
	out := make([]IndexDescriptor, 0)
	for _, idx := range c.indexes.All() {
		out = append(out, IndexDescriptor{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique})
	}
	return out
}

// PrepareInsert validates doc, assigns it a fresh id, and returns the
// OpRecord to buffer into a transaction. It does not mutate storage,
// indexes, or the cache — that happens in Apply at commit time.
func (c *Collection) PrepareInsert(doc map[string]interface{}) (transaction.OpRecord, error) {
	defer c.recordOp("insert", time.Now())
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.schema.Validate(doc); err != nil {
		return transaction.OpRecord{}, err
	}

	id := c.ids.Next()
	withID := docmodel.WithID(doc, id)

	if err := c.checkUniqueConflicts(withID, id); err != nil {
		return transaction.OpRecord{}, err
	}

	return transaction.OpRecord{Type: transaction.OpInsert, Collection: c.name, ID: id, Doc: withID}, nil
}

// PrepareUpdate applies upd to the current document for id (without
// mutating committed state) and returns the resulting OpRecord.
func (c *Collection) PrepareUpdate(id uint64, upd *update.Update) (transaction.OpRecord, error) {
	defer c.recordOp("update", time.Now())
	c.mu.RLock()
	defer c.mu.RUnlock()

	existing, ok := c.cache[id]
	if !ok {
		return transaction.OpRecord{}, ironerr.Wrap(ironerr.CodeDocumentNotFound, fmt.Errorf("collection %q: document %d not found", c.name, id))
	}

	newDoc, err := upd.Apply(existing)
	if err != nil {
		return transaction.OpRecord{}, err
	}
	newDoc[docmodel.IDKey] = float64(id)

	if err := c.schema.Validate(newDoc); err != nil {
		return transaction.OpRecord{}, err
	}
	if err := c.checkUniqueConflicts(newDoc, id); err != nil {
		return transaction.OpRecord{}, err
	}

	return transaction.OpRecord{Type: transaction.OpUpdate, Collection: c.name, ID: id, Doc: newDoc}, nil
}

// PrepareDelete returns the OpRecord that removes id, failing if it does
// not currently exist.
func (c *Collection) PrepareDelete(id uint64) (transaction.OpRecord, error) {
	defer c.recordOp("delete", time.Now())
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.cache[id]; !ok {
		return transaction.OpRecord{}, ironerr.Wrap(ironerr.CodeDocumentNotFound, fmt.Errorf("collection %q: document %d not found", c.name, id))
	}
	return transaction.OpRecord{Type: transaction.OpDelete, Collection: c.name, ID: id}, nil
}

// checkUniqueConflicts reports whether doc's key under any unique index
// already belongs to a different id. Callers hold c.mu for read.
func (c *Collection) checkUniqueConflicts(doc map[string]interface{}, id uint64) error {
	for _, idx := range c.indexes.All() {
		if !idx.Unique {
			continue
		}
		key := index.ExtractKey(doc, idx.Fields)
		for _, existingID := range idx.Equals(key) {
			if existingID != id {
				return ironerr.Wrap(ironerr.CodeUniqueViolation,
					fmt.Errorf("collection %q: index %q: duplicate key %s", c.name, idx.Name, key.String()))
			}
		}
	}
	return nil
}

// Apply materializes one committed OpRecord into storage, indexes, and
// the in-memory cache (this is the "fold into storage"
// step a transaction's Commit runs after its WAL entry is durable).
func (c *Collection) Apply(op transaction.OpRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch op.Type {
	case transaction.OpInsert:
		if _, err := c.log.AppendDoc(op.Doc); err != nil {
			return err
		}
		if err := c.indexes.InsertAll(op.Doc, op.ID); err != nil {
			c.logger.Warn("collection %q: index insert failed after storage append for id %d: %v", c.name, op.ID, err)
		}
		c.cache[op.ID] = op.Doc
	case transaction.OpUpdate:
		if _, err := c.log.AppendDoc(op.Doc); err != nil {
			return err
		}
		if err := c.indexes.ReindexAll(op.Doc, op.ID); err != nil {
			c.logger.Warn("collection %q: reindex failed after storage append for id %d: %v", c.name, op.ID, err)
		}
		c.cache[op.ID] = op.Doc
	case transaction.OpDelete:
		tomb := record.NewTombstone(op.ID)
		if _, err := c.log.AppendDoc(tomb); err != nil {
			return err
		}
		c.indexes.RemoveAll(op.ID)
		delete(c.cache, op.ID)
	}
	return nil
}

// FindByID returns the live document for id, if any.
func (c *Collection) FindByID(id uint64) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.cache[id]
	if !ok {
		return nil, false
	}
	return docmodel.Clone(doc), true
}

// Find runs query against the collection, choosing an IndexScan or
// CollectionScan via the planner, then applies opts' sort, skip, limit,
// and projection, the same
// apply-sort-skip-limit-projection order a find(filter, opts) call runs
// in. Sort falls back to a full buffer sort whenever the chosen plan's
// index order doesn't already satisfy it.
func (c *Collection) Find(query map[string]interface{}, opts FindOptions) ([]map[string]interface{}, planner.Explain, error) {
	defer c.recordOp("find", time.Now())

	f, err := filter.Compile(query)
	if err != nil {
		return nil, planner.Explain{}, err
	}

	out, explain, err := c.findCandidatesLocked(query, opts.Sort, f)
	if err != nil {
		return nil, planner.Explain{}, err
	}

	if len(opts.Sort) > 0 {
		docmodel.Sort(out, opts.Sort)
	}
	out = docmodel.Paginate(out, opts.Skip, opts.Limit)
	if len(opts.Projection) > 0 {
		for i, doc := range out {
			out[i] = docmodel.Project(doc, opts.Projection)
		}
	}
	return out, explain, nil
}

func (c *Collection) findCandidatesLocked(query map[string]interface{}, sort []docmodel.SortKey, f *filter.Filter) ([]map[string]interface{}, planner.Explain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, explain := planner.Plan(query, sort, c.indexes)
	if plan.Kind == planner.CollectionScan {
		return c.scanAllLocked(f), explain, nil
	}

	idx := c.indexes.Get(plan.IndexName)
	if idx == nil {
		return c.scanAllLocked(f), planner.Explain{Kind: string(planner.CollectionScan), Reason: "planned index vanished before scan"}, nil
	}
	ids := planner.RunIndexScan(idx, plan, f, func(id uint64) (map[string]interface{}, bool) {
		d, ok := c.cache[id]
		return d, ok
	}, plan.FullySolved)

	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		if doc, ok := c.cache[id]; ok {
			out = append(out, docmodel.Clone(doc))
		}
	}
	return out, explain, nil
}

func (c *Collection) scanAllLocked(f *filter.Filter) []map[string]interface{} {
	var out []map[string]interface{}
	for _, doc := range c.cache {
		if f.Matches(doc) {
			out = append(out, docmodel.Clone(doc))
		}
	}
	return out
}

// Aggregate runs a compiled pipeline over every live document.
func (c *Collection) Aggregate(pipeline []map[string]interface{}) ([]map[string]interface{}, error) {
	p, err := aggregate.Compile(pipeline)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	byID := c.snapshotDocsLocked()
	c.mu.RUnlock()

	docs := make([]map[string]interface{}, 0, len(byID))
	for _, doc := range byID {
		docs = append(docs, doc)
	}
	return p.Run(docs)
}

// Distinct returns the unique values at path among documents matching
// query.
func (c *Collection) Distinct(path string, query map[string]interface{}) ([]interface{}, error) {
	docs, _, err := c.Find(query, FindOptions{})
	if err != nil {
		return nil, err
	}
	return docmodel.Distinct(docs, path), nil
}

// Count returns the number of live documents matching query.
func (c *Collection) Count(query map[string]interface{}) (int, error) {
	docs, _, err := c.Find(query, FindOptions{})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Len returns the number of live documents in the collection.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// StorageSize returns the current byte length of the collection's
// storage log.
func (c *Collection) StorageSize() uint64 {
	return c.log.Len()
}

// IndexEntryCounts returns the number of entries currently held by each
// of the collection's registered indexes, keyed by index name.
func (c *Collection) IndexEntryCounts() map[string]int {
	out := make(map[string]int)
	for _, idx := range c.indexes.All() {
		out[idx.Name] = idx.Len()
	}
	return out
}

// LiveIDs returns every id currently present in the collection's live
// cache, for diagnostics that cross-check it against index state.
func (c *Collection) LiveIDs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.cache))
	for id := range c.cache {
		out = append(out, id)
	}
	return out
}

// IndexIDs returns every id currently held by the named index, or nil if
// no such index exists.
func (c *Collection) IndexIDs(name string) []uint64 {
	idx := c.indexes.Get(name)
	if idx == nil {
		return nil
	}
	return idx.IDs()
}

// Compact rewrites the storage log to contain only live documents,
// re-appends a __meta__ record when the collection has a schema or
// indexes, and persists a fresh set of index sidecars.
func (c *Collection) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.log.Compact(); err != nil {
		return err
	}
	// The compacted log holds documents only; without a fresh __meta__
	// record the schema and index definitions would not survive a reopen.
	if idxs := c.indexes.All(); len(idxs) > 0 || c.schema.Raw() != "" {
		descriptors := make([]IndexDescriptor, 0, len(idxs))
		for _, idx := range idxs {
			descriptors = append(descriptors, IndexDescriptor{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique})
		}
		meta := map[string]interface{}{record.MetaKey: true, "name": c.name, "schema": c.schema.Raw(), "indexes": descriptors}
		if _, err := c.log.AppendDoc(meta); err != nil {
			return err
		}
	}
	c.indexes.SaveAll()
	return nil
}

func (c *Collection) snapshotDocsLocked() map[uint64]map[string]interface{} {
	out := make(map[uint64]map[string]interface{}, len(c.cache))
	for id, doc := range c.cache {
		out[id] = doc
	}
	return out
}
