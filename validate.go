package ironbase

// Package-level health scan, grounded on
// internal/docdb/validator.go: walk every collection's index and storage
// state and classify each live document without mutating anything. A
// read-only diagnostic a host application can run after an unclean
// shutdown, alongside Open's own crash recovery.

// DocumentHealth classifies one document's observed state during a scan.
type DocumentHealth int

const (
	// HealthValid means the document decodes cleanly and is present in
	// every index declared over fields it carries.
	HealthValid DocumentHealth = iota
	// HealthMissingFromIndex means the document is live in storage but
	// absent from an index that should contain it — recoverable by
	// rebuilding that index from a scan.
	HealthMissingFromIndex
	// HealthOrphanedIndexEntry means an index holds an id with no
	// corresponding live document in storage.
	HealthOrphanedIndexEntry
)

// CollectionHealthReport summarizes one collection's Validate findings.
type CollectionHealthReport struct {
	Documents            map[uint64]DocumentHealth
	OrphanedIndexEntries map[string][]uint64
}

// Validate scans every open collection's storage and index state and
// reports inconsistencies between them, without repairing anything — the
// caller decides whether to CreateIndex/DropIndex+CreateIndex to rebuild,
// or Compact to reclaim space.
func (db *Database) Validate() (map[string]CollectionHealthReport, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[string]CollectionHealthReport, len(db.collections))
	for name, col := range db.collections {
		report := CollectionHealthReport{
			Documents:            make(map[uint64]DocumentHealth),
			OrphanedIndexEntries: make(map[string][]uint64),
		}

		live := col.LiveIDs()
		liveSet := make(map[uint64]struct{}, len(live))
		for _, id := range live {
			liveSet[id] = struct{}{}
			report.Documents[id] = HealthValid
		}

		indexes := col.ListIndexes()
		indexed := make(map[string]map[uint64]struct{}, len(indexes))
		for _, idx := range indexes {
			ids := col.IndexIDs(idx.Name)
			set := make(map[uint64]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
				if _, ok := liveSet[id]; !ok {
					report.OrphanedIndexEntries[idx.Name] = append(report.OrphanedIndexEntries[idx.Name], id)
				}
			}
			indexed[idx.Name] = set
		}

		for id := range liveSet {
			for _, idx := range indexes {
				if _, ok := indexed[idx.Name][id]; !ok {
					report.Documents[id] = HealthMissingFromIndex
					break
				}
			}
		}

		out[name] = report
	}
	return out, nil
}
