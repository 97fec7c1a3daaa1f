package ironbase

import (
	"context"

	"github.com/petitan/ironbase/internal/collection"
	"github.com/petitan/ironbase/internal/docmodel"
	"github.com/petitan/ironbase/internal/query/planner"
	"github.com/petitan/ironbase/internal/query/update"
)

// SortKey is one field/direction pair in a Find's requested sort order.
type SortKey = docmodel.SortKey

// FindOptions controls a Find call's sort order, pagination, and field
// projection.
type FindOptions = collection.FindOptions

// Collection is a handle to one named document collection, the public
// surface over internal/collection (insert_one, insert_many, find,
// insert_one, insert_many, find, find_one, update_one, update_many,
// delete_one, delete_many, count, distinct, create_index, drop_index,
// list_indexes, explain, aggregate).
type Collection struct {
	db    *Database
	inner *collection.Collection
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.inner.Name() }

// IndexSpec describes a secondary index to create.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// CreateIndex defines a new secondary index, rebuilt from the collection's
// current documents.
func (c *Collection) CreateIndex(spec IndexSpec) error {
	return c.inner.CreateIndex(spec.Name, spec.Fields, spec.Unique)
}

// DropIndex removes a secondary index by name.
func (c *Collection) DropIndex(name string) error {
	return c.inner.DropIndex(name)
}

// ListIndexes returns every index currently defined on the collection.
func (c *Collection) ListIndexes() []IndexSpec {
	descs := c.inner.ListIndexes()
	out := make([]IndexSpec, len(descs))
	for i, d := range descs {
		out[i] = IndexSpec{Name: d.Name, Fields: d.Fields, Unique: d.Unique}
	}
	return out
}

// SetSchema installs (or, given "", clears) a JSON-Schema validator
// applied to every subsequent insert/update.
func (c *Collection) SetSchema(schemaJSON string) error {
	return c.inner.SetSchema(schemaJSON)
}

// InsertOne inserts a single document as an implicit one-operation
// transaction ("writers... outside an explicit transaction,
// which implicitly begins and commits one") and returns its assigned id.
func (c *Collection) InsertOne(ctx context.Context, doc map[string]interface{}) (uint64, error) {
	var id uint64
	err := c.db.withImplicitTx(ctx, func(tx *Tx) error {
		got, err := tx.Insert(c, doc)
		id = got
		return err
	})
	return id, err
}

// InsertMany inserts every document as a single implicit transaction,
// returning their assigned ids in order.
func (c *Collection) InsertMany(ctx context.Context, docs []map[string]interface{}) ([]uint64, error) {
	ids := make([]uint64, len(docs))
	err := c.db.withImplicitTx(ctx, func(tx *Tx) error {
		for i, doc := range docs {
			id, err := tx.Insert(c, doc)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Find runs query against the collection, applying opts' sort,
// pagination, and projection, and returns every matching document along
// with the planner's explain trace.
func (c *Collection) Find(query map[string]interface{}, opts FindOptions) ([]map[string]interface{}, planner.Explain, error) {
	return c.inner.Find(query, opts)
}

// FindOne returns the first document matching query, if any.
func (c *Collection) FindOne(query map[string]interface{}) (map[string]interface{}, bool, error) {
	docs, _, err := c.inner.Find(query, FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

// Explain returns the plan the query planner chooses for query. It runs
// the query through Find and discards the matching documents, so the
// query is executed, not only planned.
func (c *Collection) Explain(query map[string]interface{}) (planner.Explain, error) {
	_, explain, err := c.inner.Find(query, FindOptions{})
	return explain, err
}

// UpdateOne applies upd to the first document matching query, as an
// implicit transaction, returning whether a document was found.
func (c *Collection) UpdateOne(ctx context.Context, query map[string]interface{}, updSpec map[string]interface{}) (bool, error) {
	matches, _, err := c.inner.Find(query, FindOptions{})
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}
	upd, err := update.Compile(updSpec)
	if err != nil {
		return false, err
	}
	id, _ := matches[0]["_id"].(float64)
	err = c.db.withImplicitTx(ctx, func(tx *Tx) error {
		return tx.Update(c, uint64(id), upd)
	})
	return err == nil, err
}

// UpdateMany applies upd to every document matching query, as a single
// implicit transaction, returning the number of documents updated.
func (c *Collection) UpdateMany(ctx context.Context, query map[string]interface{}, updSpec map[string]interface{}) (int, error) {
	matches, _, err := c.inner.Find(query, FindOptions{})
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}
	upd, err := update.Compile(updSpec)
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.db.withImplicitTx(ctx, func(tx *Tx) error {
		for _, doc := range matches {
			id, _ := doc["_id"].(float64)
			if err := tx.Update(c, uint64(id), upd); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// DeleteOne removes the first document matching query, as an implicit
// transaction, returning whether a document was found.
func (c *Collection) DeleteOne(ctx context.Context, query map[string]interface{}) (bool, error) {
	matches, _, err := c.inner.Find(query, FindOptions{})
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}
	id, _ := matches[0]["_id"].(float64)
	err = c.db.withImplicitTx(ctx, func(tx *Tx) error {
		return tx.Delete(c, uint64(id))
	})
	return err == nil, err
}

// DeleteMany removes every document matching query, as a single implicit
// transaction, returning the number of documents deleted.
func (c *Collection) DeleteMany(ctx context.Context, query map[string]interface{}) (int, error) {
	matches, _, err := c.inner.Find(query, FindOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.db.withImplicitTx(ctx, func(tx *Tx) error {
		for _, doc := range matches {
			id, _ := doc["_id"].(float64)
			if err := tx.Delete(c, uint64(id)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Count returns the number of live documents matching query.
func (c *Collection) Count(query map[string]interface{}) (int, error) {
	return c.inner.Count(query)
}

// Distinct returns the unique values at path among documents matching
// query.
func (c *Collection) Distinct(path string, query map[string]interface{}) ([]interface{}, error) {
	return c.inner.Distinct(path, query)
}

// Aggregate runs a pipeline of $match/$project/$group/$sort/$skip/$limit
// stages over the collection's live documents.
func (c *Collection) Aggregate(pipeline []map[string]interface{}) ([]map[string]interface{}, error) {
	return c.inner.Aggregate(pipeline)
}
