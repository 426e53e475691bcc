package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/eventman/internal/route"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
)

// Collections implements the generic CRUD contract shared by every
// collection.
type Collections struct {
	db store.Store
}

// NewCollections wraps db.
func NewCollections(db store.Store) *Collections {
	return &Collections{db: db}
}

// List returns every document of coll matching params, keyed by the
// collection name. A bare JSON array is never returned.
func (c *Collections) List(ctx context.Context, coll string, params map[string]any) (map[string]any, error) {
	docs, err := c.db.Query(ctx, coll, params)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return map[string]any{coll: docs}, nil
}

// Get returns a single document or store.ErrNotFound.
func (c *Collections) Get(ctx context.Context, coll, id string) (store.Document, error) {
	return c.db.Get(ctx, coll, id)
}

// Create inserts body under a new identifier. Naming an identifier that is
// already taken is rejected; any other supplied identifier is discarded.
func (c *Collections) Create(ctx context.Context, coll string, body store.Document) (store.Document, error) {
	doc := body.Clone()
	if doc == nil {
		doc = store.Document{}
	}
	if id, ok := doc[store.IDField]; ok {
		if s, _ := id.(string); s != "" {
			_, err := c.db.Get(ctx, coll, s)
			switch {
			case err == nil:
				return nil, fmt.Errorf("%w: %s %s already exists", route.ErrInvalidRequest, coll, s)
			case !errors.Is(err, store.ErrNotFound):
				return nil, err
			}
		}
		delete(doc, store.IDField)
	}
	stored, err := c.db.Add(ctx, coll, doc)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: %v", route.ErrInvalidRequest, err)
	}
	return stored, err
}

// Update shallow-merges body into the existing document. merged reports
// whether an existing record was updated.
func (c *Collections) Update(ctx context.Context, coll, id string, body store.Document) (bool, store.Document, error) {
	return c.db.Update(ctx, coll, id, body, false)
}

// Delete removes the document if present and always acknowledges.
func (c *Collections) Delete(ctx context.Context, coll, id string) (map[string]any, error) {
	if err := c.db.Delete(ctx, coll, id); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}
