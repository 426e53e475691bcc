package store

import (
	"context"
	"errors"
)

// IDField is the key holding a document's identifier.
const IDField = "_id"

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Add when the supplied id is already taken.
	ErrConflict = errors.New("document id already exists")
)

// Document is a JSON-compatible record. Values are nil, bool, float64,
// string, []any or map[string]any.
type Document map[string]any

// ID returns the document identifier as a string ("" if absent).
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// EntryOp selects how UpdateEntry treats the embedded array.
type EntryOp int

const (
	// EntryMerge merges the patch into the matching entry.
	EntryMerge EntryOp = iota
	// EntryAppendIfAbsent appends the patch unless an entry with the key exists.
	EntryAppendIfAbsent
	// EntryDelete removes every entry with the key.
	EntryDelete
)

func (op EntryOp) String() string {
	switch op {
	case EntryMerge:
		return "merge"
	case EntryAppendIfAbsent:
		return "append-if-absent"
	case EntryDelete:
		return "delete"
	}
	return "unknown"
}

// EntryRef addresses entries of an array field embedded in a parent document.
// Entries are identified by KeyField == Key; Match adds equality constraints
// on the entry's other fields (used by EntryMerge only).
type EntryRef struct {
	ParentID string
	Field    string
	KeyField string
	Key      any
	Match    map[string]any
}

// EntryResult describes the outcome of UpdateEntry.
type EntryResult struct {
	// Matched reports whether an entry with the key (and Match) existed before.
	Matched bool
	// Before is the entry prior to the operation, nil if there was none.
	Before Document
	// After is the entry once the operation is applied, nil after a delete.
	After Document
	// Parent is the parent document after the operation.
	Parent Document
}

// Store is the document storage collaborator. Every method works on a single
// document atomically; callers never read-modify-write across two calls.
type Store interface {
	Get(ctx context.Context, coll, id string) (Document, error)
	// Query returns the documents whose fields equal every entry of params.
	// Dotted keys descend into sub-documents and arrays.
	Query(ctx context.Context, coll string, params map[string]any) ([]Document, error)
	Add(ctx context.Context, coll string, doc Document) (Document, error)
	// Update shallow-merges patch into the document with id. merged is true
	// when an existing document was updated; with create a missing document
	// is inserted, otherwise ErrNotFound is returned.
	Update(ctx context.Context, coll, id string, patch Document, create bool) (merged bool, doc Document, err error)
	UpdateEntry(ctx context.Context, coll string, ref EntryRef, patch Document, op EntryOp) (EntryResult, error)
	Delete(ctx context.Context, coll, id string) error
	// Merge looks for an existing document matching candidate on each field
	// tuple of searchBy in order, merging into the first hit or inserting.
	Merge(ctx context.Context, coll string, candidate Document, searchBy [][]string) (merged bool, id string, err error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
