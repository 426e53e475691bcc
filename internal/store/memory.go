package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-process Store. Each collection is a map guarded by a single
// mutex, which makes every operation atomic with respect to the others.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	entropy     *ulid.MonotonicEntropy
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Document),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

func (m *Memory) collection(coll string) map[string]Document {
	c, ok := m.collections[coll]
	if !ok {
		c = make(map[string]Document)
		m.collections[coll] = c
	}
	return c
}

// newID must be called with mu held; the monotonic entropy source is not
// safe for concurrent use.
func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *Memory) Get(_ context.Context, coll, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[coll][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", coll, id, ErrNotFound)
	}
	return doc.Clone(), nil
}

// Query returns matching documents ordered by id, which for generated ULIDs
// is insertion order.
func (m *Memory) Query(_ context.Context, coll string, params map[string]any) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.collections[coll]))
	for _, doc := range m.collections[coll] {
		if Matches(doc, params) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *Memory) Add(_ context.Context, coll string, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(coll, doc)
}

func (m *Memory) add(coll string, doc Document) (Document, error) {
	c := m.collection(coll)
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	id := stored.ID()
	if id == "" {
		id = m.newID()
		stored[IDField] = id
	} else if _, exists := c[id]; exists {
		return nil, fmt.Errorf("%s %s: %w", coll, id, ErrConflict)
	}
	c[id] = stored
	return stored.Clone(), nil
}

func (m *Memory) Update(_ context.Context, coll, id string, patch Document, create bool) (bool, Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(coll)
	doc, ok := c[id]
	if !ok {
		if !create {
			return false, nil, fmt.Errorf("%s %s: %w", coll, id, ErrNotFound)
		}
		doc = Document{IDField: id}
	}
	c[id] = MergeInto(doc, patch)
	return ok, c[id].Clone(), nil
}

func (m *Memory) UpdateEntry(_ context.Context, coll string, ref EntryRef, patch Document, op EntryOp) (EntryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.collections[coll][ref.ParentID]
	if !ok {
		return EntryResult{}, fmt.Errorf("%s %s: %w", coll, ref.ParentID, ErrNotFound)
	}
	arr := entries(parent, ref.Field)

	idx := -1
	for i, el := range arr {
		entry, ok := el.(map[string]any)
		if !ok || !Equal(entry[ref.KeyField], ref.Key) {
			continue
		}
		if op == EntryMerge && !Matches(entry, ref.Match) {
			continue
		}
		idx = i
		break
	}

	var res EntryResult
	if idx >= 0 {
		res.Matched = true
		res.Before = Document(arr[idx].(map[string]any)).Clone()
	}

	switch op {
	case EntryMerge:
		if idx < 0 {
			break
		}
		merged := MergeInto(res.Before.Clone(), patch)
		merged[ref.KeyField] = ref.Key
		arr[idx] = map[string]any(merged)
		res.After = merged.Clone()
	case EntryAppendIfAbsent:
		if idx >= 0 {
			res.After = res.Before.Clone()
			break
		}
		entry := patch.Clone()
		if entry == nil {
			entry = Document{}
		}
		entry[ref.KeyField] = ref.Key
		arr = append(arr, map[string]any(entry))
		res.After = entry.Clone()
	case EntryDelete:
		kept := arr[:0:0]
		for _, el := range arr {
			if entry, ok := el.(map[string]any); ok && Equal(entry[ref.KeyField], ref.Key) {
				continue
			}
			kept = append(kept, el)
		}
		arr = kept
	default:
		return EntryResult{}, fmt.Errorf("unknown entry operation %d", op)
	}

	if arr == nil {
		arr = []any{}
	}
	parent[ref.Field] = arr
	res.Parent = parent.Clone()
	return res, nil
}

func (m *Memory) Delete(_ context.Context, coll, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[coll], id)
	return nil
}

func (m *Memory) Merge(_ context.Context, coll string, candidate Document, searchBy [][]string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(coll)
	for _, fields := range searchBy {
		params, ok := searchParams(candidate, fields)
		if !ok {
			continue
		}
		for id, doc := range c {
			if Matches(doc, params) {
				MergeInto(doc, candidate)
				return true, id, nil
			}
		}
	}
	stored, err := m.add(coll, candidate)
	if err != nil {
		return false, "", err
	}
	return false, stored.ID(), nil
}

// searchParams builds an equality filter from the given fields of candidate.
// It fails when any field is missing or empty.
func searchParams(candidate Document, fields []string) (map[string]any, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	params := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := candidate[f]
		if !ok || !Truthy(v) {
			return nil, false
		}
		params[f] = v
	}
	return params, true
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }
