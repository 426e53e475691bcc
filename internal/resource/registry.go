package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/eventman/internal/route"
)

// ErrUnsupportedSubResource is returned when no handler is registered for a
// (collection, sub-resource, verb) combination.
var ErrUnsupportedSubResource = errors.New("unsupported sub-resource")

// SubHandler serves one sub-resource verb. Its result is written verbatim
// as the response body.
type SubHandler func(ctx context.Context, req *route.Request) (any, error)

// Key identifies a sub-resource operation.
type Key struct {
	Collection  string
	SubResource string
	Verb        route.Verb
}

func (k Key) String() string {
	return fmt.Sprintf("%s /%s/{id}/%s", k.Verb, k.Collection, k.SubResource)
}

// Registry maps sub-resource operations to their handlers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Key]SubHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key]SubHandler)}
}

// Register adds a handler. Panics on duplicates and unknown collections to
// surface misconfiguration at startup.
func (r *Registry) Register(coll, sub string, verb route.Verb, h SubHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Collection: coll, SubResource: sub, Verb: verb}
	if _, err := route.Parse(string(verb), "/"+coll+"/x/"+sub); err != nil {
		panic(fmt.Sprintf("resource registry: %s: %v", k, err))
	}
	if h == nil {
		panic(fmt.Sprintf("resource registry: nil handler for %s", k))
	}
	if _, exists := r.handlers[k]; exists {
		panic(fmt.Sprintf("resource registry: duplicate handler for %s", k))
	}
	r.handlers[k] = h
}

// Lookup returns the handler for req's sub-resource.
func (r *Registry) Lookup(req *route.Request) (SubHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[Key{Collection: req.Collection, SubResource: req.SubResource, Verb: req.Verb}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s/%s", ErrUnsupportedSubResource, req.Verb, req.Collection, req.SubResource)
	}
	return h, nil
}

// Keys returns every registered operation in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
