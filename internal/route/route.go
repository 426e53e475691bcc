package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gyaneshwarpardhi/eventman/internal/store"
)

var (
	// ErrRouteNotFound is returned for paths and verbs outside the grammar.
	ErrRouteNotFound = errors.New("route not found")
	// ErrInvalidRequest is returned for malformed segment combinations or bodies.
	ErrInvalidRequest = errors.New("invalid request")
)

// Collection names served by the API.
const (
	Persons = "persons"
	Events  = "events"
	Actions = "actions"
)

// Collections lists every routable collection.
var Collections = []string{Persons, Events, Actions}

// Verb is an HTTP method accepted by the router.
type Verb string

const (
	VerbGet    Verb = http.MethodGet
	VerbPost   Verb = http.MethodPost
	VerbPut    Verb = http.MethodPut
	VerbDelete Verb = http.MethodDelete
)

// Mutating reports whether requests with this verb carry a body.
func (v Verb) Mutating() bool { return v == VerbPost || v == VerbPut }

// Request is a parsed /<collection>[/<id>[/<sub>[/<sub_id>]]] request.
type Request struct {
	Collection    string
	ID            string
	SubResource   string
	SubResourceID string
	Verb          Verb
	Body          store.Document
	Query         map[string]string
}

// Scope classifies which operation family serves the request.
type Scope int

const (
	ScopeCollection Scope = iota
	ScopeDocument
	ScopeSubResource
)

// Scope reports whether r addresses a collection, a document or a
// sub-resource of a document.
func (r *Request) Scope() Scope {
	switch {
	case r.SubResource != "":
		return ScopeSubResource
	case r.ID != "":
		return ScopeDocument
	}
	return ScopeCollection
}

// String renders r as "VERB /collection/id/sub/sub_id", omitting empty
// trailing segments.
func (r *Request) String() string {
	parts := []string{r.Collection}
	for _, p := range []string{r.ID, r.SubResource, r.SubResourceID} {
		if p == "" {
			break
		}
		parts = append(parts, p)
	}
	return string(r.Verb) + " /" + strings.Join(parts, "/")
}

// Parse maps an HTTP method and URL path onto a Request. Body and Query are
// left empty; see DecodeBody and SetQuery.
func Parse(method, path string) (*Request, error) {
	verb := Verb(strings.ToUpper(method))
	switch verb {
	case VerbGet, VerbPost, VerbPut, VerbDelete:
	default:
		return nil, fmt.Errorf("%w: method %s", ErrRouteNotFound, method)
	}

	trimmed := strings.TrimPrefix(path, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrRouteNotFound, path)
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) > 4 {
		return nil, fmt.Errorf("%w: %q has too many segments", ErrRouteNotFound, path)
	}
	for i, s := range segs {
		u, err := url.PathUnescape(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRequest, path, err)
		}
		segs[i] = u
	}
	if !known(segs[0]) {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrRouteNotFound, segs[0])
	}

	req := &Request{Collection: segs[0], Verb: verb, Query: map[string]string{}}
	if len(segs) > 1 {
		req.ID = segs[1]
	}
	if len(segs) > 2 {
		req.SubResource = segs[2]
		if req.ID == "" {
			return nil, fmt.Errorf("%w: sub-resource %q without a %s id", ErrInvalidRequest, req.SubResource, req.Collection)
		}
	}
	if len(segs) > 3 {
		req.SubResourceID = segs[3]
		if req.SubResource == "" {
			return nil, fmt.Errorf("%w: sub-resource id without a sub-resource", ErrInvalidRequest)
		}
	}
	if req.ID == "" && len(segs) > 1 {
		return nil, fmt.Errorf("%w: empty %s id", ErrInvalidRequest, req.Collection)
	}
	return req, nil
}

func known(coll string) bool {
	for _, c := range Collections {
		if c == coll {
			return true
		}
	}
	return false
}

// SetQuery copies the first value of every query parameter.
func (r *Request) SetQuery(q url.Values) {
	for k, vs := range q {
		if len(vs) > 0 {
			r.Query[k] = vs[0]
		}
	}
}

// DecodeBody reads a JSON object body. An empty body decodes to an empty
// document; anything but an object is rejected.
func (r *Request) DecodeBody(body io.Reader) error {
	r.Body = store.Document{}
	if body == nil || !r.Verb.Mutating() {
		return nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrInvalidRequest, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: body must be a JSON object: %v", ErrInvalidRequest, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: body must be a JSON object", ErrInvalidRequest)
	}
	r.Body = doc
	return nil
}
