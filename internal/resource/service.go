package resource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/eventman/internal/route"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
)

// Firer runs post-mutation triggers without blocking the caller.
type Firer interface {
	Fire(action string, payload any, env map[string]string) bool
}

// Service dispatches parsed requests to collection operations or to the
// registered sub-resource handlers.
type Service struct {
	db       store.Store
	colls    *Collections
	subs     *Registry
	triggers Firer
	logger   *slog.Logger
}

// NewService builds the sub-resource registry and returns a ready Service.
// triggers may be nil to disable trigger execution.
func NewService(db store.Store, triggers Firer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:       db,
		colls:    NewCollections(db),
		subs:     NewRegistry(),
		triggers: triggers,
		logger:   logger.With("component", "resource"),
	}
	s.registerAttendance()
	return s
}

// Registry exposes the sub-resource registry.
func (s *Service) Registry() *Registry { return s.subs }

// Collections exposes the generic CRUD operations.
func (s *Service) Collections() *Collections { return s.colls }

// Handle serves req and returns the JSON-serializable response body.
func (s *Service) Handle(ctx context.Context, req *route.Request) (any, error) {
	switch req.Scope() {
	case route.ScopeSubResource:
		h, err := s.subs.Lookup(req)
		if err != nil {
			return nil, err
		}
		return h(ctx, req)

	case route.ScopeDocument:
		switch req.Verb {
		case route.VerbGet:
			return s.colls.Get(ctx, req.Collection, req.ID)
		case route.VerbPost, route.VerbPut:
			merged, doc, err := s.colls.Update(ctx, req.Collection, req.ID, req.Body)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("document updated", "collection", req.Collection, "id", req.ID, "merged", merged)
			return doc, nil
		case route.VerbDelete:
			return s.colls.Delete(ctx, req.Collection, req.ID)
		}

	case route.ScopeCollection:
		switch req.Verb {
		case route.VerbGet:
			var params map[string]any
			if req.Collection == route.Actions {
				params = filterParams(req.Query)
			}
			return s.colls.List(ctx, req.Collection, params)
		case route.VerbPost:
			return s.colls.Create(ctx, req.Collection, req.Body)
		case route.VerbPut, route.VerbDelete:
			return nil, fmt.Errorf("%w: %s requires a %s id", route.ErrInvalidRequest, req.Verb, req.Collection)
		}
	}
	return nil, fmt.Errorf("%w: %s", route.ErrRouteNotFound, req)
}

// ignoredParams are query parameters that never act as filters: client
// instance ids, cache busters and flags.
var ignoredParams = map[string]struct{}{
	"uuid": {},
	"_":    {},
	"all":  {},
}

// filterParams turns query parameters into an equality filter.
func filterParams(q map[string]string) map[string]any {
	params := make(map[string]any, len(q))
	for k, v := range q {
		if _, skip := ignoredParams[k]; skip {
			continue
		}
		params[k] = v
	}
	return params
}
