package resource

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/eventman/internal/route"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
	"github.com/gyaneshwarpardhi/eventman/internal/trigger"
)

// Event documents embed their attendees in the persons array, one entry per
// person_id.
const (
	personsField = "persons"
	personKey    = "person_id"
	attendedKey  = "attended"
	personData   = "person_data"
)

// Trigger actions fired by attendance changes.
const (
	ActionUpdatePersonInEvent = "update_person_in_event"
	ActionAttends             = "attends"
)

func (s *Service) registerAttendance() {
	s.subs.Register(route.Events, route.Persons, route.VerbGet, s.eventPersons)
	s.subs.Register(route.Events, route.Persons, route.VerbPost, s.addPersonToEvent)
	s.subs.Register(route.Events, route.Persons, route.VerbPut, s.updatePersonInEvent)
	s.subs.Register(route.Events, route.Persons, route.VerbDelete, s.removePersonFromEvent)
	s.subs.Register(route.Persons, route.Events, route.VerbGet, s.personEvents)
}

func membership(eventID, personID string) store.EntryRef {
	return store.EntryRef{ParentID: eventID, Field: personsField, KeyField: personKey, Key: personID}
}

// entryFor returns the person's entry within event, or an empty document.
func entryFor(event store.Document, personID string) store.Document {
	arr, _ := event[personsField].([]any)
	for _, el := range arr {
		e, ok := el.(map[string]any)
		if ok && store.Equal(e[personKey], personID) {
			return store.Document(e).Clone()
		}
	}
	return store.Document{}
}

// GET events/{id}/persons[/{person_id}]
func (s *Service) eventPersons(ctx context.Context, req *route.Request) (any, error) {
	event, err := s.db.Get(ctx, route.Events, req.ID)
	if err != nil {
		return nil, err
	}
	if req.SubResourceID != "" {
		return map[string]any{"person": entryFor(event, req.SubResourceID)}, nil
	}
	params := filterParams(req.Query)
	arr, _ := event[personsField].([]any)
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if e, ok := el.(map[string]any); ok && store.Matches(e, params) {
			out = append(out, e)
		}
	}
	return map[string]any{"persons": out}, nil
}

// GET persons/{id}/events[/{event_id}]
func (s *Service) personEvents(ctx context.Context, req *route.Request) (any, error) {
	if req.SubResourceID != "" {
		event, err := s.db.Get(ctx, route.Events, req.SubResourceID)
		if err != nil {
			return nil, err
		}
		event[personData] = entryFor(event, req.ID)
		return event, nil
	}
	var params map[string]any
	if !flagSet(req.Query, "all") {
		params = map[string]any{personsField + "." + personKey: req.ID}
	}
	events, err := s.db.Query(ctx, route.Events, params)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		event[personData] = entryFor(event, req.ID)
	}
	if events == nil {
		events = []store.Document{}
	}
	return map[string]any{"events": events}, nil
}

// POST events/{id}/persons[/{person_id}]
//
// An existing membership is left untouched and returned as is.
func (s *Service) addPersonToEvent(ctx context.Context, req *route.Request) (any, error) {
	personID := req.SubResourceID
	if personID == "" {
		personID = bodyID(req.Body[personKey])
	}
	if personID == "" {
		return nil, fmt.Errorf("%w: %s is required", route.ErrInvalidRequest, personKey)
	}
	entry := req.Body.Clone()
	if entry == nil {
		entry = store.Document{}
	}
	entry[personKey] = personID

	res, err := s.db.UpdateEntry(ctx, route.Events, membership(req.ID, personID), entry, store.EntryAppendIfAbsent)
	if err != nil {
		return nil, err
	}
	if !res.Matched {
		s.recordAction(ctx, "registered", req.ID, personID)
	}
	return map[string]any{"person": res.After}, nil
}

// PUT events/{id}/persons/{person_id}
//
// Query parameters further restrict which entry is updated. After a merge
// the update_person_in_event trigger fires, and attends as well when the
// entry became attended.
func (s *Service) updatePersonInEvent(ctx context.Context, req *route.Request) (any, error) {
	personID := req.SubResourceID
	if personID == "" {
		return nil, fmt.Errorf("%w: %s id is required", route.ErrInvalidRequest, route.Persons)
	}
	ref := membership(req.ID, personID)
	ref.Match = filterParams(req.Query)
	patch := req.Body.Clone()
	delete(patch, personKey)

	res, err := s.db.UpdateEntry(ctx, route.Events, ref, patch, store.EntryMerge)
	if err != nil {
		return nil, err
	}
	if !res.Matched {
		return map[string]any{"event": res.Parent, "person": store.Document{}}, nil
	}

	payload := map[string]any{
		"old":    res.Before,
		"new":    res.After,
		"event":  res.Parent,
		"merged": res.Matched,
	}
	env := trigger.Environ(res.After)
	s.fire(ActionUpdatePersonInEvent, payload, env)
	if !store.Truthy(res.Before[attendedKey]) && store.Truthy(res.After[attendedKey]) {
		s.fire(ActionAttends, payload, env)
		s.recordAction(ctx, ActionAttends, req.ID, personID)
	}
	return map[string]any{"event": res.Parent, "person": res.After}, nil
}

// DELETE events/{id}/persons/{person_id}
func (s *Service) removePersonFromEvent(ctx context.Context, req *route.Request) (any, error) {
	if req.SubResourceID == "" {
		return nil, fmt.Errorf("%w: %s id is required", route.ErrInvalidRequest, route.Persons)
	}
	if _, err := s.db.UpdateEntry(ctx, route.Events, membership(req.ID, req.SubResourceID), nil, store.EntryDelete); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) fire(action string, payload any, env map[string]string) {
	if s.triggers == nil {
		return
	}
	if !s.triggers.Fire(action, payload, env) {
		s.logger.Warn("trigger not queued", "action", action)
	}
}

// recordAction appends to the actions log. Failures are logged only: the
// log is informational and the mutation has already been applied.
func (s *Service) recordAction(ctx context.Context, action, eventID, personID string) {
	candidate := store.Document{
		"action":    action,
		"event_id":  eventID,
		"person_id": personID,
		"at":        time.Now().UTC().Format(time.RFC3339),
	}
	searchBy := [][]string{{"action", "event_id", "person_id"}}
	if _, _, err := s.db.Merge(ctx, route.Actions, candidate, searchBy); err != nil {
		s.logger.Warn("failed to record action", "action", action, "event_id", eventID, "person_id", personID, "err", err)
	}
}

// bodyID renders an identifier taken from a request body. Numbers are
// accepted and stored in their string form so they match path ids; other
// types yield "".
func bodyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// flagSet reports whether a boolean query flag is present and not false.
func flagSet(q map[string]string, name string) bool {
	v, ok := q[name]
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
