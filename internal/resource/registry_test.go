package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventman/internal/route"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
)

func noop(context.Context, *route.Request) (any, error) { return map[string]any{}, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(route.Events, "persons", route.VerbGet, noop)
	r.Register(route.Events, "persons", route.VerbPut, noop)

	h, err := r.Lookup(&route.Request{Collection: route.Events, SubResource: "persons", Verb: route.VerbGet})
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = r.Lookup(&route.Request{Collection: route.Events, SubResource: "persons", Verb: route.VerbPost})
	assert.ErrorIs(t, err, ErrUnsupportedSubResource)

	assert.Equal(t, []Key{
		{route.Events, "persons", route.VerbGet},
		{route.Events, "persons", route.VerbPut},
	}, r.Keys())
}

func TestRegistry_Panics(t *testing.T) {
	r := NewRegistry()
	r.Register(route.Events, "persons", route.VerbGet, noop)

	assert.Panics(t, func() { r.Register(route.Events, "persons", route.VerbGet, noop) }, "duplicate")
	assert.Panics(t, func() { r.Register("tickets", "persons", route.VerbGet, noop) }, "unknown collection")
	assert.Panics(t, func() { r.Register(route.Events, "persons", "PATCH", noop) }, "unknown verb")
	assert.Panics(t, func() { r.Register(route.Events, "persons", route.VerbDelete, nil) }, "nil handler")
}

func TestService_RegistersAttendance(t *testing.T) {
	s := NewService(store.NewMemory(), nil, nil)
	var keys []string
	for _, k := range s.Registry().Keys() {
		keys = append(keys, k.String())
	}
	assert.ElementsMatch(t, []string{
		"GET /events/{id}/persons",
		"POST /events/{id}/persons",
		"PUT /events/{id}/persons",
		"DELETE /events/{id}/persons",
		"GET /persons/{id}/events",
	}, keys)
}

func TestFlagSet(t *testing.T) {
	for q, want := range map[string]bool{"": true, "true": true, "1": true, "false": false, "0": false, "nope": false} {
		assert.Equal(t, want, flagSet(map[string]string{"all": q}, "all"), q)
	}
	assert.False(t, flagSet(map[string]string{}, "all"))
}
