package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/eventman/internal/resource"
	"github.com/gyaneshwarpardhi/eventman/internal/route"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: /x", route.ErrRouteNotFound), http.StatusNotFound},
		{fmt.Errorf("events e1: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad body", route.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: GET events/tickets", resource.ErrUnsupportedSubResource), http.StatusMethodNotAllowed},
		{fmt.Errorf("%w: read body: %w", route.ErrInvalidRequest, &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestCollectionLabel(t *testing.T) {
	for path, want := range map[string]string{
		"/events/e1/persons": "events",
		"/persons":           "persons",
		"/actions/":          "actions",
		"/readyz":            "readyz",
		"/wp-admin/x":        "other",
		"/":                  "other",
	} {
		assert.Equal(t, want, collectionLabel(path), path)
	}
}
