package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventman/internal/api"
	"github.com/gyaneshwarpardhi/eventman/internal/resource"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
	"github.com/gyaneshwarpardhi/eventman/internal/trigger"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeQueue float64

func (q fakeQueue) QueueUtilization() float64 { return float64(q) }

func newServer(t *testing.T, firer resource.Firer, queue api.QueueMonitor) *httptest.Server {
	t.Helper()
	db := store.NewMemory()
	srv := httptest.NewServer(api.New(resource.NewService(db, firer, nil), db, queue, nil))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "%s %s", method, path)
	return resp.StatusCode, out
}

func TestAPI_CollectionCRUD(t *testing.T) {
	srv := newServer(t, nil, nil)

	code, created := call(t, srv, "POST", "/persons", `{"name":"Ada","surname":"Lovelace"}`)
	require.Equal(t, http.StatusOK, code)
	id, _ := created["_id"].(string)
	require.NotEmpty(t, id)

	code, got := call(t, srv, "GET", "/persons/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ada", got["name"])

	code, got = call(t, srv, "PUT", "/persons/"+id, `{"name":"Augusta Ada"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Augusta Ada", got["name"])
	assert.Equal(t, "Lovelace", got["surname"])

	code, list := call(t, srv, "GET", "/persons/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, list["persons"], 1)

	for i := 0; i < 2; i++ {
		code, out := call(t, srv, "DELETE", "/persons/"+id, "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, out["success"])
	}
	code, list = call(t, srv, "GET", "/persons", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, list["persons"])
}

func TestAPI_ErrorStatus(t *testing.T) {
	srv := newServer(t, nil, nil)
	_, ev := call(t, srv, "POST", "/events", `{"title":"Meetup"}`)
	eid := ev["_id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown collection", "GET", "/tickets", "", http.StatusNotFound},
		{"too deep", "GET", "/events/a/persons/b/c", "", http.StatusNotFound},
		{"unsupported verb", "PATCH", "/events", "", http.StatusNotFound},
		{"empty primary id", "GET", "/events//persons", "", http.StatusBadRequest},
		{"missing document", "GET", "/events/missing", "", http.StatusNotFound},
		{"missing parent", "GET", "/events/missing/persons", "", http.StatusNotFound},
		{"unsupported sub-resource", "GET", "/events/" + eid + "/tickets", "", http.StatusMethodNotAllowed},
		{"non-object body", "POST", "/events", `[1,2]`, http.StatusBadRequest},
		{"malformed body", "POST", "/events", `{"title":`, http.StatusBadRequest},
		{"put without id", "PUT", "/events", `{}`, http.StatusBadRequest},
		{"person id required", "POST", "/events/" + eid + "/persons", `{"name":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := call(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestAPI_Attendance(t *testing.T) {
	srv := newServer(t, nil, nil)
	_, ev := call(t, srv, "POST", "/events", `{"title":"Meetup"}`)
	eid := ev["_id"].(string)

	code, out := call(t, srv, "POST", "/events/"+eid+"/persons/p1", `{"name":"Ada","company":"Acme"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", out["person"].(map[string]any)["person_id"])
	call(t, srv, "POST", "/events/"+eid+"/persons/p1", `{"name":"Ada","company":"Acme"}`)
	call(t, srv, "POST", "/events/"+eid+"/persons/p2", `{"name":"Bob","company":"Other"}`)

	_, out = call(t, srv, "GET", "/events/"+eid+"/persons?company=Acme", "")
	assert.Len(t, out["persons"], 1)

	code, out = call(t, srv, "PUT", "/events/"+eid+"/persons/p1", `{"attended":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["person"].(map[string]any)["attended"])
	assert.Equal(t, eid, out["event"].(map[string]any)["_id"])

	_, out = call(t, srv, "GET", "/persons/p1/events", "")
	events := out["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].(map[string]any)["person_data"].(map[string]any)["attended"])

	_, out = call(t, srv, "GET", "/persons/p3/events/"+eid, "")
	assert.Equal(t, map[string]any{}, out["person_data"])

	_, out = call(t, srv, "GET", "/actions?event_id="+eid, "")
	assert.Len(t, out["actions"], 3)
}

func TestAPI_HealthAndReady(t *testing.T) {
	srv := newServer(t, nil, nil)
	code, out := call(t, srv, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])

	code, out = call(t, srv, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", out["status"])

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	busy := newServer(t, nil, fakeQueue(0.95))
	code, out = call(t, busy, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "overloaded", out["status"])

	down := httptest.NewServer(api.New(resource.NewService(store.NewMemory(), nil, nil), fakePinger{errors.New("no primary")}, nil, nil))
	defer down.Close()
	code, out = call(t, down, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "no primary", out["error"])
}

func TestAPI_RequestID(t *testing.T) {
	srv := newServer(t, nil, nil)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest("GET", srv.URL+"/events", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func writeScript(t *testing.T, dir, action, name, body string) {
	t.Helper()
	p := filepath.Join(dir, action)
	require.NoError(t, os.MkdirAll(p, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

// A trigger that outlives its timeout is killed in the background; the PUT
// that fired it has long returned by then.
func TestAPI_TriggerDoesNotDelayResponse(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("trigger scripts need a POSIX shell")
	}
	dir := t.TempDir()
	out := t.TempDir()
	t.Setenv("EVENTMAN_TEST_OUT", out)
	writeScript(t, dir, resource.ActionUpdatePersonInEvent, "slow", "sleep 30")
	writeScript(t, dir, resource.ActionAttends, "record", `cat > "$EVENTMAN_TEST_OUT/attends.json"; echo "$PERSON_ID" > "$EVENTMAN_TEST_OUT/env.txt"`)

	const timeout = 500 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	runner := trigger.New(ctx, trigger.Config{Dir: dir, Timeout: timeout, Workers: 2, QueueDepth: 8}, nil)
	t.Cleanup(func() {
		cancel()
		runner.Shutdown()
	})
	results := make(chan *trigger.Result, 4)
	runner.OnResult(func(r *trigger.Result) { results <- r })

	srv := newServer(t, runner, runner)
	_, ev := call(t, srv, "POST", "/events", `{"title":"Meetup"}`)
	eid := ev["_id"].(string)
	call(t, srv, "POST", "/events/"+eid+"/persons/p1", `{"name":"Ada"}`)

	start := time.Now()
	code, body := call(t, srv, "PUT", "/events/"+eid+"/persons/p1", `{"attended":true}`)
	responded := time.Since(start)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["person"].(map[string]any)["attended"])
	assert.Less(t, responded, timeout, "response must not wait for triggers")

	byAction := map[string]*trigger.Result{}
	deadline := time.After(10 * time.Second)
	for len(byAction) < 2 {
		select {
		case r := <-results:
			byAction[r.Action] = r
		case <-deadline:
			t.Fatalf("triggers did not finish, got %v", byAction)
		}
	}

	slow := byAction[resource.ActionUpdatePersonInEvent]
	assert.True(t, slow.TimedOut)
	assert.Equal(t, "timeout", slow.Status())
	assert.GreaterOrEqual(t, slow.Duration, timeout)
	assert.Greater(t, slow.Duration, responded)

	rec := byAction[resource.ActionAttends]
	require.NoError(t, rec.Err)
	data, err := os.ReadFile(filepath.Join(out, "attends.json"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, true, payload["new"].(map[string]any)["attended"])
	assert.Nil(t, payload["old"].(map[string]any)["attended"])
	assert.Equal(t, true, payload["merged"])
	env, err := os.ReadFile(filepath.Join(out, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "p1", string(bytes.TrimSpace(env)))
}
