package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/artifact"
	"github.com/memogarden/memogarden/internal/audit"
	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/txn"
	"github.com/memogarden/memogarden/internal/verb"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := core.New(db, nil, nil)
	facts := soil.New(db, nil, nil)
	dispatcher := &verb.Dispatcher{
		Entities: entities, Facts: facts,
		Contexts: ctxstore.New(entities), Artifacts: artifact.New(entities, facts),
		Search: search.New(entities, facts), ContextSize: 10,
	}
	bus := audit.NewBus(8, nil)
	auditor := audit.New(dispatcher, facts, bus, nil)
	coord := txn.New(db, nil, nil, nil)
	require.NoError(t, coord.InitSystem(ctx))

	srv := New(DefaultConfig(), auditor, bus, coord, nil)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return ts
}

func postVerb(t *testing.T, ts *httptest.Server, op verb.Op, fields map[string]any, actor string) (int, verb.Response) {
	t.Helper()
	body := map[string]any{"op": string(op)}
	for k, v := range fields {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/verb", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out verb.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandleVerbCreateReturns200AndActorFromHeader(t *testing.T) {
	ts := newTestServer(t)
	status, resp := postVerb(t, ts, verb.OpCreate, map[string]any{"type": "note"}, "alice")
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.OK)
	require.Equal(t, "alice", resp.Actor)
}

func TestHandleVerbDefaultsActorToAnonymousWithoutHeader(t *testing.T) {
	ts := newTestServer(t)
	status, resp := postVerb(t, ts, verb.OpCreate, map[string]any{"type": "note"}, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "anonymous", resp.Actor)
}

func TestHandleVerbNotFoundMapsToHTTP404(t *testing.T) {
	ts := newTestServer(t)
	status, resp := postVerb(t, ts, verb.OpGet, map[string]any{"target": "does-not-exist"}, "alice")
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, resp.OK)
}

func TestHandleHealthReportsOK(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleStatusReflectsCoordinatorConsistency(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "normal", out.Status)
}

func TestProtocolVersionMismatchReturns426(t *testing.T) {
	ts := newTestServer(t)
	raw, err := json.Marshal(map[string]any{"op": "create", "type": "note"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/verb", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("X-Protocol-Version", "2.0.0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestHandleStatsReportsActiveConnections(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 0, out.ActiveConnections)
}
