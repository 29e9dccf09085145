package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/activity"
	"github.com/matthewbaird/docagg/internal/eventbus"
	"github.com/matthewbaird/docagg/internal/logging"
	"github.com/matthewbaird/docagg/internal/metrics"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := store.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	runs := activity.NewMemoryStore(0)
	bus := eventbus.New(16, logging.Discard())
	bus.Subscribe("activity", runs)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)

	m := metrics.New()
	rt := router.New(st, router.NewOverride(false), router.Config{
		FallbackOnEngineError: true,
		Hooks:                 router.ChainHooks(m.RouterHooks(), bus.Hooks()),
		Logger:                logging.Discard(),
	})
	srv := httptest.NewServer(New(Config{Store: st, Router: rt, Metrics: m, Runs: runs, Logger: logging.Discard()}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func seed(t *testing.T, base string) {
	t.Helper()
	status, body := do(t, http.MethodPost, base+"/v1/collections/products/documents", `[
		{"_id": "p1", "category": "Cat1", "price": 10, "tags": ["a", "b"]},
		{"_id": "p2", "category": "Cat2", "price": 20, "tags": ["b"]},
		{"_id": "p3", "category": "Cat1", "price": 30}
	]`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, float64(3), body["inserted"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAggregate_SQLPath(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv.URL)

	status, body := do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate",
		`{"pipeline": [{"$match": {"category": "Cat1"}}, {"$sort": {"price": -1}}, {"$project": {"price": 1}}]}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "sql", body["path"])

	docs := body["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, map[string]any{"_id": "p3", "price": float64(30)}, docs[0])
	assert.Equal(t, map[string]any{"_id": "p1", "price": float64(10)}, docs[1])
}

func TestAggregate_UnsupportedFallsBack(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv.URL)

	status, body := do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate",
		`{"pipeline": [{"$match": {"category": {"$regex": "^cat1$", "$options": "i"}}}]}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "fallback", body["path"])
	assert.Equal(t, router.ReasonUnsupported, body["reason"])
	assert.Len(t, body["documents"], 2)
}

func TestAggregate_Errors(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate",
		`{"pipeline": [{"$mach": {}}]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PIPELINE", body["code"])
	assert.Contains(t, body["error"], "did you mean '$match'?")

	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PIPELINE", body["code"])

	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/sqlite_master/aggregate",
		`{"pipeline": []}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_COLLECTION", body["code"])
}

func TestAggregate_UnknownCollectionIsEmpty(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, http.MethodPost, srv.URL+"/v1/collections/ghosts/aggregate",
		`{"pipeline": [{"$limit": 5}]}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body["documents"])
}

func TestIndexes(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodPost, srv.URL+"/v1/collections/products/indexes", `{"field": "category"}`)
	assert.Equal(t, http.StatusNotFound, status, body)

	seed(t, srv.URL)
	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/products/indexes", `{"field": "category"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "idx_products.category", body["name"])

	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/products/indexes", `{"field": "a..b"}`)
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = do(t, http.MethodGet, srv.URL+"/v1/collections/products/indexes", "")
	require.Equal(t, http.StatusOK, status)
	fields := []string{}
	for _, e := range body["indexes"].([]any) {
		fields = append(fields, e.(map[string]any)["field"].(string))
	}
	assert.Equal(t, []string{"_id", "category"}, fields)

	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/products/explain",
		`{"pipeline": [{"$match": {"category": "Cat1"}}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sql", body["path"])
	assert.InDelta(t, 0.3, body["cost"].(map[string]any)["total"], 1e-9)
	assert.NotEmpty(t, body["statement"])
}

func TestFallbackOverride(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv.URL)

	status, body := do(t, http.MethodGet, srv.URL+"/v1/router/fallback", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["forceFallback"])

	status, _ = do(t, http.MethodPut, srv.URL+"/v1/router/fallback", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, http.MethodPut, srv.URL+"/v1/router/fallback", `{"forceFallback": true}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["forceFallback"])

	status, body = do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate",
		`{"pipeline": [{"$limit": 1}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fallback", body["path"])
	assert.Equal(t, router.ReasonForced, body["reason"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `docagg_pipeline_runs_total{path="fallback",reason="forced"} 1`)
	assert.Contains(t, string(raw), "docagg_force_fallback 1")
}

func TestRuns(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv.URL)

	for _, p := range []string{
		`{"pipeline": [{"$limit": 1}]}`,
		`{"pipeline": [{"$match": {"category": {"$regex": "1$"}}}]}`,
	} {
		status, _ := do(t, http.MethodPost, srv.URL+"/v1/collections/products/aggregate", p)
		require.Equal(t, http.StatusOK, status)
	}

	var body map[string]any
	require.Eventually(t, func() bool {
		_, body = do(t, http.MethodGet, srv.URL+"/v1/runs?collection=products", "")
		return body["total"] == float64(2)
	}, 5*time.Second, 10*time.Millisecond)

	runs := body["runs"].([]any)
	paths := []any{}
	for _, r := range runs {
		paths = append(paths, r.(map[string]any)["path"])
	}
	assert.ElementsMatch(t, []any{"sql", "fallback"}, paths)

	_, body = do(t, http.MethodGet, srv.URL+"/v1/runs?path=fallback", "")
	assert.Equal(t, float64(1), body["total"])

	status, _ := do(t, http.MethodGet, srv.URL+"/v1/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConsoleWebSocket(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/repl/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	read := func() map[string]any {
		var msg map[string]any
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		return msg
	}
	execute := func(id, input string) {
		require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
			"type": "execute", "id": id, "data": map[string]string{"input": input},
		}))
	}

	assert.Equal(t, "session", read()["type"])

	execute("1", ":use products")
	assert.Equal(t, "meta", read()["type"])
	sess := read()
	assert.Equal(t, "session", sess["type"])
	assert.Equal(t, "products", sess["data"].(map[string]any)["collection"])

	execute("2", `[{"$match": {"category": "Cat1"}}]`)
	res := read()
	require.Equal(t, "result", res["type"], res)
	assert.Equal(t, "2", res["request_id"])
	assert.Equal(t, "sql", res["data"].(map[string]any)["path"])
	rows := read()
	assert.Equal(t, "rows", rows["type"])
	assert.Len(t, rows["data"].(map[string]any)["rows"], 2)
	assert.Equal(t, "done", read()["type"])

	execute("3", `aggregate products [{"$bogus": 1}]`)
	errMsg := read()
	assert.Equal(t, "error", errMsg["type"])
	assert.Equal(t, "definition_error", errMsg["data"].(map[string]any)["code"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "ping", "id": "4"}))
	assert.Equal(t, "pong", read()["type"])
}
