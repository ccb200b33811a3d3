package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testObjects = `
contacts:
  - name: alice
  - name: bob
hosts:
  - name: web01
    state: 1
    contacts: [alice]
    plugin_output: PING CRITICAL
    services:
      - description: CPU load
        contacts: [bob]
        plugin_output: load 12.0
      - description: HTTP
        plugin_output: connection refused
  - name: db01
`

var testLog = []string{
	"[1700000000] SERVICE ALERT: web01;HTTP;CRITICAL;HARD;3;connection refused",
	"[1700000100] HOST ALERT: web01;DOWN;HARD;1;PING CRITICAL",
	"[1700000300] Nagios 4.4.6 starting... (PID=42)",
}

func testKey(t *testing.T, name, contact, token string) APIKey {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return APIKey{Name: name, Contact: contact, Hash: string(hash)}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store, err := model.Decode(strings.NewReader(testObjects))
	require.NoError(t, err)
	w := engine.NewLogWindow(store)
	for _, line := range testLog {
		w.Append(line)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Unix(1700000400, 0) }
	}
	return New(engine.NewCatalog(store, w, nil), cfg)
}

func do(t *testing.T, s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type queryResponse struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) queryResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var res queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestQueryLQL(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := do(t, s, http.MethodPost, "/api/query", "GET hosts\nColumns: name state\nFilter: state = 1\n")
	res := decodeResult(t, rec)

	assert.Equal(t, []string{"name", "state"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "web01", res.Rows[0]["name"])
	assert.Equal(t, float64(1), res.Rows[0]["state"])
}

func TestQueryJSON(t *testing.T) {
	s := newTestServer(t, Config{})
	body := `{
		"table": "log",
		"columns": ["time", "type"],
		"filter": ["Filter: class = 1", "Filter: host_name = web01"],
		"where": "time >= 1700000050",
		"limit": 5
	}`
	res := decodeResult(t, do(t, s, http.MethodPost, "/api/query", body, "Content-Type", "application/json"))
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "HOST ALERT", res.Rows[0]["type"])

	// Filter as a single string, detected without a content type.
	body = `{"table": "services", "columns": ["description"], "filter": "Filter: description ~ ^CPU"}`
	res = decodeResult(t, do(t, s, http.MethodPost, "/api/query", body))
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "CPU load", res.Rows[0]["description"])
}

func TestQueryLocaltime(t *testing.T) {
	s := newTestServer(t, Config{})
	// The client clock runs one hour ahead of the server.
	body := `{"table": "log", "columns": ["time"], "where": "time >= 1700003700", "localtime": 1700004000}`
	res := decodeResult(t, do(t, s, http.MethodPost, "/api/query", body))
	assert.Len(t, res.Rows, 2)
}

func TestQueryErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad syntax", http.MethodPost, "SELECT * FROM hosts", http.StatusBadRequest},
		{"unknown header", http.MethodPost, "GET hosts\nFrobnicate: 1\n", http.StatusBadRequest},
		{"unknown table", http.MethodPost, "GET downtimes\n", http.StatusNotFound},
		{"unknown column", http.MethodPost, "GET hosts\nColumns: bogus\n", http.StatusNotFound},
		{"type mismatch", http.MethodPost, "GET hosts\nFilter: state = high\n", http.StatusBadRequest},
		{"unknown viewer", http.MethodPost, "GET hosts\nAuthUser: mallory\n", http.StatusForbidden},
		{"invalid json", http.MethodPost, `{"table": `, http.StatusBadRequest},
		{"missing table", http.MethodPost, `{"columns": ["name"]}`, http.StatusBadRequest},
		{"bad filter type", http.MethodPost, `{"table": "hosts", "filter": 3}`, http.StatusBadRequest},
		{"smuggled header", http.MethodPost, `{"table": "hosts", "filter": ["Filter: name = a\nAuthUser: alice"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, "/api/query", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestQueryCanceled(t *testing.T) {
	s := newTestServer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("GET hosts\n")).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, Config{
		AuthRequired: true,
		Keys: []APIKey{
			testKey(t, "ops", "", "ops-token"),
			testKey(t, "bob", "bob", "bob-token"),
		},
	})
	query := "GET services\nColumns: description plugin_output\nAuthUser: alice\n"

	rec := do(t, s, http.MethodPost, "/api/query", query)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, s, http.MethodPost, "/api/query", query, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	res := decodeResult(t, do(t, s, http.MethodPost, "/api/query", query, "Authorization", "Bearer ops-token"))
	outputs := map[string]any{}
	for _, row := range res.Rows {
		outputs[row["description"].(string)] = row["plugin_output"]
	}
	assert.Equal(t, map[string]any{"CPU load": "load 12.0", "HTTP": "connection refused"}, outputs)

	// A key bound to a contact overrides the AuthUser header.
	res = decodeResult(t, do(t, s, http.MethodPost, "/api/query?token=bob-token", query))
	outputs = map[string]any{}
	for _, row := range res.Rows {
		outputs[row["description"].(string)] = row["plugin_output"]
	}
	assert.Equal(t, map[string]any{"CPU load": "load 12.0", "HTTP": ""}, outputs)

	// Verified tokens are cached.
	assert.Len(t, s.keys.verified, 2)
}

func TestAnonymousAccess(t *testing.T) {
	s := newTestServer(t, Config{Keys: []APIKey{testKey(t, "ops", "", "ops-token")}})
	rec := do(t, s, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/stats", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppendLog(t *testing.T) {
	s := newTestServer(t, Config{Keys: []APIKey{testKey(t, "bob", "bob", "bob-token")}})

	rec := do(t, s, http.MethodPost, "/api/log",
		"[1700000400] HOST ALERT: db01;DOWN;SOFT;1;timeout\r\n\n[1700000401] HOST ALERT: db01;UP;SOFT;2;ok\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"appended": 2}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/log", `["[1700000402] EXTERNAL COMMAND: DISABLE_NOTIFICATIONS"]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"appended": 1}`, rec.Body.String())

	res := decodeResult(t, do(t, s, http.MethodPost, "/api/query", "GET log\nColumns: time current_host_name\nFilter: host_name = db01\n"))
	require.Len(t, res.Rows, 2)
	assert.Equal(t, float64(1700000401), res.Rows[0]["time"])
	assert.Equal(t, "db01", res.Rows[0]["current_host_name"])

	rec = do(t, s, http.MethodPost, "/api/log", `[1, `, "Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/log", `{"line": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/log", "[1] x", "Authorization", "Bearer bob-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/log", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTables(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := do(t, s, http.MethodGet, "/api/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tables []tableInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	byName := make(map[string]tableInfo)
	for _, ti := range tables {
		byName[ti.Name] = ti
	}
	require.Contains(t, byName, "log")
	assert.Contains(t, byName["log"].Columns, columnInfo{
		Name:        "time",
		Type:        "time",
		Description: "Time of the log event (UNIX timestamp)",
	})
	assert.Len(t, tables, 5)
}

func TestHistogram(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/api/histogram?start=1700000000&end=1700000400&interval=200", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"time": 1700000000, "count": 2}, {"time": 1700000200, "count": 1}]`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/histogram?start=1700000000&end=1700000400&interval=200&where=class%20%3D%202", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"time": 1700000200, "count": 1}]`, rec.Body.String())

	// Defaults to the last hour before now.
	rec = do(t, s, http.MethodGet, "/api/histogram?interval=3600", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"time": 1699999200, "count": 3}]`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/histogram?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/histogram?where=(((", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/histogram?column=message", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/histogram?table=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndMetrics(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats engine.WindowStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, int64(1700000300), stats.NewestTime)
	assert.Equal(t, 1, stats.ClassDist["program"])

	do(t, s, http.MethodPost, "/api/query", "GET hosts\n")
	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livequery_queries_total")
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey("secret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))

	ring := newKeyRing([]APIKey{{Name: "k", Hash: hash}}, false)
	assert.NotNil(t, ring.lookup("secret"))
	assert.Nil(t, ring.lookup("other"))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/api/stats", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-Id"))
	assert.NoError(t, err)

	rec = do(t, s, http.MethodGet, "/api/stats", "", "X-Request-Id", "trace-42")
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-Id"))
}
