package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/pkg/lql"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// maxBodySize caps request bodies.
const maxBodySize = 8 << 20

// Config holds the options of a Server.
type Config struct {
	Keys         []APIKey
	AuthRequired bool
	// QueryTimeout bounds a single query; zero means no bound.
	QueryTimeout time.Duration
	Logger       *zap.Logger
	// Now replaces time.Now when deriving timezone offsets.
	Now func() time.Time
}

// Server is the HTTP front end over a catalog.
type Server struct {
	catalog *engine.Catalog
	window  *engine.LogWindow
	keys    *keyRing
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
	srv     *http.Server
	parser  fastjson.ParserPool
}

func New(catalog *engine.Catalog, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		catalog: catalog,
		window:  catalog.Window(),
		keys:    newKeyRing(cfg.Keys, cfg.AuthRequired),
		timeout: cfg.QueryTimeout,
		log:     log.Named("http"),
		now:     now,
	}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/query", s.AuthMiddleware(http.HandlerFunc(s.handleQuery)))
	mux.Handle("/api/tables", s.AuthMiddleware(http.HandlerFunc(s.handleTables)))
	mux.Handle("/api/histogram", s.AuthMiddleware(http.HandlerFunc(s.handleHistogram)))
	mux.Handle("/api/log", s.AuthMiddleware(http.HandlerFunc(s.handleLog)))
	mux.Handle("/api/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/metrics", promhttp.Handler())

	return withRequestID(mux)
}

// withRequestID tags every response with an X-Request-Id, keeping the
// one the client sent.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// handleQuery runs one request. The body is either raw LQL text or a JSON
// object:
//
//	{"table": "services", "columns": ["host_name", "state"],
//	 "filter": ["Filter: state >= 2"], "where": "host_name ~ ^web",
//	 "limit": 10, "localtime": 1700000000, "auth_user": "alice"}
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	text := string(body)
	if isJSON(r, body) {
		if text, err = s.lqlFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	req, err := lql.ParseRequestAt(text, s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query, err := s.catalog.NewQuery(s.scope(r, engine.RequestFromLQL(req)))
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := s.queryContext(r.Context())
	defer cancel()
	res, err := query.Execute(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, res)
}

// lqlFromJSON renders a JSON query body as LQL header lines.
func (s *Server) lqlFromJSON(body []byte) (string, error) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %v", err)
	}

	table := string(v.GetStringBytes("table"))
	if table == "" {
		return "", errors.New("missing table")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s\n", table)

	if cols := v.GetArray("columns"); len(cols) > 0 {
		names := make([]string, 0, len(cols))
		for _, c := range cols {
			names = append(names, string(c.GetStringBytes()))
		}
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(names, " "))
	}

	switch f := v.Get("filter"); {
	case f == nil:
	case f.Type() == fastjson.TypeArray:
		arr, _ := f.Array()
		for _, line := range arr {
			if err := writeHeaderLine(&b, string(line.GetStringBytes())); err != nil {
				return "", err
			}
		}
	case f.Type() == fastjson.TypeString:
		for _, line := range strings.Split(string(f.GetStringBytes()), "\n") {
			if err := writeHeaderLine(&b, line); err != nil {
				return "", err
			}
		}
	default:
		return "", errors.New("filter must be a string or an array of strings")
	}

	if where := v.GetStringBytes("where"); len(where) > 0 {
		if err := writeHeaderLine(&b, "Where: "+string(where)); err != nil {
			return "", err
		}
	}
	if limit := v.GetInt("limit"); limit > 0 {
		fmt.Fprintf(&b, "Limit: %d\n", limit)
	}
	if lt := v.GetInt64("localtime"); lt > 0 {
		fmt.Fprintf(&b, "Localtime: %d\n", lt)
	}
	if user := v.GetStringBytes("auth_user"); len(user) > 0 {
		if err := writeHeaderLine(&b, "AuthUser: "+string(user)); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// writeHeaderLine appends one header, refusing embedded line breaks that
// would smuggle extra headers.
func writeHeaderLine(b *strings.Builder, line string) error {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if strings.ContainsAny(line, "\r\n") {
		return errors.New("header lines must not contain line breaks")
	}
	b.WriteString(line)
	b.WriteByte('\n')
	return nil
}

func isJSON(r *http.Request, body []byte) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "{")
}

// isJSONArray tells a JSON array of strings from log text, whose lines
// start with '[' too.
func isJSONArray(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	rest := strings.TrimSpace(trimmed[1:])
	return strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, "]")
}

// scope applies the authenticated key to a request: a key bound to a
// contact always queries as that contact.
func (s *Server) scope(r *http.Request, req engine.Request) engine.Request {
	if key := keyFrom(r.Context()); key != nil && key.Contact != "" {
		req.AuthUser = key.Contact
	}
	return req
}

func (s *Server) queryContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

type columnInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type tableInfo struct {
	Name    string       `json:"name"`
	Columns []columnInfo `json:"columns"`
}

// handleTables lists every table with its columns.
func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var tables []tableInfo
	for _, t := range s.catalog.Tables() {
		info := tableInfo{Name: t.Name()}
		t.ForEachColumn(func(c engine.Column) {
			info.Columns = append(info.Columns, columnInfo{
				Name:        c.Name(),
				Type:        c.Kind().String(),
				Description: c.Description(),
			})
		})
		tables = append(tables, info)
	}
	s.writeJSON(w, tables)
}

// handleHistogram buckets matching log entries over time. Parameters:
// start and end (epoch seconds, default the last hour), interval
// (seconds, default 60), table and column (default log/time) and an
// optional where expression.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	end := s.now().Unix()
	start := end - int64(time.Hour/time.Second)
	interval := int64(60)
	for name, dst := range map[string]*int64{"start": &start, "end": &end, "interval": &interval} {
		if str := q.Get(name); str != "" {
			val, err := strconv.ParseInt(str, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %s: %q", name, str), http.StatusBadRequest)
				return
			}
			*dst = val
		}
	}
	table := q.Get("table")
	if table == "" {
		table = engine.TableLog
	}
	column := q.Get("column")
	if column == "" {
		column = "time"
	}

	var expr lql.Node = lql.LogicalExpr{Op: "AND", Exprs: []lql.Node{
		lql.CompareExpr{Column: column, Op: ">=", Operand: strconv.FormatInt(start, 10)},
		lql.CompareExpr{Column: column, Op: "<=", Operand: strconv.FormatInt(end, 10)},
	}}
	if where := q.Get("where"); where != "" {
		node, err := lql.ParseExpr(where)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if node != nil {
			expr = lql.LogicalExpr{Op: "AND", Exprs: []lql.Node{expr, node}}
		}
	}

	query, err := s.catalog.NewQuery(s.scope(r, engine.Request{
		Table:    table,
		Columns:  []string{column},
		Expr:     expr,
		AuthUser: q.Get("auth_user"),
	}))
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := s.queryContext(r.Context())
	defer cancel()
	points, err := query.Histogram(ctx, column, time.Duration(interval)*time.Second)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, points)
}

// handleLog appends lines to the log window. The body is a JSON array of
// strings or newline separated text.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.window == nil {
		http.Error(w, "No log window configured", http.StatusServiceUnavailable)
		return
	}
	if key := keyFrom(r.Context()); key != nil && key.Contact != "" {
		http.Error(w, "Forbidden: restricted keys cannot append", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var lines []string
	if isJSON(r, body) || isJSONArray(body) {
		p := s.parser.Get()
		defer s.parser.Put(p)
		v, err := p.ParseBytes(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		arr, err := v.Array()
		if err != nil {
			http.Error(w, "Expected a JSON array of lines", http.StatusBadRequest)
			return
		}
		for _, val := range arr {
			lines = append(lines, string(val.GetStringBytes()))
		}
	} else {
		for _, line := range strings.Split(string(body), "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				lines = append(lines, line)
			}
		}
	}

	for _, line := range lines {
		s.window.Append(line)
	}
	s.writeJSON(w, map[string]int{"appended": len(lines)})
}

// handleStats reports the state of the log window.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.window == nil {
		s.writeJSON(w, engine.WindowStats{})
		return
	}
	s.writeJSON(w, s.window.Stats())
}

// fail maps engine errors to HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownTable), errors.Is(err, engine.ErrUnknownColumn):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrTypeMismatch), errors.Is(err, engine.ErrUnsupportedOperator), errors.Is(err, lql.ErrSyntax):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrUnknownViewer):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "Query timed out", http.StatusServiceUnavailable)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("JSON encode error", zap.Error(err))
	}
}
