package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coffersTech/livequery/internal/pkg/lql"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureLog = []string{
	"[1700000000] SERVICE ALERT: web01;HTTP;CRITICAL;HARD;3;connection refused",
	"[1700000100] HOST ALERT: ghost;DOWN;HARD;1;gone",
	"[1700000200] SERVICE NOTIFICATION: alice;web01;HTTP;CRITICAL;notify-service-by-email;connection refused",
	"[1700000300] Nagios 4.4.6 starting... (PID=42)",
}

func fixtureCatalog(t *testing.T, opts ...CatalogOption) *Catalog {
	t.Helper()
	store := fixtureStore(t)
	w := NewLogWindow(store)
	for _, line := range fixtureLog {
		w.Append(line)
	}
	return NewCatalog(store, w, nil, opts...)
}

func runLQL(t *testing.T, c *Catalog, text string) (*Result, error) {
	t.Helper()
	req, err := lql.ParseRequest(text)
	require.NoError(t, err)
	q, err := c.NewQuery(RequestFromLQL(req))
	if err != nil {
		return nil, err
	}
	return q.Execute(context.Background())
}

func mustLQL(t *testing.T, c *Catalog, text string) *Result {
	t.Helper()
	res, err := runLQL(t, c, text)
	require.NoError(t, err)
	return res
}

func texts(res *Result, column string) []string {
	out := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = row[column].String()
	}
	return out
}

func TestCatalogTables(t *testing.T) {
	c := fixtureCatalog(t)
	var names []string
	for _, table := range c.Tables() {
		names = append(names, table.Name())
	}
	assert.Equal(t, []string{TableHosts, TableServices, TableContacts, TableLog, TableColumns}, names)

	_, err := c.Table("downtimes")
	assert.ErrorIs(t, err, ErrUnknownTable)
	assert.NotNil(t, c.Window())

	log, err := c.Table(TableLog)
	require.NoError(t, err)
	for _, name := range []string{"time", "class", "host_name", "current_host_name", "current_service_state", "current_contact_email"} {
		_, ok := log.Column(name)
		assert.True(t, ok, name)
	}
}

func TestUnresolvedHostRelation(t *testing.T) {
	c := fixtureCatalog(t)

	res := mustLQL(t, c, "GET log\nColumns: time host_name\nFilter: current_host_name = ghost\n")
	assert.Empty(t, res.Rows)

	res = mustLQL(t, c, "GET log\nColumns: time host_name current_host_name\nFilter: host_name = ghost\n")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1700000100), res.Rows[0]["time"].Int())
	assert.Equal(t, "ghost", res.Rows[0]["host_name"].Text())
	assert.Equal(t, "", res.Rows[0]["current_host_name"].Text())
}

func TestLogRelations(t *testing.T) {
	c := fixtureCatalog(t)
	res := mustLQL(t, c, `GET log
Columns: type current_service_plugin_output current_host_state current_contact_alias
Filter: class = 3
`)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, "SERVICE NOTIFICATION", row["type"].Text())
	assert.Equal(t, "connection refused", row["current_service_plugin_output"].Text())
	assert.Equal(t, int64(1), row["current_host_state"].Int())
	assert.Equal(t, "Alice Admin", row["current_contact_alias"].Text())
}

func TestLogNewestFirstWithLimit(t *testing.T) {
	c := fixtureCatalog(t)
	res := mustLQL(t, c, "GET log\nColumns: time\nLimit: 2\n")
	assert.Equal(t, []string{"1700000300", "1700000200"}, texts(res, "time"))

	res = mustLQL(t, c, "GET log\nColumns: time\n")
	assert.Len(t, res.Rows, 4)
}

func TestHostsQuery(t *testing.T) {
	c := fixtureCatalog(t, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))

	res := mustLQL(t, c, "GET hosts\nColumns: name num_services worst_service_state state_age services\nFilter: state = 1\n")
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, "web01", row["name"].Text())
	assert.Equal(t, int64(2), row["num_services"].Int())
	assert.Equal(t, int64(2), row["worst_service_state"].Int())
	assert.Equal(t, "16m40s", row["state_age"].Text())
	assert.ElementsMatch(t, []string{"CPU load", "HTTP"}, row["services"].List())

	res = mustLQL(t, c, "GET hosts\nColumns: name custom_variable_names\nFilter: custom_variables = OS linux\n")
	assert.Equal(t, []string{"web01"}, texts(res, "name"))
	assert.Equal(t, []string{"OS"}, res.Rows[0]["custom_variable_names"].List())

	res = mustLQL(t, c, "GET hosts\nColumns: name state_age\nFilter: name = db01\n")
	assert.Equal(t, "", res.Rows[0]["state_age"].Text())
}

func TestFilterStack(t *testing.T) {
	c := fixtureCatalog(t)

	res := mustLQL(t, c, "GET hosts\nColumns: name\nFilter: name = web01\nFilter: name = db01\nOr: 2\n")
	assert.ElementsMatch(t, []string{"web01", "db01"}, texts(res, "name"))

	res = mustLQL(t, c, "GET hosts\nColumns: name\nFilter: name = web01\nNegate:\n")
	assert.Equal(t, []string{"db01"}, texts(res, "name"))

	res = mustLQL(t, c, "GET services\nColumns: description\nWhere: host_name = web01 AND NOT description ~ ^CPU\n")
	assert.Equal(t, []string{"HTTP"}, texts(res, "description"))

	res = mustLQL(t, c, "GET services\nColumns: host_name description\nFilter: host_name = web01\n")
	assert.Len(t, res.Rows, 2)
}

func TestAuthUser(t *testing.T) {
	c := fixtureCatalog(t)

	outputs := func(user string) map[string]string {
		res := mustLQL(t, c, "GET services\nColumns: description plugin_output\nAuthUser: "+user+"\n")
		out := make(map[string]string)
		for _, row := range res.Rows {
			out[row["description"].Text()] = row["plugin_output"].Text()
		}
		return out
	}

	assert.Equal(t, map[string]string{"CPU load": "load 12.0", "HTTP": ""}, outputs("bob"))
	assert.Equal(t, map[string]string{"CPU load": "load 12.0", "HTTP": "connection refused"}, outputs("alice"))

	res := mustLQL(t, c, "GET hosts\nColumns: name plugin_output\nAuthUser: bob\n")
	assert.ElementsMatch(t, []string{"", ""}, texts(res, "plugin_output"))
	res = mustLQL(t, c, "GET hosts\nColumns: name plugin_output\nFilter: name = web01\n")
	assert.Equal(t, []string{"PING CRITICAL"}, texts(res, "plugin_output"))
}

func TestQueryErrors(t *testing.T) {
	c := fixtureCatalog(t)
	tests := []struct {
		name string
		text string
		want error
	}{
		{"unknown table", "GET downtimes\n", ErrUnknownTable},
		{"unknown column", "GET hosts\nColumns: name bogus\n", ErrUnknownColumn},
		{"unknown filter column", "GET hosts\nFilter: bogus = 1\n", ErrUnknownColumn},
		{"unknown viewer", "GET hosts\nAuthUser: mallory\n", ErrUnknownViewer},
		{"type mismatch", "GET hosts\nFilter: state = high\n", ErrTypeMismatch},
		{"unsupported operator", "GET hosts\nFilter: state ~ 1\n", ErrUnsupportedOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runLQL(t, c, tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQueryTimezone(t *testing.T) {
	c := fixtureCatalog(t)
	expr, err := lql.ParseExpr("time >= 1700003700")
	require.NoError(t, err)

	q, err := c.NewQuery(Request{Table: TableLog, Columns: []string{"time"}, Expr: expr, Timezone: time.Hour})
	require.NoError(t, err)
	res, err := q.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000300", "1700000200", "1700000100"}, texts(res, "time"))
}

func TestQueryWithPrebuiltFilter(t *testing.T) {
	c := fixtureCatalog(t)
	hosts, err := c.Table(TableHosts)
	require.NoError(t, err)
	name, _ := hosts.Column("name")
	f, err := NewColumnFilter(name, OpEqual, "db01", 0)
	require.NoError(t, err)

	q, err := c.NewQuery(Request{Table: TableHosts, Filter: f})
	require.NoError(t, err)
	assert.True(t, q.Filter() == Filter(f))
	assert.Equal(t, hosts.Len(), len(q.Columns()))
	assert.Equal(t, hosts, q.Table())

	res, err := q.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Len(t, res.Rows[0], hosts.Len())
	assert.Equal(t, "name", res.Columns[0])
}

func TestColumnsTable(t *testing.T) {
	c := fixtureCatalog(t)
	res := mustLQL(t, c, "GET columns\nColumns: table name type description\nFilter: table = log\nFilter: name = current_host_name\n")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "string", res.Rows[0]["type"].Text())
	assert.Equal(t, "Current host: Host name", res.Rows[0]["description"].Text())

	res = mustLQL(t, c, "GET columns\nColumns: name\nFilter: table = contacts\n")
	assert.Contains(t, texts(res, "name"), "email")
}

func TestResultJSON(t *testing.T) {
	c := fixtureCatalog(t)
	res := mustLQL(t, c, "GET log\nColumns: time class host_name\nFilter: class = 1\n")

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"columns": ["time", "class", "host_name"],
		"rows": [
			{"time": 1700000100, "class": 1, "host_name": "ghost"},
			{"time": 1700000000, "class": 1, "host_name": "web01"}
		]
	}`, string(b))

	res = mustLQL(t, c, "GET hosts\nColumns: name\nFilter: name = nobody\n")
	b, err = json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns": ["name"], "rows": []}`, string(b))
}

func TestQueryMetrics(t *testing.T) {
	c := fixtureCatalog(t)
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues(TableContacts))
	scanned := testutil.ToFloat64(RowsScanned.WithLabelValues(TableContacts))

	mustLQL(t, c, "GET contacts\nColumns: name\n")
	assert.Equal(t, before+1, testutil.ToFloat64(QueriesTotal.WithLabelValues(TableContacts)))
	assert.Equal(t, scanned+2, testutil.ToFloat64(RowsScanned.WithLabelValues(TableContacts)))
}

func TestHistogram(t *testing.T) {
	c := fixtureCatalog(t)
	q, err := c.NewQuery(Request{Table: TableLog})
	require.NoError(t, err)

	points, err := q.Histogram(context.Background(), "time", 200*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []HistogramPoint{
		{Time: 1700000000, Count: 2},
		{Time: 1700000200, Count: 2},
	}, points)

	expr, err := lql.ParseExpr("class = 3")
	require.NoError(t, err)
	q, err = c.NewQuery(Request{Table: TableLog, Expr: expr, Limit: 1})
	require.NoError(t, err)
	points, err = q.Histogram(context.Background(), "time", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []HistogramPoint{{Time: 1699999200, Count: 1}}, points)

	_, err = q.Histogram(context.Background(), "message", time.Hour)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = q.Histogram(context.Background(), "nope", time.Hour)
	assert.ErrorIs(t, err, ErrUnknownColumn)
	_, err = q.Histogram(context.Background(), "time", time.Millisecond)
	assert.Error(t, err)
}

func TestLogValueSetsOutsideDomain(t *testing.T) {
	store := fixtureStore(t)
	w := NewLogWindow(store)
	w.Append("[1700000000] SERVICE ALERT: web01;HTTP;BOGUS;HARD;50;odd state")
	c := NewCatalog(store, w, nil)

	for _, tt := range []struct {
		filter, column string
		value          int64
	}{
		{"state != 0", "state", StateUnknownCode},
		{"attempt > 3", "attempt", 50},
	} {
		t.Run(tt.filter, func(t *testing.T) {
			res := mustLQL(t, c, "GET log\nColumns: "+tt.column+"\nFilter: "+tt.filter+"\n")
			require.Len(t, res.Rows, 1)
			assert.Equal(t, tt.value, res.Rows[0][tt.column].Int())

			req, err := lql.ParseRequest("GET log\nFilter: " + tt.filter + "\n")
			require.NoError(t, err)
			q, err := c.NewQuery(RequestFromLQL(req))
			require.NoError(t, err)
			if set, ok := q.Filter().ValueSetLeastUpperBoundFor(tt.column, 0).Get(); ok {
				assert.True(t, set.Contains(tt.value), "value set %b excludes %d", set, tt.value)
			}
		})
	}
}
