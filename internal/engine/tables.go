package engine

import (
	"fmt"
	"time"

	"github.com/coffersTech/livequery/internal/model"
	"go.uber.org/zap"
)

// Table names served by the catalog.
const (
	TableHosts    = "hosts"
	TableServices = "services"
	TableContacts = "contacts"
	TableLog      = "log"
	TableColumns  = "columns"
)

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithClock replaces time.Now for columns that depend on the current time.
func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

// Catalog is the set of tables a query can address.
type Catalog struct {
	store  *model.Store
	window *LogWindow
	log    *zap.Logger
	now    func() time.Time

	tables map[string]*Table
	order  []*Table
}

// NewCatalog builds all tables over store and window. window may be nil,
// in which case the log table is empty.
func NewCatalog(store *model.Store, window *LogWindow, log *zap.Logger, opts ...CatalogOption) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{
		store:  store,
		window: window,
		log:    log,
		now:    time.Now,
		tables: make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(c)
	}

	hostCols := c.hostColumns()
	serviceCols := c.serviceColumns()
	contactCols := contactColumns()

	hosts := c.newTable(TableHosts, SliceSource(store.Hosts))
	addAll(hosts, hostCols)

	services := c.newTable(TableServices, SliceSource(store.Services))
	addAll(services, serviceCols)
	for _, col := range hostCols {
		services.AddColumn(Relation("host_", "Host: ", serviceHost, col))
	}

	contacts := c.newTable(TableContacts, SliceSource(store.Contacts))
	addAll(contacts, contactCols)

	var logSource RowSource
	if window != nil {
		logSource = window
	}
	logTable := c.newTable(TableLog, logSource)
	addAll(logTable, logColumns())
	for _, col := range hostCols {
		logTable.AddColumn(Relation("current_host_", "Current host: ", entryHost, col))
	}
	for _, col := range serviceCols {
		logTable.AddColumn(Relation("current_service_", "Current service: ", entryService, col))
	}
	for _, col := range contactCols {
		logTable.AddColumn(Relation("current_contact_", "Current contact: ", entryContact, col))
	}

	meta := c.newTable(TableColumns, nil)
	var rows []*columnRow
	for _, t := range c.order {
		t.ForEachColumn(func(col Column) {
			rows = append(rows, &columnRow{table: t.Name(), column: col})
		})
	}
	meta.source = SliceSource(func() []*columnRow { return rows })
	addAll(meta, columnsColumns())
	return c
}

func (c *Catalog) newTable(name string, source RowSource) *Table {
	t := NewTable(name, source, c.log)
	c.tables[name] = t
	c.order = append(c.order, t)
	return t
}

func addAll(t *Table, cols []Column) {
	for _, col := range cols {
		t.AddColumn(col)
	}
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables returns all tables in creation order.
func (c *Catalog) Tables() []*Table {
	return append([]*Table(nil), c.order...)
}

// Viewer resolves a contact name for authorization. An empty name means
// an unrestricted query.
func (c *Catalog) Viewer(name string) (*model.Contact, error) {
	if name == "" {
		return nil, nil
	}
	contact := c.store.Contact(name)
	if contact == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownViewer, name)
	}
	return contact, nil
}

// Window returns the log window behind the log table.
func (c *Catalog) Window() *LogWindow { return c.window }

// derivedOf builds a derived column for rows of type *T.
func derivedOf[T any](name, description string, kind Kind, compute func(*T) Value) Column {
	return Derived(name, description, kind, func(r Row) Value {
		rec, ok := r.(*T)
		if !ok || rec == nil {
			return Zero(kind)
		}
		return compute(rec)
	})
}

func hostVisible(r Row, viewer *model.Contact) bool {
	h, _ := r.(*model.Host)
	return h.HasContact(viewer.Name)
}

func serviceVisible(r Row, viewer *model.Contact) bool {
	s, _ := r.(*model.Service)
	return s.HasContact(viewer.Name)
}

func stateAge(now func() time.Time, lastChange int64) Value {
	if lastChange <= 0 {
		return Zero(KindText)
	}
	age := now().Sub(time.Unix(lastChange, 0)).Truncate(time.Second)
	if age < 0 {
		age = 0
	}
	return TextValue(age.String())
}

func variableNames(vars []model.Variable) Value {
	if len(vars) == 0 {
		return Zero(KindList)
	}
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return ListValue(names)
}

func (c *Catalog) hostColumns() []Column {
	type H = model.Host
	return []Column{
		StringField("name", "Host name", func(h *H) string { return h.Name }),
		StringField("alias", "An alias name for the host", func(h *H) string { return h.Alias }),
		StringField("address", "IP address", func(h *H) string { return h.Address }),
		IntField("state", "The current state of the host (0: up, 1: down, 2: unreachable)", func(h *H) int64 { return int64(h.State) }),
		IntField("state_type", "Type of the current state (0: soft, 1: hard)", func(h *H) int64 { return int64(h.StateType) }),
		BoolField("has_been_checked", "Whether the host has already been checked (0/1)", func(h *H) bool { return h.HasBeenChecked }),
		IntField("current_attempt", "Number of the current check attempts", func(h *H) int64 { return int64(h.CurrentAttempt) }),
		IntField("max_check_attempts", "Max check attempts for active host checks", func(h *H) int64 { return int64(h.MaxCheckAttempts) }),
		TimeField("last_check", "Time of the last check (Unix timestamp)", func(h *H) int64 { return h.LastCheck }),
		TimeField("last_state_change", "Time of the last state change (Unix timestamp)", func(h *H) int64 { return h.LastStateChange }),
		Authorized(
			StringField("plugin_output", "Output of the last host check", func(h *H) string { return h.PluginOutput }),
			hostVisible),
		DoubleField("latency", "Time difference between scheduled check time and actual check time", func(h *H) float64 { return h.Latency }),
		ListField("contacts", "A list of all contacts of this host", func(h *H) []string { return h.Contacts }),
		Authorized(
			PairsField("custom_variables", "A dictionary of the custom variables", func(h *H) []model.Variable { return h.CustomVariables }),
			hostVisible),
		derivedOf("custom_variable_names", "A list of the names of the custom variables", KindList, func(h *H) Value {
			return variableNames(h.CustomVariables)
		}),
		derivedOf("num_services", "The total number of services of the host", KindInt, func(h *H) Value {
			return IntValue(int64(len(h.Services)))
		}),
		derivedOf("services", "A list of all services of the host", KindList, func(h *H) Value {
			if len(h.Services) == 0 {
				return Zero(KindList)
			}
			names := make([]string, len(h.Services))
			for i, s := range h.Services {
				names[i] = s.Description
			}
			return ListValue(names)
		}),
		derivedOf("worst_service_state", "The worst soft state of all of the host's services (OK <= WARN <= UNKNOWN <= CRIT)", KindInt, func(h *H) Value {
			worst := int64(model.ServiceOK)
			for _, s := range h.Services {
				if serviceSeverity(s.State) > serviceSeverity(int(worst)) {
					worst = int64(s.State)
				}
			}
			return IntValue(worst)
		}),
		derivedOf("state_age", "Time since the last state change", KindText, func(h *H) Value {
			return stateAge(c.now, h.LastStateChange)
		}),
	}
}

// serviceSeverity orders states OK < WARNING < UNKNOWN < CRITICAL.
func serviceSeverity(state int) int {
	switch state {
	case model.ServiceWarning:
		return 1
	case model.ServiceUnknown:
		return 2
	case model.ServiceCritical:
		return 3
	}
	return 0
}

func (c *Catalog) serviceColumns() []Column {
	type S = model.Service
	return []Column{
		StringField("description", "Description of the service (also used as key)", func(s *S) string { return s.Description }),
		StringField("display_name", "An optional display name", func(s *S) string { return s.DisplayName }),
		IntField("state", "The current state of the service (0: OK, 1: WARN, 2: CRITICAL, 3: UNKNOWN)", func(s *S) int64 { return int64(s.State) }),
		IntField("state_type", "Type of the current state (0: soft, 1: hard)", func(s *S) int64 { return int64(s.StateType) }),
		BoolField("has_been_checked", "Whether the service has already been checked (0/1)", func(s *S) bool { return s.HasBeenChecked }),
		IntField("current_attempt", "Number of the current check attempts", func(s *S) int64 { return int64(s.CurrentAttempt) }),
		IntField("max_check_attempts", "Max check attempts for active service checks", func(s *S) int64 { return int64(s.MaxCheckAttempts) }),
		TimeField("last_check", "Time of the last check (Unix timestamp)", func(s *S) int64 { return s.LastCheck }),
		TimeField("last_state_change", "Time of the last state change (Unix timestamp)", func(s *S) int64 { return s.LastStateChange }),
		Authorized(
			StringField("plugin_output", "Output of the last service check", func(s *S) string { return s.PluginOutput }),
			serviceVisible),
		DoubleField("latency", "Time difference between scheduled check time and actual check time", func(s *S) float64 { return s.Latency }),
		ListField("contacts", "A list of all contacts of the service, either direct or via a contact group", func(s *S) []string { return s.Contacts }),
		Authorized(
			PairsField("custom_variables", "A dictionary of the custom variables", func(s *S) []model.Variable { return s.CustomVariables }),
			serviceVisible),
		derivedOf("custom_variable_names", "A list of the names of the custom variables", KindList, func(s *S) Value {
			return variableNames(s.CustomVariables)
		}),
		derivedOf("state_age", "Time since the last state change", KindText, func(s *S) Value {
			return stateAge(c.now, s.LastStateChange)
		}),
	}
}

func contactColumns() []Column {
	type C = model.Contact
	return []Column{
		StringField("name", "The login name of the contact person", func(c *C) string { return c.Name }),
		StringField("alias", "The full name of the contact", func(c *C) string { return c.Alias }),
		StringField("email", "The email address of the contact", func(c *C) string { return c.Email }),
		StringField("pager", "The pager address of the contact", func(c *C) string { return c.Pager }),
		BoolField("host_notifications_enabled", "Whether the contact will be notified about host problems in general (0/1)", func(c *C) bool { return c.HostNotificationsEnabled }),
		BoolField("service_notifications_enabled", "Whether the contact will be notified about service problems in general (0/1)", func(c *C) bool { return c.ServiceNotificationsEnabled }),
		PairsField("custom_variables", "A dictionary of the custom variables", func(c *C) []model.Variable { return c.CustomVariables }),
		derivedOf("custom_variable_names", "A list of the names of the custom variables", KindList, func(c *C) Value {
			return variableNames(c.CustomVariables)
		}),
	}
}

func logColumns() []Column {
	type E = LogEntry
	return []Column{
		TimeField("time", "Time of the log event (UNIX timestamp)", func(e *E) int64 { return e.Time }),
		IntField("lineno", "The number of the line in the log file", func(e *E) int64 { return int64(e.Lineno) }),
		EnumField("class", "The class of the message (0: info, 1: state, 2: program, 3: notification, 4: passive, 5: command)", func(e *E) int64 { return int64(e.Class) }),
		StringField("message", "The complete message line including the timestamp", (*E).Message),
		StringField("type", "The type of the message (text before the colon)", (*E).Type),
		StringField("options", "The part of the message after the ':'", (*E).Options),
		IntField("state", "The state of the host or service in question", func(e *E) int64 { return int64(e.State) }),
		StringField("state_type", "The type of the state (varies on different log classes)", (*E).StateTypeText),
		IntField("attempt", "The number of the check attempt", func(e *E) int64 { return int64(e.Attempt) }),
		StringField("host_name", "The name of the host the message is about", (*E).HostName),
		StringField("service_description", "The description of the service the message is about", (*E).ServiceDescription),
		StringField("contact_name", "The name of the contact the message is about", (*E).ContactName),
		StringField("command_name", "The name of the command involved", (*E).CommandName),
		StringField("plugin_output", "The output of the check, if any is associated with the message", (*E).CheckOutput),
		StringField("comment", "A comment field used in various message types", (*E).Comment),
	}
}

// columnRow is one row of the columns table.
type columnRow struct {
	table  string
	column Column
}

func columnsColumns() []Column {
	type R = columnRow
	return []Column{
		StringField("table", "The name of the table", func(r *R) string { return r.table }),
		StringField("name", "The name of the column within the table", func(r *R) string { return r.column.Name() }),
		StringField("description", "A description of the column", func(r *R) string { return r.column.Description() }),
		StringField("type", "The data type of the column (int, float, string, list)", func(r *R) string { return r.column.Kind().String() }),
	}
}

func serviceHost(r Row) Row {
	if s, ok := r.(*model.Service); ok && s != nil {
		return s.Host
	}
	return nil
}

func entryHost(r Row) Row {
	if e, ok := r.(*LogEntry); ok && e != nil {
		return e.Host
	}
	return nil
}

func entryService(r Row) Row {
	if e, ok := r.(*LogEntry); ok && e != nil {
		return e.Service
	}
	return nil
}

func entryContact(r Row) Row {
	if e, ok := r.(*LogEntry); ok && e != nil {
		return e.Contact
	}
	return nil
}
