package engine

import (
	"strconv"
	"strings"

	"github.com/coffersTech/livequery/internal/model"
)

// LogClass is the category of a log entry.
type LogClass int

const (
	ClassInfo         LogClass = 0 // everything not recognized
	ClassState        LogClass = 1 // host/service alerts, initial and current states
	ClassProgram      LogClass = 2 // core start/stop
	ClassNotification LogClass = 3
	ClassPassiveCheck LogClass = 4
	ClassCommand      LogClass = 5 // external commands
)

func (c LogClass) String() string {
	switch c {
	case ClassInfo:
		return "info"
	case ClassState:
		return "state"
	case ClassProgram:
		return "program"
	case ClassNotification:
		return "notification"
	case ClassPassiveCheck:
		return "passive"
	case ClassCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ProgramState tells what a program class entry reports about the core.
type ProgramState int

const (
	ProgramNone ProgramState = iota
	ProgramStarted
	ProgramStopped
	ProgramRestarting
)

// StateUnknownCode is stored for state and state type keywords that are
// not in the vocabulary.
const StateUnknownCode = -1

var (
	serviceStates = map[string]int{
		"OK":       model.ServiceOK,
		"WARNING":  model.ServiceWarning,
		"CRITICAL": model.ServiceCritical,
		"UNKNOWN":  model.ServiceUnknown,
	}
	hostStates = map[string]int{
		"UP":          model.HostUp,
		"DOWN":        model.HostDown,
		"UNREACHABLE": model.HostUnreachable,
	}
	stateTypes = map[string]int{
		"SOFT": model.StateTypeSoft,
		"HARD": model.StateTypeHard,
	}
)

// Resolver looks up live objects named by a log line.
// *model.Store satisfies it.
type Resolver interface {
	Host(name string) *model.Host
	Service(hostName, description string) *model.Service
	Contact(name string) *model.Contact
}

// Span is a half-open byte range [start,end) into the owning entry's
// line. It is only meaningful together with that entry.
type Span struct {
	start, end int32
}

func (s Span) empty() bool { return s.end <= s.start }

// LogEntry is one parsed line of the monitoring log. It is built once by
// NewLogEntry and never modified afterwards, so concurrent scans may read
// it freely.
//
// The entry owns a single copy of the raw line. Every text field is a
// Span into that copy, so parsing allocates nothing beyond the copy and
// the fields stay valid exactly as long as the entry.
type LogEntry struct {
	line string

	Lineno      int
	Time        int64
	Class       LogClass
	State       int
	StateType   int
	Attempt     int
	Program     ProgramState
	typ         Span
	text        Span
	options     Span
	hostName    Span
	svcDesc     Span
	contactName Span
	commandName Span
	stateType   Span
	checkOutput Span
	comment     Span

	Host    *model.Host
	Service *model.Service
	Contact *model.Contact
}

func (e *LogEntry) view(s Span) string {
	if s.empty() {
		return ""
	}
	return e.line[s.start:s.end]
}

// Message returns the complete line.
func (e *LogEntry) Message() string { return e.line }

// Type returns the type tag, e.g. "SERVICE ALERT".
func (e *LogEntry) Type() string { return e.view(e.typ) }

// Text returns the line without the timestamp.
func (e *LogEntry) Text() string { return e.view(e.text) }

// Options returns everything after the type tag.
func (e *LogEntry) Options() string { return e.view(e.options) }

func (e *LogEntry) HostName() string { return e.view(e.hostName) }
func (e *LogEntry) ServiceDescription() string { return e.view(e.svcDesc) }
func (e *LogEntry) ContactName() string { return e.view(e.contactName) }
func (e *LogEntry) CommandName() string { return e.view(e.commandName) }
func (e *LogEntry) StateTypeText() string { return e.view(e.stateType) }
func (e *LogEntry) CheckOutput() string { return e.view(e.checkOutput) }
func (e *LogEntry) Comment() string { return e.view(e.comment) }

// tokenizer walks forward through the entry's line, cutting fields at a
// separator. Consumed input is never revisited.
type tokenizer struct {
	line string
	pos  int32
	end  int32
}

func (t *tokenizer) done() bool { return t.pos >= t.end }

// next returns the span up to the next sep and moves past the separator.
func (t *tokenizer) next(sep byte) Span {
	if t.done() {
		return Span{}
	}
	start := t.pos
	if i := strings.IndexByte(t.line[start:t.end], sep); i >= 0 {
		t.pos = start + int32(i) + 1
		return Span{start: start, end: start + int32(i)}
	}
	t.pos = t.end
	return Span{start: start, end: t.end}
}

// rest returns everything not consumed yet.
func (t *tokenizer) rest() Span {
	if t.done() {
		return Span{}
	}
	s := Span{start: t.pos, end: t.end}
	t.pos = t.end
	return s
}

type entryHandler func(e *LogEntry, t *tokenizer)

// handlers maps the type tag before the first ':' to its field layout.
var handlers = map[string]entryHandler{
	"HOST ALERT":             (*LogEntry).handleHostState,
	"INITIAL HOST STATE":     (*LogEntry).handleHostState,
	"CURRENT HOST STATE":     (*LogEntry).handleHostState,
	"SERVICE ALERT":          (*LogEntry).handleServiceState,
	"INITIAL SERVICE STATE":  (*LogEntry).handleServiceState,
	"CURRENT SERVICE STATE":  (*LogEntry).handleServiceState,
	"HOST DOWNTIME ALERT":    (*LogEntry).handleHostEvent,
	"HOST FLAPPING ALERT":    (*LogEntry).handleHostEvent,
	"SERVICE DOWNTIME ALERT": (*LogEntry).handleServiceEvent,
	"SERVICE FLAPPING ALERT": (*LogEntry).handleServiceEvent,
	"TIMEPERIOD TRANSITION":  (*LogEntry).handleTimeperiod,
	"HOST NOTIFICATION":      (*LogEntry).handleHostNotification,
	"SERVICE NOTIFICATION":   (*LogEntry).handleServiceNotification,
	"PASSIVE HOST CHECK":     (*LogEntry).handlePassiveHostCheck,
	"PASSIVE SERVICE CHECK":  (*LogEntry).handlePassiveServiceCheck,
	"EXTERNAL COMMAND":       (*LogEntry).handleExternalCommand,
}

// NewLogEntry parses one log line. It never fails: a line without the
// "[epoch] " header or with an unknown tag becomes an info entry carrying
// the text. Names are resolved through r, which may be nil; unresolved
// names leave the relation nil but keep the text.
func NewLogEntry(lineno int, line string, r Resolver) *LogEntry {
	e := &LogEntry{
		line:      strings.Clone(strings.TrimRight(line, "\r\n")),
		Lineno:    lineno,
		Class:     ClassInfo,
		State:     StateUnknownCode,
		StateType: StateUnknownCode,
	}
	n := int32(len(e.line))
	e.text = Span{start: 0, end: n}

	ts, bodyStart, ok := parseTimestamp(e.line)
	if !ok {
		return e
	}
	e.Time = ts
	e.text = Span{start: bodyStart, end: n}

	t := &tokenizer{line: e.line, pos: bodyStart, end: n}
	if colon := strings.Index(e.line[bodyStart:], ": "); colon > 0 {
		tag := Span{start: bodyStart, end: bodyStart + int32(colon)}
		if h, known := handlers[e.view(tag)]; known {
			e.typ = tag
			t.pos = tag.end + 2
			e.options = Span{start: t.pos, end: n}
			h(e, t)
			e.resolve(r)
			return e
		}
	}
	e.handleText()
	return e
}

// LineTime returns the epoch of a raw log line without parsing the rest.
func LineTime(line string) (int64, bool) {
	ts, _, ok := parseTimestamp(line)
	return ts, ok
}

// parseTimestamp reads "[<digits>] " and returns the epoch and the offset
// of the text after it.
func parseTimestamp(line string) (int64, int32, bool) {
	if len(line) < 3 || line[0] != '[' {
		return 0, 0, false
	}
	end := strings.IndexByte(line, ']')
	if end < 2 || end > 21 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(line[1:end], 10, 64)
	if err != nil || ts < 0 {
		return 0, 0, false
	}
	start := end + 1
	if start < len(line) && line[start] == ' ' {
		start++
	}
	return ts, int32(start), true
}

func (e *LogEntry) handleHostState(t *tokenizer) {
	e.Class = ClassState
	e.hostName = t.next(';')
	e.State = hostStateCode(e.view(t.next(';')))
	e.stateType = t.next(';')
	e.StateType = stateTypeCode(e.view(e.stateType))
	e.Attempt = atoi(e.view(t.next(';')))
	e.checkOutput = t.rest()
}

func (e *LogEntry) handleServiceState(t *tokenizer) {
	e.Class = ClassState
	e.hostName = t.next(';')
	e.svcDesc = t.next(';')
	e.State = serviceStateCode(e.view(t.next(';')))
	e.stateType = t.next(';')
	e.StateType = stateTypeCode(e.view(e.stateType))
	e.Attempt = atoi(e.view(t.next(';')))
	e.checkOutput = t.rest()
}

// Downtime and flapping alerts carry STARTED/STOPPED/CANCELLED in the
// state type position.
func (e *LogEntry) handleHostEvent(t *tokenizer) {
	e.Class = ClassState
	e.hostName = t.next(';')
	e.stateType = t.next(';')
	e.comment = t.rest()
}

func (e *LogEntry) handleServiceEvent(t *tokenizer) {
	e.Class = ClassState
	e.hostName = t.next(';')
	e.svcDesc = t.next(';')
	e.stateType = t.next(';')
	e.comment = t.rest()
}

func (e *LogEntry) handleTimeperiod(_ *tokenizer) {
	e.Class = ClassState
}

func (e *LogEntry) handleHostNotification(t *tokenizer) {
	e.Class = ClassNotification
	e.contactName = t.next(';')
	e.hostName = t.next(';')
	e.State = hostStateCode(e.view(t.next(';')))
	e.commandName = t.next(';')
	e.checkOutput = t.rest()
}

func (e *LogEntry) handleServiceNotification(t *tokenizer) {
	e.Class = ClassNotification
	e.contactName = t.next(';')
	e.hostName = t.next(';')
	e.svcDesc = t.next(';')
	e.State = serviceStateCode(e.view(t.next(';')))
	e.commandName = t.next(';')
	e.checkOutput = t.rest()
}

func (e *LogEntry) handlePassiveHostCheck(t *tokenizer) {
	e.Class = ClassPassiveCheck
	e.hostName = t.next(';')
	e.State = atoiOr(e.view(t.next(';')), StateUnknownCode)
	e.checkOutput = t.rest()
}

func (e *LogEntry) handlePassiveServiceCheck(t *tokenizer) {
	e.Class = ClassPassiveCheck
	e.hostName = t.next(';')
	e.svcDesc = t.next(';')
	e.State = atoiOr(e.view(t.next(';')), StateUnknownCode)
	e.checkOutput = t.rest()
}

// External commands have a command-specific argument layout, so only the
// command name is split off; the raw arguments stay in Options.
func (e *LogEntry) handleExternalCommand(t *tokenizer) {
	e.Class = ClassCommand
	e.commandName = t.next(';')
}

// handleText classifies untagged lines written by the core itself.
func (e *LogEntry) handleText() {
	text := e.Text()
	switch {
	case strings.HasPrefix(text, "LOG VERSION: "),
		strings.HasPrefix(text, "logging initial states"),
		strings.HasPrefix(text, "logging intitial states"):
		e.Class = ClassProgram
	case strings.Contains(text, "restarting..."):
		e.Class = ClassProgram
		e.Program = ProgramRestarting
	case strings.Contains(text, "starting..."), strings.Contains(text, "active mode..."):
		e.Class = ClassProgram
		e.Program = ProgramStarted
	case strings.Contains(text, "shutting down..."),
		strings.Contains(text, "Bailing out"),
		strings.Contains(text, "standby mode..."):
		e.Class = ClassProgram
		e.Program = ProgramStopped
	}
}

// resolve links the entry to live objects. External commands are not
// resolved since their arguments are not parsed.
func (e *LogEntry) resolve(r Resolver) {
	if r == nil || e.Class == ClassCommand {
		return
	}
	if host := e.HostName(); host != "" {
		e.Host = r.Host(host)
		if svc := e.ServiceDescription(); svc != "" {
			e.Service = r.Service(host, svc)
		}
	}
	if contact := e.ContactName(); contact != "" {
		e.Contact = r.Contact(contact)
	}
}

// stripWrapper turns "ACKNOWLEDGEMENT (CRITICAL)" into "CRITICAL".
func stripWrapper(s string) string {
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndexByte(s, '('); open >= 0 {
			return s[open+1 : len(s)-1]
		}
	}
	return s
}

func serviceStateCode(s string) int {
	if code, ok := serviceStates[stripWrapper(s)]; ok {
		return code
	}
	return StateUnknownCode
}

func hostStateCode(s string) int {
	if code, ok := hostStates[stripWrapper(s)]; ok {
		return code
	}
	return StateUnknownCode
}

func stateTypeCode(s string) int {
	if code, ok := stateTypes[s]; ok {
		return code
	}
	return StateUnknownCode
}

func atoi(s string) int {
	return atoiOr(s, 0)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
