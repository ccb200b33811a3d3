package engine

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/coffersTech/livequery/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureObjects = `
contacts:
  - name: alice
    alias: Alice Admin
  - name: bob
hosts:
  - name: web01
    address: 10.0.0.1
    state: 1
    plugin_output: PING CRITICAL
    last_state_change: 1699999000
    contacts: [alice]
    custom_variables:
      OS: linux
    services:
      - description: CPU load
        state: 2
        plugin_output: load 12.0
        contacts: [bob]
      - description: HTTP
        plugin_output: connection refused
  - name: db01
    plugin_output: PING OK
`

func fixtureStore(t *testing.T) *model.Store {
	t.Helper()
	s, err := model.Decode(strings.NewReader(fixtureObjects))
	require.NoError(t, err)
	return s
}

func TestServiceAlert(t *testing.T) {
	store := fixtureStore(t)
	e := NewLogEntry(7, "[1700000000] SERVICE ALERT: web01;HTTP;CRITICAL;HARD;3;connection refused\r\n", store)

	assert.Equal(t, 7, e.Lineno)
	assert.Equal(t, int64(1700000000), e.Time)
	assert.Equal(t, ClassState, e.Class)
	assert.Equal(t, "SERVICE ALERT", e.Type())
	assert.Equal(t, "web01", e.HostName())
	assert.Equal(t, "HTTP", e.ServiceDescription())
	assert.Equal(t, model.ServiceCritical, e.State)
	assert.Equal(t, model.StateTypeHard, e.StateType)
	assert.Equal(t, "HARD", e.StateTypeText())
	assert.Equal(t, 3, e.Attempt)
	assert.Equal(t, "connection refused", e.CheckOutput())
	assert.Equal(t, "web01;HTTP;CRITICAL;HARD;3;connection refused", e.Options())
	assert.Equal(t, "SERVICE ALERT: web01;HTTP;CRITICAL;HARD;3;connection refused", e.Text())
	assert.Equal(t, "[1700000000] SERVICE ALERT: web01;HTTP;CRITICAL;HARD;3;connection refused", e.Message())

	require.NotNil(t, e.Host)
	assert.Equal(t, "web01", e.Host.Name)
	require.NotNil(t, e.Service)
	assert.Equal(t, "HTTP", e.Service.Description)
	assert.Nil(t, e.Contact)
}

func TestUnresolvedNames(t *testing.T) {
	e := NewLogEntry(1, "[1700000100] HOST ALERT: ghost;DOWN;SOFT;1;gone", fixtureStore(t))
	assert.Equal(t, "ghost", e.HostName())
	assert.Equal(t, model.HostDown, e.State)
	assert.Equal(t, model.StateTypeSoft, e.StateType)
	assert.Nil(t, e.Host)

	e = NewLogEntry(2, "[1700000100] SERVICE ALERT: web01;Nope;OK;HARD;1;fine", fixtureStore(t))
	assert.NotNil(t, e.Host)
	assert.Nil(t, e.Service)

	e = NewLogEntry(3, "[1700000100] SERVICE ALERT: web01;HTTP;OK;HARD;1;fine", nil)
	assert.Nil(t, e.Host)
	assert.Equal(t, "web01", e.HostName())
}

func TestEntryLayouts(t *testing.T) {
	store := fixtureStore(t)

	t.Run("host notification", func(t *testing.T) {
		e := NewLogEntry(1, "[10] HOST NOTIFICATION: alice;web01;DOWN;notify-host-by-email;PING CRITICAL", store)
		assert.Equal(t, ClassNotification, e.Class)
		assert.Equal(t, "alice", e.ContactName())
		assert.Equal(t, "web01", e.HostName())
		assert.Equal(t, model.HostDown, e.State)
		assert.Equal(t, "notify-host-by-email", e.CommandName())
		assert.Equal(t, "PING CRITICAL", e.CheckOutput())
		require.NotNil(t, e.Contact)
		assert.Equal(t, "alice", e.Contact.Name)
		assert.NotNil(t, e.Host)
	})

	t.Run("service notification with wrapper", func(t *testing.T) {
		e := NewLogEntry(1, "[10] SERVICE NOTIFICATION: bob;web01;CPU load;ACKNOWLEDGEMENT (CRITICAL);notify;load 12.0", store)
		assert.Equal(t, ClassNotification, e.Class)
		assert.Equal(t, model.ServiceCritical, e.State)
		assert.Equal(t, "CPU load", e.ServiceDescription())
		assert.NotNil(t, e.Service)
	})

	t.Run("passive service check", func(t *testing.T) {
		e := NewLogEntry(1, "[10] PASSIVE SERVICE CHECK: web01;HTTP;1;slow response", store)
		assert.Equal(t, ClassPassiveCheck, e.Class)
		assert.Equal(t, 1, e.State)
		assert.Equal(t, "slow response", e.CheckOutput())
	})

	t.Run("passive host check with bad state", func(t *testing.T) {
		e := NewLogEntry(1, "[10] PASSIVE HOST CHECK: web01;x;out", store)
		assert.Equal(t, StateUnknownCode, e.State)
	})

	t.Run("downtime", func(t *testing.T) {
		e := NewLogEntry(1, "[10] HOST DOWNTIME ALERT: web01;STARTED;Host has entered a period of scheduled downtime", store)
		assert.Equal(t, ClassState, e.Class)
		assert.Equal(t, "STARTED", e.StateTypeText())
		assert.Equal(t, StateUnknownCode, e.StateType)
		assert.Equal(t, "Host has entered a period of scheduled downtime", e.Comment())
	})

	t.Run("service flapping", func(t *testing.T) {
		e := NewLogEntry(1, "[10] SERVICE FLAPPING ALERT: web01;HTTP;STOPPED;done", store)
		assert.Equal(t, "HTTP", e.ServiceDescription())
		assert.Equal(t, "STOPPED", e.StateTypeText())
		assert.Equal(t, "done", e.Comment())
	})

	t.Run("timeperiod", func(t *testing.T) {
		e := NewLogEntry(1, "[10] TIMEPERIOD TRANSITION: 24x7;-1;1", store)
		assert.Equal(t, ClassState, e.Class)
		assert.Equal(t, "24x7;-1;1", e.Options())
	})

	t.Run("external command", func(t *testing.T) {
		e := NewLogEntry(1, "[10] EXTERNAL COMMAND: SCHEDULE_HOST_DOWNTIME;web01;1;2;1;0;0;admin;maintenance", store)
		assert.Equal(t, ClassCommand, e.Class)
		assert.Equal(t, "SCHEDULE_HOST_DOWNTIME", e.CommandName())
		assert.Equal(t, "", e.HostName())
		assert.Nil(t, e.Host)
	})

	t.Run("truncated", func(t *testing.T) {
		e := NewLogEntry(1, "[10] SERVICE ALERT: web01", store)
		assert.Equal(t, ClassState, e.Class)
		assert.Equal(t, "web01", e.HostName())
		assert.Equal(t, "", e.ServiceDescription())
		assert.Equal(t, StateUnknownCode, e.State)
		assert.Equal(t, 0, e.Attempt)
		assert.Nil(t, e.Service)
	})

	t.Run("unknown keywords", func(t *testing.T) {
		e := NewLogEntry(1, "[10] SERVICE ALERT: web01;HTTP;BOGUS;WEIRD;x;out", store)
		assert.Equal(t, StateUnknownCode, e.State)
		assert.Equal(t, StateUnknownCode, e.StateType)
		assert.Equal(t, "WEIRD", e.StateTypeText())
		assert.Equal(t, 0, e.Attempt)
	})
}

func TestProgramEntries(t *testing.T) {
	tests := []struct {
		line    string
		class   LogClass
		program ProgramState
	}{
		{"[1] Nagios 4.4.6 starting... (PID=42)", ClassProgram, ProgramStarted},
		{"[1] Caught SIGTERM, shutting down...", ClassProgram, ProgramStopped},
		{"[1] Caught SIGHUP, restarting...", ClassProgram, ProgramRestarting},
		{"[1] LOG VERSION: 2.0", ClassProgram, ProgramNone},
		{"[1] logging initial states", ClassProgram, ProgramNone},
		{"[1] Warning: Check result queue contained results", ClassInfo, ProgramNone},
		{"[1] just some text", ClassInfo, ProgramNone},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			e := NewLogEntry(1, tt.line, nil)
			assert.Equal(t, tt.class, e.Class)
			assert.Equal(t, tt.program, e.Program)
			assert.Equal(t, "", e.Type())
			assert.Equal(t, tt.line[4:], e.Text())
		})
	}
}

func TestMalformedTimestamps(t *testing.T) {
	for _, line := range []string{
		"",
		"garbage",
		"[abc] text",
		"[] text",
		"[-5] text",
		"[123456789012345678901234] text",
		"[1700000000 no bracket",
	} {
		t.Run(line, func(t *testing.T) {
			e := NewLogEntry(1, line, nil)
			assert.Equal(t, ClassInfo, e.Class)
			assert.Equal(t, int64(0), e.Time)
			assert.Equal(t, line, e.Text())
			assert.Equal(t, line, e.Message())

			_, ok := LineTime(line)
			assert.False(t, ok)
		})
	}

	ts, ok := LineTime("[1700000000] x")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), ts)
}

func TestParseTotality(t *testing.T) {
	fragments := []string{
		"[", "]", "[1700000000] ", ";", ": ", " ", "(", ")", "\r", "\n", "\x00", "\xff", "é",
		"SERVICE ALERT", "HOST ALERT", "HOST NOTIFICATION", "SERVICE NOTIFICATION",
		"PASSIVE SERVICE CHECK", "EXTERNAL COMMAND", "HOST DOWNTIME ALERT",
		"web01", "HTTP", "CRITICAL", "HARD", "3", "-1", "99999999999999999999",
	}
	store := fixtureStore(t)
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 5000; i++ {
		var b strings.Builder
		if rng.IntN(2) == 0 {
			b.WriteString("[1700000000] ")
		}
		for n := rng.IntN(12); n > 0; n-- {
			b.WriteString(fragments[rng.IntN(len(fragments))])
		}
		line := b.String()

		e := NewLogEntry(i, line, store)
		assert.Equal(t, strings.TrimRight(line, "\r\n"), e.Message())
		for _, s := range []string{
			e.Type(), e.Text(), e.Options(), e.HostName(), e.ServiceDescription(),
			e.ContactName(), e.CommandName(), e.StateTypeText(), e.CheckOutput(), e.Comment(),
		} {
			if !strings.Contains(e.Message(), s) {
				t.Fatalf("field %q is not part of line %q", s, line)
			}
		}
		if e.Class < ClassInfo || e.Class > ClassCommand {
			t.Fatalf("line %q got class %d", line, e.Class)
		}
	}
}
