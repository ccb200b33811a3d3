package model

import "slices"

// Host state codes as reported by the monitoring core.
const (
	HostUp          = 0
	HostDown        = 1
	HostUnreachable = 2
)

// Service state codes as reported by the monitoring core.
const (
	ServiceOK       = 0
	ServiceWarning  = 1
	ServiceCritical = 2
	ServiceUnknown  = 3
)

// State types.
const (
	StateTypeSoft = 0
	StateTypeHard = 1
)

// Variable is one custom variable (macro) attached to an object.
type Variable struct {
	Name  string
	Value string
}

// Contact is a person or group that may be notified about hosts and services.
type Contact struct {
	Name                        string            `yaml:"name"`
	Alias                       string            `yaml:"alias"`
	Email                       string            `yaml:"email"`
	Pager                       string            `yaml:"pager"`
	HostNotificationsEnabled    bool              `yaml:"host_notifications_enabled"`
	ServiceNotificationsEnabled bool              `yaml:"service_notifications_enabled"`
	Vars                        map[string]string `yaml:"custom_variables"`

	CustomVariables []Variable `yaml:"-"`
}

// Host is one monitored host in the live object model.
type Host struct {
	Name             string            `yaml:"name"`
	Alias            string            `yaml:"alias"`
	Address          string            `yaml:"address"`
	State            int               `yaml:"state"`
	StateType        int               `yaml:"state_type"`
	HasBeenChecked   bool              `yaml:"has_been_checked"`
	CurrentAttempt   int               `yaml:"current_attempt"`
	MaxCheckAttempts int               `yaml:"max_check_attempts"`
	LastCheck        int64             `yaml:"last_check"`
	LastStateChange  int64             `yaml:"last_state_change"`
	PluginOutput     string            `yaml:"plugin_output"`
	Latency          float64           `yaml:"latency"`
	Contacts         []string          `yaml:"contacts"`
	Vars             map[string]string `yaml:"custom_variables"`
	ServiceDefs      []*Service        `yaml:"services"`

	CustomVariables []Variable `yaml:"-"`
	Services        []*Service `yaml:"-"`
}

// HasContact reports whether the named contact is responsible for the host.
func (h *Host) HasContact(name string) bool {
	return h != nil && slices.Contains(h.Contacts, name)
}

// Service is one monitored service, always bound to a host.
type Service struct {
	Description      string            `yaml:"description"`
	DisplayName      string            `yaml:"display_name"`
	State            int               `yaml:"state"`
	StateType        int               `yaml:"state_type"`
	HasBeenChecked   bool              `yaml:"has_been_checked"`
	CurrentAttempt   int               `yaml:"current_attempt"`
	MaxCheckAttempts int               `yaml:"max_check_attempts"`
	LastCheck        int64             `yaml:"last_check"`
	LastStateChange  int64             `yaml:"last_state_change"`
	PluginOutput     string            `yaml:"plugin_output"`
	Latency          float64           `yaml:"latency"`
	Contacts         []string          `yaml:"contacts"`
	Vars             map[string]string `yaml:"custom_variables"`

	CustomVariables []Variable `yaml:"-"`
	Host            *Host      `yaml:"-"`
}

// HasContact reports whether the named contact is responsible for the
// service, either directly or through its host.
func (s *Service) HasContact(name string) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.Contacts, name) || s.Host.HasContact(name)
}

// sortedVariables flattens a variable map into name order.
func sortedVariables(vars map[string]string) []Variable {
	if len(vars) == 0 {
		return nil
	}
	out := make([]Variable, 0, len(vars))
	for k, v := range vars {
		out = append(out, Variable{Name: k, Value: v})
	}
	slices.SortFunc(out, func(a, b Variable) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
