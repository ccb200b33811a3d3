package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownHost is returned when a service references a host that is not in the store.
var ErrUnknownHost = errors.New("unknown host")

type serviceKey struct {
	host        string
	description string
}

// Store is the read side of the live object model. Lookups are by name;
// the engine never writes through it.
type Store struct {
	mu sync.RWMutex

	hosts    map[string]*Host
	services map[serviceKey]*Service
	contacts map[string]*Contact

	// Insertion order, used for deterministic table scans
	hostList    []*Host
	serviceList []*Service
	contactList []*Contact
}

// NewStore creates an empty object store.
func NewStore() *Store {
	return &Store{
		hosts:    make(map[string]*Host),
		services: make(map[serviceKey]*Service),
		contacts: make(map[string]*Contact),
	}
}

// AddContact registers a contact, replacing one with the same name.
func (s *Store) AddContact(c *Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.CustomVariables = sortedVariables(c.Vars)
	if _, exists := s.contacts[c.Name]; !exists {
		s.contactList = append(s.contactList, c)
	} else {
		s.contactList = replace(s.contactList, c, func(o *Contact) bool { return o.Name == c.Name })
	}
	s.contacts[c.Name] = c
}

// AddHost registers a host together with any services declared inline.
// A host replacing one of the same name takes over its services.
func (s *Store) AddHost(h *Host) {
	s.mu.Lock()
	h.CustomVariables = sortedVariables(h.Vars)
	if old, exists := s.hosts[h.Name]; !exists {
		s.hostList = append(s.hostList, h)
	} else {
		s.hostList = replace(s.hostList, h, func(o *Host) bool { return o.Name == h.Name })
		h.Services = nil
		for _, svc := range old.Services {
			svc.Host = h
			h.Services = append(h.Services, svc)
		}
	}
	s.hosts[h.Name] = h
	defs := h.ServiceDefs
	h.ServiceDefs = nil
	s.mu.Unlock()

	for _, svc := range defs {
		// host was registered above, cannot fail
		_ = s.AddService(h.Name, svc)
	}
}

// AddService attaches a service to an existing host.
func (s *Store) AddService(hostName string, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[hostName]
	if !ok {
		return fmt.Errorf("service %q: %w %q", svc.Description, ErrUnknownHost, hostName)
	}
	svc.Host = h
	svc.CustomVariables = sortedVariables(svc.Vars)
	if svc.DisplayName == "" {
		svc.DisplayName = svc.Description
	}

	key := serviceKey{host: hostName, description: svc.Description}
	if _, exists := s.services[key]; !exists {
		s.serviceList = append(s.serviceList, svc)
		h.Services = append(h.Services, svc)
	} else {
		match := func(o *Service) bool { return o.Host == h && o.Description == svc.Description }
		s.serviceList = replace(s.serviceList, svc, match)
		h.Services = replace(h.Services, svc, match)
	}
	s.services[key] = svc
	return nil
}

// Host returns the host with the given name, or nil.
func (s *Store) Host(name string) *Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hosts[name]
}

// Service returns the service identified by host name and description, or nil.
func (s *Store) Service(hostName, description string) *Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[serviceKey{host: hostName, description: description}]
}

// Contact returns the contact with the given name, or nil.
func (s *Store) Contact(name string) *Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contacts[name]
}

// Hosts returns a snapshot of all hosts in insertion order.
func (s *Store) Hosts() []*Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Host(nil), s.hostList...)
}

// Services returns a snapshot of all services in insertion order.
func (s *Store) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Service(nil), s.serviceList...)
}

// Contacts returns a snapshot of all contacts in insertion order.
func (s *Store) Contacts() []*Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Contact(nil), s.contactList...)
}

// snapshot is the on-disk YAML layout of an object model dump.
type snapshot struct {
	Contacts []*Contact `yaml:"contacts"`
	Hosts    []*Host    `yaml:"hosts"`
}

// Decode reads a YAML object snapshot into a new Store.
func Decode(r io.Reader) (*Store, error) {
	var snap snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode object snapshot: %w", err)
	}

	s := NewStore()
	for _, c := range snap.Contacts {
		s.AddContact(c)
	}
	for _, h := range snap.Hosts {
		s.AddHost(h)
	}
	return s, nil
}

// LoadYAML reads an object snapshot file.
func LoadYAML(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func replace[T any](list []*T, v *T, match func(*T) bool) []*T {
	for i, o := range list {
		if match(o) {
			list[i] = v
			break
		}
	}
	return list
}
