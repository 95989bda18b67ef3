package health

import (
	"sort"
	"sync"
	"time"
)

// Probe computes a fresh status on demand
type Probe func() Status

// Monitor tracks the health of named services. A service either registers a
// Probe that is evaluated on every read, or pushes statuses with Update.
// Probes win over pushed statuses of the same name.
type Monitor struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	statuses map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{
		probes:   make(map[string]Probe),
		statuses: make(map[string]Status),
	}
}

// Register installs a probe for name
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Update records a pushed status for name
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy records a healthy status for name
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy records an unhealthy status for name
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded records a degraded status for name
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the current status for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, hasProbe := m.probes[name]
	status, hasStatus := m.statuses[name]
	m.mu.RUnlock()

	if hasProbe {
		return m.evaluate(name, probe), true
	}
	return status, hasStatus
}

// GetAll returns the current status of every tracked name
func (m *Monitor) GetAll() map[string]Status {
	out := make(map[string]Status)
	for _, name := range m.Names() {
		if s, ok := m.Get(name); ok {
			out[name] = s
		}
	}
	return out
}

// Remove stops tracking name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
	delete(m.statuses, name)
}

// AggregateHealth evaluates every tracked name and rolls the results up
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.Names()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.Get(name); ok {
			subs = append(subs, s)
		}
	}
	return Aggregate(systemName, subs)
}

// Names returns the tracked names, sorted
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(m.probes)+len(m.statuses))
	for name := range m.probes {
		seen[name] = struct{}{}
	}
	for name := range m.statuses {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of tracked names
func (m *Monitor) Count() int {
	return len(m.Names())
}

// Clear drops every probe and status
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = make(map[string]Probe)
	m.statuses = make(map[string]Status)
}

// evaluate runs a probe, turning a panic into an unhealthy status
func (m *Monitor) evaluate(name string, probe Probe) (s Status) {
	defer func() {
		if r := recover(); r != nil {
			s = NewUnhealthy(name, "health probe panicked")
		}
	}()
	s = probe()
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}
