package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/syncstate"
)

// SystemName labels the aggregate health status
const SystemName = "billboard"

// Manager owns the single instance of each facade
type Manager struct {
	logger  *slog.Logger
	monitor *health.Monitor

	mu       sync.RWMutex
	services map[string]Facade
	order    []string

	httpMu     sync.Mutex
	httpServer *http.Server
}

// NewManager creates an empty manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "service-manager"),
		monitor:  health.NewMonitor(),
		services: make(map[string]Facade),
	}
}

// Register adds a facade. Names are unique.
func (m *Manager) Register(f Facade) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Register", "nil facade")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(f.Name(), f)
}

func (m *Manager) registerLocked(name string, f Facade) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Register", "facade name")
	}
	if _, exists := m.services[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: %s already registered", errors.ErrInvalidConfig, name),
			"Manager", "Register", "register facade")
	}
	m.services[name] = f
	m.order = append(m.order, name)
	m.monitor.Register(name, f.Health)
	return nil
}

// GetOrCreate returns the facade registered under name, running factory only
// when none exists yet. A registered facade of a different type is an error.
func GetOrCreate[T Facade](m *Manager, name string, factory func() T) (T, error) {
	var zero T

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.services[name]; ok {
		typed, ok := existing.(T)
		if !ok {
			return zero, errors.WrapInvalid(
				fmt.Errorf("%w: %s is %T", errors.ErrInvalidConfig, name, existing),
				"Manager", "GetOrCreate", "type check")
		}
		return typed, nil
	}

	f := factory()
	if err := m.registerLocked(name, f); err != nil {
		return zero, err
	}
	return f, nil
}

// Get returns the facade registered under name
func (m *Manager) Get(name string) (Facade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.services[name]
	return f, ok
}

// Names returns facade names in registration order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) snapshot() []Facade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Facade, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.services[name])
	}
	return out
}

// AddHealthProbe reports an extra dependency, such as NATS, in /health
func (m *Manager) AddHealthProbe(name string, probe health.Probe) {
	m.monitor.Register(name, probe)
}

// InitializeAll initializes every facade in registration order. Failures are
// logged and returned per facade; one failure does not stop the rest.
func (m *Manager) InitializeAll(ctx context.Context) map[string]errors.Result {
	results := make(map[string]errors.Result)
	for _, f := range m.snapshot() {
		start := time.Now()
		res := f.Initialize(ctx)
		results[f.Name()] = res
		if res.Success {
			m.logger.Info("Service initialized", "service", f.Name(),
				"duration_ms", time.Since(start).Milliseconds())
		} else {
			m.logger.Warn("Service failed to initialize", "service", f.Name(), "message", res.Message)
		}
	}
	return results
}

// DestroyAll destroys every facade in reverse registration order
func (m *Manager) DestroyAll() {
	facades := m.snapshot()
	for i := len(facades) - 1; i >= 0; i-- {
		facades[i].Destroy()
		m.logger.Debug("Service destroyed", "service", facades[i].Name())
	}
}

// Health aggregates every facade and extra probe
func (m *Manager) Health() health.Status {
	return m.monitor.AggregateHealth(SystemName)
}

// Ready reports whether every facade is connected
func (m *Manager) Ready() bool {
	facades := m.snapshot()
	if len(facades) == 0 {
		return false
	}
	for _, f := range facades {
		if f.State() != syncstate.StateConnected {
			return false
		}
	}
	return true
}

// Handler returns the HTTP handler for the health and service endpoints
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleLiveness)
	mux.HandleFunc("/readyz", m.handleReadiness)
	mux.HandleFunc("/services", m.handleServiceList)
	mux.HandleFunc("/services/", m.handleServiceAction)
	return mux
}

// Start serves Handler on port in the background
func (m *Manager) Start(port int) error {
	m.httpMu.Lock()
	defer m.httpMu.Unlock()

	if m.httpServer != nil {
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, "Manager", "Start", "start http server")
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	m.httpServer = server

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Health server error", "error", err)
		}
	}()
	m.logger.Info("Health server started", "port", port)
	return nil
}

// Stop shuts the HTTP server down
func (m *Manager) Stop(ctx context.Context) error {
	m.httpMu.Lock()
	server := m.httpServer
	m.httpServer = nil
	m.httpMu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Manager", "Stop", "shutdown http server")
	}
	return nil
}

func (m *Manager) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := m.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	m.writeJSON(w, code, status)
}

func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (m *Manager) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if m.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("NOT READY"))
}

type serviceInfo struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
}

func (m *Manager) handleServiceList(w http.ResponseWriter, _ *http.Request) {
	facades := m.snapshot()
	list := make([]serviceInfo, 0, len(facades))
	for _, f := range facades {
		h := f.Health()
		list = append(list, serviceInfo{
			Name:    f.Name(),
			State:   f.State().String(),
			Healthy: h.Healthy,
			Status:  h.Status,
		})
	}
	m.writeJSON(w, http.StatusOK, map[string]any{"services": list, "count": len(list)})
}

// Refresh runs a manual refresh on the named facade
func (m *Manager) Refresh(ctx context.Context, name string) (refresh.Decision, error) {
	f, ok := m.Get(name)
	if !ok {
		return refresh.Decision{}, errors.WrapInvalid(fmt.Errorf("%w: unknown service %q", errors.ErrInvalidData, name),
			"Manager", "Refresh", "find service")
	}
	return f.Refresh(ctx), nil
}

// handleServiceAction serves POST /services/{name}/refresh and
// POST /services/{name}/initialize
func (m *Manager) handleServiceAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/services/"), "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	f, ok := m.Get(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "refresh":
		d := f.Refresh(r.Context())
		code := http.StatusOK
		if d.Ignored {
			code = http.StatusTooManyRequests
		}
		m.writeJSON(w, code, d)
	case "initialize":
		res := f.Initialize(r.Context())
		code := http.StatusOK
		if !res.Success {
			code = http.StatusUnprocessableEntity
		}
		m.writeJSON(w, code, res)
	default:
		http.NotFound(w, r)
	}
}

func (m *Manager) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", "error", err)
	}
}
