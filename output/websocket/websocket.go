package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/events"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/refresh"
)

// Config holds configuration for the hub
type Config struct {
	Port         int           `json:"port"`
	Path         string        `json:"path"`
	WriteTimeout time.Duration `json:"write_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
}

// DefaultConfig returns hub defaults
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		Path:         "/ws",
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// RefreshFunc runs a manual refresh requested by a client
type RefreshFunc func(ctx context.Context, domain string) (refresh.Decision, error)

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records the connected client count
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithRefreshHandler lets clients send {"type":"refresh","domain":"..."}
func WithRefreshHandler(fn RefreshFunc) Option {
	return func(h *Hub) {
		h.onRefresh = fn
	}
}

// ClientMessage is what clients send
type ClientMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// RefreshResult answers a refresh request
type RefreshResult struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Domain   string           `json:"domain"`
	Decision refresh.Decision `json:"decision"`
	Error    string           `json:"error,omitempty"`
}

type client struct {
	conn        *websocket.Conn
	connectedAt time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex // gorilla/websocket panics on concurrent writes
}

// Hub is an events.Publisher that broadcasts every envelope to connected
// clients. New clients first receive the last envelope of each subject so
// they start from current data.
type Hub struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metric.Metrics
	onRefresh RefreshFunc
	upgrader  websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	lastMu sync.RWMutex
	last   map[string][]byte
	order  []string

	published atomic.Int64
	dropped   atomic.Int64

	mu       sync.Mutex
	server   *http.Server
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a hub. Nothing listens until Start, but Handler can be
// mounted on another server.
func NewHub(cfg Config, opts ...Option) *Hub {
	d := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}

	h := &Hub{
		cfg:      cfg,
		logger:   slog.Default(),
		clients:  make(map[*websocket.Conn]*client),
		last:     make(map[string][]byte),
		shutdown: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the billboard UI is served from a local origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "websocket-hub")
	return h
}

// Handler returns the upgrade handler
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleWebSocket)
}

// Start listens on the configured port until Stop
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(h.cfg.Path, h.Handler())
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := h.server

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("WebSocket server failed", "error", err)
		}
	}()
	go h.maintainClients()

	h.logger.Info("WebSocket hub started", "port", h.cfg.Port, "path", h.cfg.Path)
	return nil
}

// Stop shuts the server down and closes every client
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.shutdown:
		h.mu.Unlock()
		return nil
	default:
		close(h.shutdown)
	}
	server := h.server
	h.mu.Unlock()

	var err error
	if server != nil {
		if serr := server.Shutdown(ctx); serr != nil {
			err = errors.Wrap(serr, "Hub", "Stop", "shutdown server")
		}
	}
	h.closeAllClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("WebSocket goroutines did not exit before deadline")
	}
	return err
}

// Publish implements events.Publisher
func (h *Hub) Publish(_ context.Context, subject string, data []byte) error {
	select {
	case <-h.shutdown:
		return errors.WrapTransient(errors.ErrNoConnection, "Hub", "Publish", "broadcast")
	default:
	}

	h.lastMu.Lock()
	if _, ok := h.last[subject]; !ok {
		h.order = append(h.order, subject)
	}
	h.last[subject] = data
	h.lastMu.Unlock()

	h.published.Add(1)
	h.broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Health reports the hub as healthy while it accepts connections
func (h *Hub) Health() health.Status {
	select {
	case <-h.shutdown:
		return health.NewUnhealthy("websocket", "stopped")
	default:
	}
	return health.NewHealthy("websocket", fmt.Sprintf("%d clients", h.ClientCount()))
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, connectedAt: time.Now()}

	// hold the write lock across registration and replay so broadcasts queue
	// behind the replayed state
	c.writeMutex.Lock()
	h.clientsMu.Lock()
	h.clients[conn] = c
	n := len(h.clients)
	h.clientsMu.Unlock()

	var replayErr error
	for _, data := range h.snapshot() {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if replayErr = conn.WriteMessage(websocket.TextMessage, data); replayErr != nil {
			break
		}
	}
	c.writeMutex.Unlock()

	if replayErr != nil {
		h.removeClient(c)
		return
	}
	h.recordClients(n)
	h.logger.Debug("Client connected", "remote", r.RemoteAddr, "clients", n)

	h.wg.Add(1)
	go h.handleClient(c)
}

// snapshot returns the last envelope of every subject in first-seen order
func (h *Hub) snapshot() [][]byte {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	out := make([][]byte, 0, len(h.order))
	for _, s := range h.order {
		out = append(out, h.last[s])
	}
	return out
}

func (h *Hub) handleClient(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "refresh":
			h.handleRefresh(c, msg)
		default:
			// unknown control messages are ignored
		}
	}
}

func (h *Hub) handleRefresh(c *client, msg ClientMessage) {
	res := RefreshResult{Type: "refresh-result", ID: msg.ID, Domain: msg.Domain}
	if h.onRefresh == nil {
		res.Error = "refresh not supported"
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ReadTimeout)
		d, err := h.onRefresh(ctx, msg.Domain)
		cancel()
		res.Decision = d
		if err != nil {
			res.Error = err.Error()
		}
	}

	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := h.send(c, data); err != nil {
		h.removeClient(c)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.clientsMu.RLock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if !c.closed.Load() {
			list = append(list, c)
		}
	}
	h.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range list {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := h.send(c, data); err != nil {
				h.dropped.Add(1)
				h.logger.Debug("Dropping client after failed write", "error", err)
				h.removeClient(c)
			}
		}(c)
	}
	wg.Wait()
}

func (h *Hub) send(c *client, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) removeClient(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, c.conn)
		n := len(h.clients)
		h.clientsMu.Unlock()

		h.recordClients(n)
		_ = c.conn.Close()
	})
}

func (h *Hub) closeAllClients() {
	h.clientsMu.RLock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range list {
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		h.removeClient(c)
	}
}

func (h *Hub) maintainClients() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) pingClients() {
	h.clientsMu.RLock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range list {
		if c.closed.Load() {
			continue
		}
		c.writeMutex.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout))
		c.writeMutex.Unlock()
		if err != nil {
			h.removeClient(c)
		}
	}
}

func (h *Hub) recordClients(n int) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketClients(n)
	}
}

// Published returns how many envelopes have been broadcast
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Dropped returns how many client writes failed
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ events.Publisher = (*Hub)(nil)
