// Package main runs the billboard data synchronization core: the IoT, weather,
// logo manifest and banner facades, their NATS and WebSocket event outputs,
// and the health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/billboard/config"
	"github.com/c360/billboard/events"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/natsclient"
	"github.com/c360/billboard/output/websocket"
	"github.com/c360/billboard/service"
	"github.com/c360/billboard/service/bannersync"
	"github.com/c360/billboard/service/iot"
	"github.com/c360/billboard/service/logomanifest"
	"github.com/c360/billboard/service/weather"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "billboard-sync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// app holds everything run wires together
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	bus     *events.Bus
	nats    *natsclient.Client
	hub     *websocket.Hub
	manager *service.Manager
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	a := newApp(cfg, logger)
	if err := a.metrics.RegisterBuildInfo(appName, Version, BuildTime); err != nil {
		logger.Warn("Failed to register build info metric", "error", err)
	}
	if err := a.setupOutputs(); err != nil {
		return err
	}
	a.createServices()

	return a.runWithSignalHandling(context.Background(), cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting billboard-sync",
		"version", Version,
		"build_time", BuildTime,
		"config_layers", cliCfg.ConfigPaths)

	return cliCfg, logger, false, nil
}

// loadConfig layers every path over the defaults and validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Debug("Configuration loaded", "config", cfg.String())
	return cfg, nil
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		bus:     events.NewBus(logger),
		manager: service.NewManager(logger),
	}
}

// setupOutputs attaches NATS and the WebSocket hub to the event bus. NATS is
// optional at startup: a broker that is down only degrades health.
func (a *app) setupOutputs() error {
	core := a.metrics.CoreMetrics()

	if a.cfg.NATS.Enabled {
		client, err := natsclient.NewClient(a.cfg.NATS.URL,
			natsclient.WithLogger(a.logger),
			natsclient.WithMetrics(core),
			natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait),
			natsclient.WithName(appName),
			natsclient.WithHealthChangeCallback(func(healthy bool) {
				a.logger.Info("NATS connectivity changed", "url", a.cfg.NATS.URL, "healthy", healthy)
			}),
		)
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		a.nats = client
		a.bus.Attach(client)
		a.manager.AddHealthProbe("nats", func() health.Status { return natsHealth(client) })
	}

	if a.cfg.WebSocket.Enabled {
		a.hub = websocket.NewHub(a.cfg.WebSocket.Config,
			websocket.WithLogger(a.logger),
			websocket.WithMetrics(core),
			websocket.WithRefreshHandler(a.manager.Refresh),
		)
		a.bus.Attach(a.hub)
		a.manager.AddHealthProbe("websocket", a.hub.Health)
	}
	return nil
}

func natsHealth(client *natsclient.Client) health.Status {
	st := client.GetStatus()
	switch st.Status {
	case natsclient.StatusConnected:
		return health.NewHealthy("nats", "connected to "+client.URL())
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		return health.NewDegraded("nats", st.Status.String())
	default:
		return health.NewUnhealthy("nats", fmt.Sprintf("%s after %d failures", st.Status, st.FailureCount))
	}
}

// subscriber is the part of the NATS client the refresh route needs
type subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// subscribeRefresh routes billboard.refresh.<service> messages to refresh,
// the same entry point WebSocket clients use
func subscribeRefresh(ctx context.Context, sub subscriber, names []string, refresh websocket.RefreshFunc, logger *slog.Logger) error {
	for _, name := range names {
		subject := events.RefreshSubject(name)
		if err := sub.Subscribe(ctx, subject, func(msgCtx context.Context, _ []byte) {
			d, err := refresh(msgCtx, name)
			if err != nil {
				logger.Warn("NATS refresh request failed", "service", name, "error", err)
				return
			}
			logger.Debug("NATS refresh request handled", "service", name,
				"fetch", d.Fetch, "ignored", d.Ignored)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

// createServices registers the four facades. The banner reads the logo
// manifest facade directly.
func (a *app) createServices() {
	deps := service.Dependencies{
		Logger:  a.logger,
		Metrics: a.metrics.CoreMetrics(),
		Emitter: a.bus,
	}

	if _, err := service.GetOrCreate(a.manager, iot.Name, func() *iot.Service {
		return iot.New(a.cfg.IoT, deps)
	}); err != nil {
		a.logger.Error("Failed to create service", "service", iot.Name, "error", err)
	}
	if _, err := service.GetOrCreate(a.manager, weather.Name, func() *weather.Service {
		return weather.New(a.cfg.Weather, deps)
	}); err != nil {
		a.logger.Error("Failed to create service", "service", weather.Name, "error", err)
	}
	manifest, err := service.GetOrCreate(a.manager, logomanifest.Name, func() *logomanifest.Service {
		return logomanifest.New(a.cfg.LogoManifest, deps)
	})
	if err != nil {
		a.logger.Error("Failed to create service", "service", logomanifest.Name, "error", err)
		return
	}
	if _, err := service.GetOrCreate(a.manager, bannersync.Name, func() *bannersync.Service {
		return bannersync.New(manifest, a.cfg.Banner, deps)
	}); err != nil {
		a.logger.Error("Failed to create service", "service", bannersync.Name, "error", err)
	}
}

// runWithSignalHandling starts every server and facade, then waits for a
// signal or a server failure
func (a *app) runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	g, gctx := errgroup.WithContext(signalCtx)

	var metricsServer *metric.Server
	if a.cfg.Metrics.Port > 0 {
		metricsServer = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics)
		g.Go(metricsServer.Start)
	}

	if a.nats != nil {
		g.Go(func() error {
			for {
				err := a.nats.Connect(gctx)
				if err == nil {
					if err := subscribeRefresh(gctx, a.nats, a.manager.Names(), a.manager.Refresh, a.logger); err != nil {
						a.logger.Warn("NATS refresh requests unavailable", "error", err)
					}
					return nil
				}
				wait := a.nats.Backoff()
				a.logger.Warn("NATS not reachable, retrying", "url", a.cfg.NATS.URL, "retry_in", wait, "error", err)
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		})
	}

	if a.hub != nil {
		if err := a.hub.Start(); err != nil {
			return fmt.Errorf("start websocket hub: %w", err)
		}
	}

	if a.cfg.HealthPort > 0 {
		if err := a.manager.Start(a.cfg.HealthPort); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	results := a.manager.InitializeAll(gctx)
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	slog.Info("billboard-sync started", "services", len(results), "failed", failed)

	<-gctx.Done()
	if signalCtx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownErr := a.shutdown(shutdownCtx, metricsServer)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server failed: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("billboard-sync shutdown complete")
	return nil
}

// shutdown destroys the facades first so the disconnected status each one
// emits while being destroyed still reaches the outputs, then closes the
// outputs and servers
func (a *app) shutdown(ctx context.Context, metricsServer *metric.Server) error {
	a.manager.DestroyAll()

	var errs []error
	if a.hub != nil {
		errs = append(errs, a.hub.Stop(ctx))
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close(ctx))
	}
	errs = append(errs, a.manager.Stop(ctx))
	if metricsServer != nil {
		errs = append(errs, metricsServer.Stop(ctx))
	}
	return errors.Join(errs...)
}
