package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/sage/config"
	"github.com/najoast/sage/core"
	"github.com/najoast/sage/metrics"
	"github.com/najoast/sage/network"
	"github.com/najoast/sage/system"
)

// SetupFunc registers message types and actors once the groups exist. The
// container holds the entries named by the Service* constants.
type SetupFunc func(c Container) error

// Options configures an Application.
type Options struct {
	// Config defaults to the contents of ConfigFile, or config.DefaultConfig()
	Config *config.Config

	// ConfigFile is watched while running; log level changes apply live
	ConfigFile string

	// Registry defaults to an empty registry
	Registry *core.Registry

	Setup []SetupFunc

	// Logger replaces the logger built from Config.Log
	Logger *slog.Logger

	// MemNetwork is the hub of the memory transport
	MemNetwork *network.MemNetwork

	// Command overrides how process groups are started
	Command func(group string) (*exec.Cmd, error)

	// ShutdownTimeout bounds the stop phase of Run, 30s when zero
	ShutdownTimeout time.Duration
}

// Application runs one sage process: the main group tick loop plus the
// services around it.
type Application struct {
	cfg        *config.Config
	configFile string
	setup      []SetupFunc
	memNetwork *network.MemNetwork
	stopAfter  time.Duration

	level   *slog.LevelVar
	logger  *slog.Logger
	logFile io.Closer

	prom      *prometheus.Registry
	system    *system.System
	container *DefaultContainer
	lifecycle *LifecycleManager

	metricsMu   sync.Mutex
	metricsAddr string

	running atomic.Bool
}

// New builds an application from opts. Nothing is started until Run.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.NewLoader().Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg:        cfg,
		configFile: opts.ConfigFile,
		setup:      opts.Setup,
		memNetwork: opts.MemNetwork,
		stopAfter:  opts.ShutdownTimeout,
		level:      new(slog.LevelVar),
		prom:       prometheus.NewRegistry(),
		container:  NewContainer(),
	}
	if app.stopAfter <= 0 {
		app.stopAfter = 30 * time.Second
	}
	app.level.Set(cfg.Log.Level.SlogLevel())

	if opts.Logger != nil {
		app.logger = opts.Logger
	} else {
		logger, closer, err := newLogger(cfg.Log, app.level)
		if err != nil {
			return nil, err
		}
		app.logger, app.logFile = logger, closer
	}
	app.logger = app.logger.With(
		slog.String("app", cfg.App.Name),
		slog.String("env", string(cfg.App.Environment)),
	)

	app.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app.system = system.New(system.Options{
		Registry: opts.Registry,
		Logger:   app.logger,
		Metrics:  metrics.NewMetrics(app.prom),
		Command:  opts.Command,
	})

	entries := []struct {
		name  string
		value any
	}{
		{ServiceConfig, cfg},
		{ServiceLogger, app.logger},
		{ServiceRegistry, app.system.Registry()},
		{ServiceSystem, app.system},
		{ServiceMetrics, app.prom},
	}
	for _, e := range entries {
		if err := app.container.RegisterInstance(e.name, e.value); err != nil {
			return nil, err
		}
	}

	app.lifecycle = NewLifecycleManager(app.logger)
	if err := app.registerServices(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) registerServices() error {
	if err := app.lifecycle.Register(&metricsService{app: app}); err != nil {
		return err
	}
	if err := app.lifecycle.Register(&systemService{app: app}); err != nil {
		return err
	}
	if err := app.lifecycle.Register(&networkService{app: app}, "system"); err != nil {
		return err
	}
	if app.configFile == "" {
		return nil
	}
	return app.lifecycle.Register(&watcherService{app: app})
}

func newLogger(cfg config.LogConfig, level slog.Leveler) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		w, closer = f, f
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), closer, nil
}

// Config returns the configuration the application was built with.
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Logger returns the application logger
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// LogLevel returns the current minimum log level.
func (app *Application) LogLevel() slog.Level {
	return app.level.Level()
}

// System returns the actor system
func (app *Application) System() *system.System {
	return app.system
}

// Container returns the dependency injection container
func (app *Application) Container() Container {
	return app.container
}

// Lifecycle returns the lifecycle manager
func (app *Application) Lifecycle() *LifecycleManager {
	return app.lifecycle
}

// Prometheus returns the metrics registry served on the metrics endpoint.
func (app *Application) Prometheus() *prometheus.Registry {
	return app.prom
}

// MetricsAddress returns the address of the metrics endpoint while it runs.
func (app *Application) MetricsAddress() string {
	app.metricsMu.Lock()
	defer app.metricsMu.Unlock()
	return app.metricsAddr
}

// Run starts every service, ticks the main group until ctx ends or the
// process is interrupted, then stops the services. A failed group ends the
// run with an error.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.logger.Info("application started",
		slog.String("version", app.cfg.App.Version),
		slog.Any("groups", app.system.Groups()),
		slog.Any("process_groups", app.system.ProcessGroups()))

	runErr := app.loop(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), app.stopAfter)
	defer cancel()
	stopErr := app.lifecycle.Stop(sctx)
	app.logger.Info("application stopped")
	if app.logFile != nil {
		defer app.logFile.Close()
	}
	return errors.Join(runErr, stopErr)
}

func (app *Application) loop(ctx context.Context) error {
	rt := app.cfg.Runtime
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		start := time.Now()
		if _, err := app.system.Tick(rt.MaxTickTime.Std()); err != nil {
			app.logger.Error("main group tick failed", slog.Any("error", err))
			return &ApplicationError{Operation: "tick", Err: err}
		}
		timer.Reset(max(rt.Interval.Std()-time.Since(start), rt.MinSleep.Std()))
	}
}

// systemService creates the configured groups and runs the setup hooks.
type systemService struct {
	app *Application
}

func (s *systemService) Name() string { return "system" }

func (s *systemService) Start(context.Context) error {
	sys := s.app.system
	for _, g := range s.app.cfg.Groups {
		var err error
		switch g.Mode {
		case config.GroupProcess:
			err = sys.AddProcessGroup(g.Name, system.ProcessGroupOptions{
				Actor:       g.Actor,
				Interval:    g.Interval.Std(),
				MinSleep:    g.MinSleep.Std(),
				MaxTickTime: g.MaxTickTime.Std(),
			})
		default:
			err = sys.AddGroup(g.Name, core.GroupOptions{
				Interval:    g.Interval.Std(),
				MinSleep:    g.MinSleep.Std(),
				MaxTickTime: g.MaxTickTime.Std(),
			})
		}
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
	}
	for _, fn := range s.app.setup {
		if err := fn(s.app.container); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

func (s *systemService) Stop(ctx context.Context) error {
	return s.app.system.Shutdown(ctx)
}

func (s *systemService) Health(context.Context) (HealthStatus, error) {
	sys := s.app.system
	data := map[string]any{
		"groups":         sys.Groups(),
		"process_groups": sys.ProcessGroups(),
	}
	if err := sys.CheckGroups(); err != nil {
		return HealthStatus{State: HealthUnhealthy, Message: err.Error(), Data: data}, nil
	}
	return HealthStatus{State: HealthHealthy, Data: data}, nil
}

// networkService binds the configured transport to the system.
type networkService struct {
	app       *Application
	transport network.Transport
}

func (s *networkService) Name() string { return "network" }

func (s *networkService) Start(context.Context) error {
	n := s.app.cfg.Network
	if n.Transport == config.TransportNone {
		return nil
	}
	nc := network.DefaultConfig()
	nc.Protocol = network.Protocol(n.Transport)
	nc.MaxConnections = n.MaxConnections
	if n.MaxPacketSize > 0 {
		nc.MaxPacketSize = n.MaxPacketSize
	}
	nc.WebSocketPath = n.WebSocketPath
	nc.NATSURL = n.NATS.URL
	nc.SubjectPrefix = n.NATS.SubjectPrefix
	nc.Network = s.app.memNetwork
	nc.Logger = s.app.logger

	t, err := network.NewWithConfig(nc)
	if err != nil {
		return err
	}
	if n.Mode == config.ModeConnect {
		err = s.app.system.Connect(n.Host, n.Port, t)
	} else {
		err = s.app.system.Listen(n.Host, n.Port, t)
	}
	if err != nil {
		_ = t.Disconnect()
		return err
	}
	s.transport = t

	if src, ok := t.(metrics.StatisticsSource); ok {
		if err := metrics.RegisterTransport(s.app.prom, nc.Protocol, src); err != nil {
			s.app.logger.Warn("transport metrics not registered", slog.Any("error", err))
		}
	}
	s.app.logger.Info("network bound",
		slog.String("transport", n.Transport),
		slog.String("mode", n.Mode),
		slog.String("address", t.Address()))
	return nil
}

func (s *networkService) Stop(context.Context) error {
	if s.transport == nil {
		return nil
	}
	t := s.transport
	s.transport = nil
	return t.Disconnect()
}

func (s *networkService) Health(context.Context) (HealthStatus, error) {
	if s.transport == nil {
		return HealthStatus{State: HealthUnknown, Message: "no transport"}, nil
	}
	return HealthStatus{
		State: HealthHealthy,
		Data: map[string]any{
			"address": s.transport.Address(),
			"peers":   len(s.transport.Peers()),
		},
	}, nil
}

// metricsService serves the Prometheus registry over HTTP.
type metricsService struct {
	app    *Application
	server *http.Server
	done   chan struct{}
}

func (s *metricsService) Name() string { return "metrics" }

func (s *metricsService) Start(context.Context) error {
	mc := s.app.cfg.Metrics
	if !mc.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", mc.Address)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.HandlerFor(s.app.prom, promhttp.HandlerOpts{Registry: s.app.prom}))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan struct{})

	s.app.metricsMu.Lock()
	s.app.metricsAddr = ln.Addr().String()
	s.app.metricsMu.Unlock()

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.app.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	s.app.logger.Info("serving metrics", slog.String("address", ln.Addr().String()), slog.String("path", mc.Path))
	return nil
}

func (s *metricsService) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	s.app.metricsMu.Lock()
	s.app.metricsAddr = ""
	s.app.metricsMu.Unlock()
	return err
}

func (s *metricsService) Health(context.Context) (HealthStatus, error) {
	if s.server == nil {
		return HealthStatus{State: HealthUnknown, Message: "metrics disabled"}, nil
	}
	return HealthStatus{State: HealthHealthy, Data: map[string]any{"address": s.app.MetricsAddress()}}, nil
}

// watcherService applies log level changes from the config file.
type watcherService struct {
	app     *Application
	watcher *config.Watcher
}

func (s *watcherService) Name() string { return "config-watcher" }

func (s *watcherService) Start(context.Context) error {
	w, err := config.NewWatcher(s.app.configFile, config.NewLoader(), s.app.logger)
	if err != nil {
		return err
	}
	w.OnChange(func(_, next *config.Config) {
		level := next.Log.Level.SlogLevel()
		if s.app.level.Level() == level {
			return
		}
		s.app.level.Set(level)
		s.app.logger.Info("log level changed", slog.String("level", string(next.Log.Level)))
	})
	if err := w.Start(); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

func (s *watcherService) Stop(context.Context) error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

func (s *watcherService) Health(context.Context) (HealthStatus, error) {
	if s.watcher == nil {
		return HealthStatus{State: HealthStopped}, nil
	}
	return HealthStatus{State: HealthHealthy, Data: map[string]any{"file": s.app.configFile}}, nil
}
