// Command atraced is the atrace daemon binary. It loads a YAML configuration
// file, installs the tracing engine over the demo library surface, starts
// the drain loop plus the admin HTTP API, the browser live-watch bridge,
// and the optional gRPC forwarder, and shuts down gracefully on SIGTERM or
// SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripwire/atrace/daemon"
	"github.com/tripwire/atrace/engine"
	"github.com/tripwire/atrace/internal/adminapi"
	"github.com/tripwire/atrace/internal/audit"
	"github.com/tripwire/atrace/internal/config"
	"github.com/tripwire/atrace/internal/demolib"
	"github.com/tripwire/atrace/internal/forward"
	"github.com/tripwire/atrace/internal/livewatch"
	"github.com/tripwire/atrace/internal/sessionlog"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "/etc/atrace/atraced.yaml", "path to the atrace daemon YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "atraced: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("region_name", cfg.RegionName),
		slog.Uint64("ring_capacity", uint64(cfg.RingCapacity)),
		slog.String("admin_addr", cfg.AdminAddr),
		slog.String("livewatch_addr", cfg.LiveWatchAddr),
	)

	engine.NoiseFunctions = append(engine.NoiseFunctions, cfg.NoiseFunctionOverrides...)

	installer := engine.NewInstaller(logger)
	host := demolib.NewHost()
	libs := cfg.Libraries
	if len(libs) == 0 {
		libs = []string{"dos.library", "exec.library"}
	}
	results, err := installer.InstallAll(host, libs, engine.InstallOptions{
		RingCapacity:  cfg.RingCapacity,
		StartDisabled: cfg.StartDisabled,
		RegionName:    cfg.RegionName,
	})
	if err != nil {
		logger.Error("failed to install engine", slog.Any("error", err))
		os.Exit(1)
	}
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("engine: function not installed", slog.String("library", r.Library), slog.String("func", r.Function), slog.Any("error", r.Err))
		}
	}
	logger.Info("engine installed", slog.Int("patches", len(installer.Region.Patches)))

	sessionStore, err := sessionlog.Open(cfg.SessionDBPath)
	if err != nil {
		logger.Error("failed to open session log", slog.String("path", cfg.SessionDBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer sessionStore.Close()

	var auditLog *audit.Logger
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.String("path", cfg.AuditLogPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	idx := daemon.NewMetadataIndex(demolib.Libraries(), demolib.RenderSpecs())
	tasks := daemon.NewTaskCache(daemon.NewProcessScheduler())
	lockPaths := daemon.NewLockPathCache()
	formatter := daemon.NewFormatter(idx, tasks, lockPaths)
	broadcaster := daemon.NewBroadcaster(logger, 256)
	poller := daemon.NewPoller(installer.Region, formatter, broadcaster, tasks, logger)
	runCtl := daemon.NewRunController(installer, broadcaster, lockPaths, poller, daemon.NewExecSpawner(), logger)
	runCtl.SetSessionStore(sessionStore)
	poller.OnShutdown(func(sub *daemon.Subscriber) { runCtl.Cleanup(sub.Session) })
	dispatcher := daemon.NewDispatcher(installer, poller, runCtl, idx)

	var components []daemon.Component

	adminSrv := adminapi.NewServer(dispatcher, broadcaster, idx, auditLog)
	adminRouter := adminapi.NewRouter(adminSrv, []byte(cfg.JWTSigningKey))
	components = append(components, newHTTPComponent(cfg.AdminAddr, adminRouter, "admin-api", logger))

	liveBroadcaster := livewatch.NewBroadcaster(logger, 256)
	liveBridge, err := livewatch.NewBridge(broadcaster, liveBroadcaster, logger)
	if err != nil {
		logger.Error("failed to start live-watch bridge", slog.Any("error", err))
		os.Exit(1)
	}
	components = append(components, newBridgeComponent(liveBridge))

	liveHandler := livewatch.NewHandler(liveBroadcaster, logger, 5*time.Second)
	components = append(components, newHTTPComponent(cfg.LiveWatchAddr, liveHandler, "livewatch", logger))

	if cfg.Forward.Enabled {
		fwClient := forward.New(forward.ClientConfig{
			Addr:     cfg.Forward.CollectorAddr,
			CertPath: cfg.Forward.TLS.CertPath,
			KeyPath:  cfg.Forward.TLS.KeyPath,
			CAPath:   cfg.Forward.TLS.CAPath,
		}, broadcaster, logger)
		components = append(components, fwClient)
	}

	d := daemon.New(poller, dispatcher, logger, daemon.WithComponents(components...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start daemon", slog.Any("error", err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	d.Stop()

	if err := installer.Teardown(context.Background()); err != nil {
		logger.Warn("engine teardown error", slog.Any("error", err))
	}

	logger.Info("atraced exited cleanly")
}

// httpComponent adapts a plain http.Server into a daemon.Component.
type httpComponent struct {
	srv    *http.Server
	name   string
	logger *slog.Logger
}

func newHTTPComponent(addr string, handler http.Handler, name string, logger *slog.Logger) *httpComponent {
	return &httpComponent{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0,
		},
		name:   name,
		logger: logger,
	}
}

func (h *httpComponent) Start(ctx context.Context) error {
	go func() {
		h.logger.Info(h.name+": listening", slog.String("addr", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error(h.name+": server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (h *httpComponent) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.Warn(h.name+": shutdown error", slog.Any("error", err))
	}
}

// bridgeComponent adapts a *livewatch.Bridge's blocking Run loop into a
// daemon.Component.
type bridgeComponent struct {
	bridge *livewatch.Bridge
	cancel context.CancelFunc
	done   chan struct{}
}

func newBridgeComponent(bridge *livewatch.Bridge) *bridgeComponent {
	return &bridgeComponent{bridge: bridge}
}

func (b *bridgeComponent) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		b.bridge.Run(ctx)
		close(b.done)
	}()
	return nil
}

func (b *bridgeComponent) Stop() {
	b.cancel()
	<-b.done
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
