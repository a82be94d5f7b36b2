package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/debounce"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

const heartbeatInterval = 10 * time.Second

func runMonitor(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	cfg := env.cfg
	if logFile != "" {
		cfg.Logging.File = logFile
	}

	logger := config.BuildLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	store, err := openStore(env.dataDir)
	if err != nil {
		logger.Error("failed to open policy store", zap.Error(err))
		return err
	}
	defer store.Close()

	if err := policy.Apply(store, cfg.Blocked, nil); err != nil {
		logger.Warn("failed to seed blocked list from config", zap.Error(err))
	}

	rules, err := cfg.RuleSet()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	clock := infra.SystemClock{}

	publisher := usecase.NewPublisher(usecase.DefaultBufferSize, m, logger)
	publisher.Subscribe(infra.NewJSONLineSubscriber(os.Stdout, logger))
	publisher.Start(ctx)
	defer publisher.Close()

	labels := infra.NewDesktopLabelRegistry(logger, infra.DefaultApplicationDirs()...)
	tracker := usecase.NewTracker(
		cfg.TrackerConfig(),
		rules,
		debounce.New(cfg.DebounceConfig()),
		usecase.NewResolver(labels, logger),
		publisher,
		clock,
		m,
		logger,
	)

	warning := infra.NewNotificationWarning(infra.AppName, cfg.Enforcement.WarningDuration.Std(), logger)
	defer warning.Close()

	enforcer := usecase.NewEnforcer(
		cfg.EnforcerConfig(),
		store,
		infra.NewProcessTerminator(),
		infra.NewX11Navigator(nil),
		warning,
		clock,
		m,
		logger,
	)

	monCfg := cfg.MonitorConfig()
	var query domain.ForegroundQuery
	if monCfg.Mode != daemon.ModePush {
		query = infra.NewX11ForegroundQuery(nil, clock)
	}
	var stream domain.SignalStream
	if monCfg.Mode != daemon.ModePoll {
		focus := infra.NewX11FocusStream(nil, clock, 0, logger)
		if err := focus.Start(ctx); err != nil {
			logger.Warn("push source unavailable, relying on polling", zap.Error(err))
			if query == nil {
				query = infra.NewX11ForegroundQuery(nil, clock)
				monCfg.Mode = daemon.ModePoll
			}
		} else {
			stream = focus
			defer focus.Stop()
		}
	}

	monitor := daemon.NewMonitor(monCfg, query, stream, tracker, enforcer, store, clock, m, logger)
	defer monitor.Stop()

	status := infra.NewStatusFile(env.dataDir)
	now := clock.Now().Unix()
	err = status.Write(infra.DaemonStatus{
		PID:           os.Getpid(),
		Mode:          string(env.execMode.Mode),
		Version:       Version,
		StartedAt:     now,
		LastHeartbeat: now,
	})
	if err != nil {
		logger.Warn("failed to write status file", zap.Error(err))
	}
	defer func() { _ = status.Clear() }()

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMetrics(ctx, srv, logger)
		}()
	}

	watcher := config.NewWatcher(env.configPath, cfg, func(prev, next *config.Config) {
		syncBlocked(store, prev, next, logger)
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		housekeeping(ctx, store, tracker, status, logger)
	}()

	logger.Info("appguard started",
		zap.String("version", Version),
		zap.String("mode", env.execMode.Mode.String()),
		zap.String("config", env.configPath),
		zap.String("data_dir", env.dataDir))

	err = monitor.Run(ctx)
	cancel()
	if errors.Is(err, context.Canceled) {
		logger.Info("appguard stopped")
		return nil
	}
	return err
}

// syncBlocked applies changes to the config file's blocked list to the store.
// Packages blocked through the CLI are left alone.
func syncBlocked(store domain.PolicyStore, prev, next *config.Config, logger *zap.Logger) {
	added, removed := policy.Diff(prev.Blocked, next.Blocked)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	if err := policy.Apply(store, added, removed); err != nil {
		logger.Error("failed to apply blocked list change", zap.Error(err))
		return
	}
	logger.Info("blocked list updated from config",
		zap.Strings("added", added),
		zap.Strings("removed", removed))
}

// housekeeping refreshes the status heartbeat and reloads the policy on SIGHUP.
func housekeeping(ctx context.Context, store *infra.EncryptedPolicyStore, tracker *usecase.Tracker, status *infra.StatusFile, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-hup:
			if err := store.Reload(); err != nil {
				logger.Warn("policy reload failed", zap.Error(err))
				continue
			}
			logger.Info("policy reloaded on SIGHUP")

		case now := <-ticker.C:
			foreground := ""
			if session, ok := tracker.Current(); ok {
				foreground = session.PackageID
			}
			blocked, _ := store.List()
			if err := status.Heartbeat(now, foreground, len(blocked)); err != nil {
				logger.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// metricsRouter serves Prometheus metrics and a liveness probe.
func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func serveMetrics(ctx context.Context, srv *http.Server, logger *zap.Logger) {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("metrics listening", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}
}
