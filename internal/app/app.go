package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chrissnell/prodtimeline/internal/channel"
	"github.com/chrissnell/prodtimeline/internal/controllers/pushserver"
	"github.com/chrissnell/prodtimeline/internal/controllers/restserver"
	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/metrics"
	"github.com/chrissnell/prodtimeline/internal/simulator"
	"github.com/chrissnell/prodtimeline/internal/store"
	"github.com/chrissnell/prodtimeline/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// App represents the reference server
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger

	cfg     *config.ConfigData
	db      *gorm.DB
	hub     *channel.Hub
	store   *store.Store
	metrics *metrics.Collector

	listener   net.Listener
	mux        cmux.CMux
	httpServer *http.Server
	metricsSrv *http.Server
	push       *pushserver.Controller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Store returns the store once Start has succeeded
func (a *App) Store() *store.Store {
	return a.store
}

// Hub returns the push rooms once Start has succeeded
func (a *App) Hub() *channel.Hub {
	return a.hub
}

// Addr returns the address of the main listener once Start has succeeded
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		a.logger.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down...")
	}

	return a.Shutdown()
}

// Start opens the database, builds every component and begins serving.
// REST and gRPC share the server listener; gRPC is told apart by its
// content-type.
func (a *App) Start(ctx context.Context) error {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg

	a.db, err = database.CreateConnection(cfg.Server.Storage.Driver, cfg.Server.Storage.DSN)
	if err != nil {
		return err
	}
	if err := database.Migrate(a.db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(reg, "")

	a.hub = channel.NewHub(a.logger.Named("hub"))
	a.store = store.New(a.db, a.hub,
		store.WithLogger(a.logger.Named("store")),
		store.WithMetrics(a.metrics),
		store.WithShifts(cfg.Shifts),
		store.WithLocation(cfg.Location()),
	)

	rest := restserver.NewController(a.store, cfg.Location(), a.logger.Named("rest"))
	a.push = pushserver.NewController(a.hub, a.logger.Named("push"))

	router := mux.NewRouter()
	if cfg.Metrics.ListenAddr == "" {
		router.Handle("/metrics", a.metrics.Handler())
	}
	router.PathPrefix("/").Handler(rest.Handler())
	a.httpServer = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	a.listener, err = net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.ListenAddr, err)
	}
	a.mux = cmux.New(a.listener)
	grpcL := a.mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldPrefixSendSettings("content-type", "application/grpc"))
	httpL := a.mux.Match(cmux.Any())

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.serve("push", func() error { return a.push.Serve(grpcL) })
	a.serve("http", func() error { return a.httpServer.Serve(httpL) })
	a.serve("cmux", a.mux.Serve)

	if cfg.Metrics.ListenAddr != "" {
		ml, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
		if err != nil {
			a.Shutdown()
			return fmt.Errorf("listening on %s: %w", cfg.Metrics.ListenAddr, err)
		}
		a.metricsSrv = &http.Server{Handler: a.metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
		a.serve("metrics", func() error { return a.metricsSrv.Serve(ml) })
	}

	if sim := cfg.Server.Simulator; sim.Enabled {
		s := simulator.New(a.store, sim.Machines, sim.Interval,
			simulator.WithLogger(a.logger.Named("simulator")),
			simulator.WithLocation(cfg.Location()),
		)
		a.serve("simulator", func() error { return s.Run(runCtx) })
	}

	if yp, ok := a.configProvider.(*config.YAMLProvider); ok {
		w, err := config.NewWatcher(yp, a.reload)
		if err != nil {
			a.logger.Warnw("config hot reload disabled", "error", err)
		} else {
			a.serve("config watcher", func() error { return w.Run(runCtx) })
		}
	}

	a.logger.Infow("reference server listening", "addr", a.listener.Addr().String(),
		"storage", cfg.Server.Storage.Driver, "shifts", len(cfg.Shifts))
	return nil
}

// reload applies the parts of a new configuration that can change at runtime.
func (a *App) reload(cfg *config.ConfigData) {
	a.store.SetShifts(cfg.Shifts)
	a.logger.Infow("shift configuration updated", "shifts", len(cfg.Shifts))
}

func (a *App) serve(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := fn()
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed), errors.Is(err, net.ErrClosed), errors.Is(err, cmux.ErrListenerClosed):
		default:
			a.logger.Debugw("server exited", "server", name, "error", err)
		}
	}()
}

// Shutdown stops every component and waits for them to exit.
func (a *App) Shutdown() error {
	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if a.push != nil {
		a.push.Stop()
	}
	if a.mux != nil {
		a.mux.Close()
	}

	// Wait for all workers to terminate
	a.logger.Info("waiting for all workers to terminate...")
	a.wg.Wait()

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
