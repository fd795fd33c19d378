package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"machine_monitor/internal/config"
	"machine_monitor/internal/handlers"
	"machine_monitor/internal/logger"
	"machine_monitor/internal/metrics"
	"machine_monitor/internal/repository"
	"machine_monitor/internal/repository/db"
	"machine_monitor/internal/server"
	"machine_monitor/internal/service"
)

const shutdownTimeout = 10 * time.Second

var configFile string

// @title                       Machine Monitor API
// @version                     1.0
// @description                 Machine telemetry monitoring and utilization analytics.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "machine-monitor",
		Short:         "Polls CNC machines and reports utilization",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default configs/config.yml)")

	root.AddCommand(buildServeCommand())
	root.AddCommand(buildReportCommand())
	root.AddCommand(buildCloseIntervalsCommand())
	root.AddCommand(buildSeedCommand())
	return root
}

// app is what every command needs: validated config, logger and an open DB.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *sql.DB
	repos *repository.Repository
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.Get(cfg.LogLevel)

	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	return &app{cfg: cfg, log: log, db: conn, repos: repository.NewRepository(conn)}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Errorw("sqlite_close_failed", "err", err)
	}
	_ = a.log.Sync()
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	if err := seedIfEmpty(ctx, a); err != nil {
		return err
	}

	var collector *metrics.Collector
	opts := handlers.Options{Location: a.cfg.Location()}
	if a.cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		opts.Metrics = collector.Handler()
	}
	hub := handlers.NewHub(a.log)
	opts.Hub = hub

	services := service.NewService(a.repos, service.Deps{
		Config:      a.cfg,
		Broadcaster: hub,
		Metrics:     collector,
		Log:         a.log,
	})
	if err := services.Monitor.Initialize(ctx); err != nil {
		return err
	}

	apiHandler := handlers.NewHandler(services, a.log, opts)
	srv := &server.Server{}
	serverErr := runHTTPServer(srv, a.cfg.Port, apiHandler, a.log)

	waitForShutdown(ctx, serverErr, a.log)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := services.Monitor.Stop(stopCtx); err != nil {
		a.log.Errorw("monitor_stop_failed", "err", err)
		errs = multierr.Append(errs, err)
	}
	hub.Close()
	if err := srv.Shutdown(stopCtx); err != nil {
		a.log.Errorw("server_forced_shutdown", "err", err)
		errs = multierr.Append(errs, err)
	}
	a.log.Infow("shutdown_complete")
	return errs
}

func seedIfEmpty(ctx context.Context, a *app) error {
	existing, err := a.repos.Machines.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 || a.cfg.Machines.SeedFile == "" {
		return nil
	}
	n, err := repository.Seed(ctx, a.repos.Machines, a.cfg.Machines.SeedFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.log.Warnw("seed_file_missing", "path", a.cfg.Machines.SeedFile)
			return nil
		}
		return err
	}
	a.log.Infow("machines_seeded", "count", n, "path", a.cfg.Machines.SeedFile)
	return nil
}

// runHTTPServer runs the HTTP server in a separate goroutine. The returned
// channel yields the error that stopped it, if any.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Infow("http_server_starting", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Errorw("http_server_failed", "err", err)
			errCh <- err
		}
	}()
	return errCh
}

// waitForShutdown blocks until a termination signal, ctx cancellation or a
// server failure.
func waitForShutdown(ctx context.Context, serverErr <-chan error, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Infow("shutting_down", "signal", sig.String())
	case <-ctx.Done():
		log.Infow("shutting_down", "reason", ctx.Err())
	case err := <-serverErr:
		log.Infow("shutting_down", "reason", err)
	}
}
