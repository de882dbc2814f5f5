package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "pellet_dispenser/docs"
	"pellet_dispenser/internal/config"
	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/handlers"
	"pellet_dispenser/internal/logger"
	"pellet_dispenser/internal/repository"
	"pellet_dispenser/internal/repository/db"
	"pellet_dispenser/internal/server"
	"pellet_dispenser/internal/service"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

// @title                       Pellet Dispenser API
// @version                     1.0
// @description                 Supervises a serial pellet dispenser: connect, send commands, watch live state and read the event journal.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the JWT.
func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.Flags(flags)
	_ = flags.Parse(os.Args[1:])
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path, flags)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "path", path, "err", err)
	}
	log := logger.Get(cfg.LogLevel)

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "path", cfg.DB.Path, "err", err)
	}
	defer closeDB(sqlDB, log)

	repos := repository.NewRepository(sqlDB)
	ctrl := device.NewController(device.Config{
		Dialer:         newDialer(cfg),
		PollInterval:   cfg.Serial.PollInterval,
		ConnectTimeout: cfg.Serial.ConnectTimeout,
		Log:            log.Named("device"),
	})
	services := service.NewService(repos, ctrl, service.Options{
		DefaultPort: cfg.Serial.Port,
		SigningKey:  cfg.Auth.SigningKey,
		TokenTTL:    cfg.Auth.TokenTTL,
	}, log.Named("service"))
	apiHandler := handlers.NewHandler(services, log.Named("http"))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		services.Journal.Run(ctx)
	}()

	if cfg.Serial.AutoConnect {
		autoConnect(ctx, services, cfg.Serial.Port, log)
	}

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(log)

	// Order matters: the disconnect notification must reach the journal
	// before it stops.
	if err := ctrl.Disconnect(); err != nil && !errors.Is(err, device.ErrNotConnected) {
		log.Errorw("device_disconnect_failed", "err", err)
	}
	cancel()
	<-journalDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	log.Infow("shutdown_complete")
}

// newDialer picks the serial port or the built-in simulator.
func newDialer(cfg config.Config) device.Dialer {
	if cfg.Serial.Simulate {
		return device.SimulatorDialer{Tick: cfg.Sim.Tick, ReadTimeout: cfg.Serial.PollInterval}
	}
	return device.SerialDialer{
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.PollInterval,
		ResetDelay:  cfg.Serial.ResetDelay,
	}
}

// autoConnect opens the configured port at boot. Failure is logged and the
// API stays up so an operator can retry.
func autoConnect(ctx context.Context, services *service.Service, port string, log *logger.Logger) {
	if err := services.Dispenser.Connect(ctx, port); err != nil {
		log.Errorw("auto_connect_failed", "port", port, "err", err)
		return
	}
	log.Infow("auto_connect_ok", "port", port)
}

func closeDB(sqlDB *sql.DB, log *logger.Logger) {
	if err := sqlDB.Close(); err != nil {
		log.Errorw("failed to close sqlite", "err", err)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown(log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infow("shutting down", "signal", sig.String())
}
