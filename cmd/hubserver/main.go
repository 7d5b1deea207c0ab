// Command hubserver is a demonstration deployment of the hub lifetime
// manager: a WebSocket/JWT transport for browser clients plus a small
// HTTP control API server-side application code can call to trigger
// invocations and group membership changes.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/hublifetime/internal/bus"
	"github.com/adred-codev/hublifetime/internal/bus/memorybus"
	"github.com/adred-codev/hublifetime/internal/bus/natsbus"
	"github.com/adred-codev/hublifetime/internal/config"
	"github.com/adred-codev/hublifetime/internal/hubid"
	"github.com/adred-codev/hublifetime/internal/lifetime"
	"github.com/adred-codev/hublifetime/internal/logging"
	"github.com/adred-codev/hublifetime/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg)
	serverID := hubid.MustNew()
	logger = logger.With().Str("server_id", serverID).Logger()

	rec := metrics.NewPrometheus()
	sysReporter := metrics.NewSystemReporter()
	sysCtx, stopSys := context.WithCancel(context.Background())
	defer stopSys()
	go sysReporter.Run(sysCtx, 15*time.Second)

	busAdapter, err := newBusAdapter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize bus adapter")
	}

	manager, err := lifetime.NewDistributed(cfg.HubName, serverID, busAdapter, cfg.AckTimeout, logger, rec)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize lifetime manager")
	}

	jwt := newJWTManager(cfg.JWTSecret, cfg.TokenExpiration)
	srv := newServer(manager, jwt, logger)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.routes()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: rec.Handler()}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("hub server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("hub server failed")
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	metricsServer.Shutdown(ctx)
	if err := manager.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing lifetime manager")
	}
}

// newBusAdapter picks natsbus when a NATS URL is configured, otherwise
// an in-process memorybus broker private to this server.
func newBusAdapter(cfg *config.Config, logger zerolog.Logger) (bus.Adapter, error) {
	if cfg.NATSURL == "" {
		return memorybus.NewAdapter(memorybus.NewBroker()), nil
	}
	return natsbus.Connect(natsbus.DefaultConfig(cfg.NATSURL), logger)
}
