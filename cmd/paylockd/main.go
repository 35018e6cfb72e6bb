package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"paylock/config"
	"paylock/core/events"
	"paylock/native/escrow"
	"paylock/observability/logging"
	otelobs "paylock/observability/otel"
	"paylock/rpc"
	"paylock/storage"
)

const envVar = "PAYLOCK_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup("paylockd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if cfg.TelemetryTraces || cfg.TelemetryMetrics {
		shutdown, err := otelobs.Init(context.Background(), otelobs.Config{
			ServiceName: "paylockd",
			Environment: env,
			Endpoint:    cfg.TelemetryEndpoint,
			Insecure:    cfg.TelemetryInsecure,
			Metrics:     cfg.TelemetryMetrics,
			Traces:      cfg.TelemetryTraces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	state := storage.NewState(db)
	payout := storage.NewAccountPayout(db)
	recorder := events.NewRecorder()

	engine := escrow.NewEngine()
	engine.SetState(state)
	engine.SetPayoutSink(payout)
	engine.SetEmitter(recorder)
	engine.SetApproveTimeout(cfg.ApproveTimeoutSeconds)

	logger.Info("starting escrow service",
		slog.String("network", cfg.NetworkName),
		slog.String("rpcAddress", cfg.RPCAddress),
		slog.String("dataDir", cfg.DataDir),
	)

	server := rpc.NewServer(engine, recorder)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
