package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/grupomobel/inventario/internal/config"
	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/planner"
	"github.com/grupomobel/inventario/pkg/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewPostgresStore(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	ledgerCfg := &ledger.Config{
		AllowNegativeStock: cfg.Ledger.AllowNegativeStock,
		BulkSheetName:      cfg.Ledger.BulkSheetName,
		DefaultWarehouse:   cfg.Ledger.DefaultWarehouse,
	}
	receiving := ledger.NewReceivingLedger(store, nil, logger, ledgerCfg)
	allocation := ledger.NewAllocationLedger(store, nil, logger, ledgerCfg)

	plan := planner.New(store, logger, &planner.Config{
		IVARate:      cfg.Planner.IVARate,
		LotSheetName: cfg.Ledger.BulkSheetName,
	})
	worker := planner.NewWorker(plan, logger, cfg.Planner.QueueSize)
	worker.Start(context.Background())

	server := NewServer(receiving, allocation, plan, worker, store, logger, cfg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	go func() {
		logger.Info("starting API server", zap.Int("port", cfg.API.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	worker.Stop()
	logger.Info("server stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
