// Package main provides the API server entry point for the token sale ledger.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cfd-ledger/internal/adapter"
	"github.com/cfd-ledger/internal/api"
	"github.com/cfd-ledger/internal/config"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/ratelimit"
	"github.com/cfd-ledger/internal/service"
	"github.com/cfd-ledger/internal/storage"
	"github.com/cfd-ledger/internal/worker"
)

func main() {
	fmt.Println("CFD Token Sale Ledger API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
		"store":  string(cfg.Sale.Store),
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	ledger, closeLedger, err := storage.OpenLedger(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open ledger")
	}
	defer closeLedger()

	redisCache, closeRedis := storage.OpenRedis(ctx, cfg)
	defer closeRedis()

	// A nil *StatusCache must not reach the registry as a non-nil interface
	var statusCache service.StatusCache
	if redisCache != nil {
		statusCache = storage.NewStatusCache(redisCache, cfg.Cache.StatusTTL)
	}

	var oracle service.BalanceOracle = storage.NewLedgerBalanceOracle(ledger)
	if cfg.Chain.Enabled {
		chainOracle, client, err := adapter.DialERC20BalanceOracle(&cfg.Chain, storage.NewLedgerBalanceOracle(ledger))
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize chain balance oracle")
		}
		defer client.Close()
		if redisCache != nil && cfg.Chain.CUBudget > 0 {
			budget, err := ratelimit.NewRPCBudget(&ratelimit.RPCBudgetConfig{
				Redis:          redisCache.Client(),
				TotalBudget:    cfg.Chain.CUBudget,
				ReservedBudget: cfg.Chain.CUReserved,
			})
			if err != nil {
				logger.WithError(err).Fatal("Failed to create RPC budget")
			}
			chainOracle.SetBudget(budget)
		}
		oracle = chainOracle
		logger.WithField("contract", cfg.Chain.TokenContract).Info("Using on-chain token balances")
	}

	policy := service.DividendPolicy{
		TotalSupply:          cfg.Sale.TotalSupply,
		DistributionShare:    cfg.Sale.DistributionShare,
		MinimumHoldingPeriod: cfg.Sale.MinimumHoldingPeriod,
	}

	registry := service.NewPhaseRegistry(ledger, statusCache)
	calculator := service.NewDividendCalculator(ledger, oracle, policy)

	var phaseWorker *worker.PhaseWorker
	if cfg.Sale.PhaseCheckInterval > 0 {
		phaseWorker, err = worker.NewPhaseWorker(registry, cfg.Sale.PhaseCheckInterval)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create phase worker")
		}
		if err := phaseWorker.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start phase worker")
		}
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AnonymousRPS:    cfg.RateLimit.AnonymousRPS,
		HolderRPS:       cfg.RateLimit.HolderRPS,
		Burst:           cfg.RateLimit.Burst,
		OperatorKey:     cfg.Server.OperatorKey,
	}

	server := api.NewServer(serverConfig, api.Services{
		Status:       registry,
		Purchases:    service.NewPurchaseRecorder(ledger, registry),
		Dividends:    calculator,
		Claims:       service.NewPayoutLedger(ledger, calculator),
		Distribution: service.NewDistributionService(ledger, calculator),
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if phaseWorker != nil {
		if err := phaseWorker.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Phase worker did not stop cleanly")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
