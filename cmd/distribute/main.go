// Package main credits one cycle's profit pool to eligible holders.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cfd-ledger/internal/adapter"
	"github.com/cfd-ledger/internal/config"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/ratelimit"
	"github.com/cfd-ledger/internal/service"
	"github.com/cfd-ledger/internal/storage"
	"github.com/cfd-ledger/internal/types"
	"github.com/shopspring/decimal"
)

func main() {
	cycleFlag := flag.String("cycle", models.CycleFor(time.Now()), "Cycle to distribute (YYYY-MM)")
	profitFlag := flag.String("profit", "", "Monthly profit for the cycle")
	flag.Parse()

	fmt.Println("Dividend Distribution")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if cfg.Sale.Store == types.StoreMemory {
		logger.Fatal("Distributing into an in-memory ledger has no effect; set SALE_STORE=postgres")
	}

	profit, err := decimal.NewFromString(*profitFlag)
	if err != nil {
		logger.WithError(err).Fatal("Invalid -profit")
	}

	ctx := logging.WithLogger(context.Background(), logger)
	ledger, closeLedger, err := storage.OpenLedger(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open ledger")
	}
	defer closeLedger()

	var oracle service.BalanceOracle = storage.NewLedgerBalanceOracle(ledger)
	if cfg.Chain.Enabled {
		chainOracle, client, err := adapter.DialERC20BalanceOracle(&cfg.Chain, storage.NewLedgerBalanceOracle(ledger))
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize chain balance oracle")
		}
		defer client.Close()

		redisCache, closeRedis := storage.OpenRedis(ctx, cfg)
		defer closeRedis()
		if redisCache != nil && cfg.Chain.CUBudget > 0 {
			// Shares the server's window; distribution calls draw from the reserved pool
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
	}

	calculator := service.NewDividendCalculator(ledger, oracle, service.DividendPolicy{
		TotalSupply:          cfg.Sale.TotalSupply,
		DistributionShare:    cfg.Sale.DistributionShare,
		MinimumHoldingPeriod: cfg.Sale.MinimumHoldingPeriod,
	})

	distribution, err := service.NewDistributionService(ledger, calculator).Distribute(ctx, *cycleFlag, profit, time.Now())
	if err != nil {
		logger.WithError(err).Fatal("Distribution failed")
	}

	fmt.Printf("Cycle %s: pool %s credited to %d holders (remainder %s)\n",
		distribution.Cycle, distribution.Pool, distribution.HolderCount, distribution.Remainder)
}
