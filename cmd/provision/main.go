// Package main seeds the three sale phases into the ledger.
// Existing phases are never overwritten, so running it twice is harmless.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cfd-ledger/internal/config"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/service"
	"github.com/cfd-ledger/internal/storage"
	"github.com/cfd-ledger/internal/types"
)

func main() {
	startFlag := flag.String("start", time.Now().UTC().Format("2006-01-02"), "Opening date of phase 1 (YYYY-MM-DD, UTC)")
	flag.Parse()

	fmt.Println("Token Sale Phase Provisioning")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if cfg.Sale.Store == types.StoreMemory {
		logger.Fatal("Provisioning an in-memory ledger has no effect; set SALE_STORE=postgres")
	}

	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		logger.WithError(err).Fatal("Invalid -start date")
	}

	ctx := logging.WithLogger(context.Background(), logger)
	ledger, closeLedger, err := storage.OpenLedger(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open ledger")
	}
	defer closeLedger()

	registry := service.NewPhaseRegistry(ledger, nil)
	phases := service.DefaultPhases(start)

	inserted, err := registry.Provision(ctx, phases, time.Now())
	if err != nil {
		logger.WithError(err).Fatal("Failed to provision phases")
	}

	for _, p := range phases {
		logger.WithFields(map[string]interface{}{
			"phase":      p.Ordinal,
			"name":       p.Name,
			"tokenPrice": p.TokenPrice.String(),
			"cap":        p.TotalTokens.String(),
			"start":      p.StartTime.Format(time.RFC3339),
			"end":        p.EndTime.Format(time.RFC3339),
		}).Info("Phase definition")
	}
	logger.WithField("inserted", inserted).Info("Provisioning complete")
}
