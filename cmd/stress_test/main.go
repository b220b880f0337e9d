package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stockgrid/internal/adapter/remote/remotetest"
	"github.com/rl1809/stockgrid/internal/app"
	"github.com/rl1809/stockgrid/internal/config"
	"github.com/rl1809/stockgrid/internal/core/domain"
)

const (
	reference     = "STRESS-001"
	initialStock  = 20
	totalRequests = 50
)

var slot = domain.SlotAddress{Aisle: "A", Column: 1, Level: 1}

func main() {
	ctx := context.Background()

	// Fake remote store with no request spacing
	srv := remotetest.NewServer("inventory")
	defer srv.Close()

	cfg := config.Defaults()
	cfg.RemoteURL = srv.URL
	cfg.CacheBackend = config.BackendMemory
	cfg.MinInterval = 0
	cfg.Backoff = 10 * time.Millisecond
	cfg.LogLevel = "warn"

	a, err := app.New(ctx, &cfg, app.NewLogger(&cfg, os.Stderr))
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer a.Shutdown(ctx)

	if err := a.Init(ctx); err != nil {
		log.Fatalf("failed to init: %v", err)
	}

	passed := run(ctx, a, "remote")

	// Same load once the quota is gone and writes land in the local cache
	srv.ExhaustQuota()
	if _, err := a.Inventory.SelectAll(ctx); err != nil {
		log.Fatalf("failed to switch to fallback: %v", err)
	}
	passed = run(ctx, a, "fallback") && passed

	if !passed {
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, mode string) bool {
	if _, err := a.Inventory.Apply(ctx, domain.AddStock{Slot: slot, Reference: reference, Quantity: initialStock}); err != nil {
		log.Fatalf("failed to stock slot: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent withdrawals
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := a.Inventory.Apply(ctx, domain.Withdraw{Slot: slot, Reference: reference, Quantity: 1})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Printf("========== STRESS TEST RESULTS (%s) ==========\n", mode)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==============================================")

	passed := true
	if success == initialStock && fail == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d withdrawals succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
		passed = false
	}

	// Verify the slot was emptied
	g, err := a.Inventory.Grid(ctx)
	if err != nil {
		log.Fatalf("failed to read grid: %v", err)
	}
	s, _ := g.Slot(slot)
	if s.Empty() {
		fmt.Println("PASS: Slot emptied")
	} else {
		fmt.Printf("FAIL: Expected empty slot, got %d entries\n", len(s.Items))
		passed = false
	}
	return passed
}
