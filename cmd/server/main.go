package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boticapos/backend/internal/config"
	"boticapos/backend/internal/httpapi"
	"boticapos/backend/internal/ledger"
	"boticapos/backend/internal/pricing"
	"boticapos/backend/internal/rates"
	"boticapos/backend/internal/service"
	"boticapos/backend/internal/store"
	"boticapos/backend/internal/store/memory"
	pgstore "boticapos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	rateCache := rates.Cache(rates.NoopCache{})
	if cfg.RedisAddr != "" {
		redisCache := rates.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop rate cache", err)
		} else {
			rateCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("rate cache: redis")
		}
	} else {
		log.Println("rate cache: noop")
	}

	// No live quote source wired yet; the provider serves the configured
	// rate through the same path a real feed would use.
	quotes := rates.NewProvider(nil, rateCache, cfg.FallbackRateVES,
		time.Duration(cfg.RateTimeoutSeconds)*time.Second,
		time.Duration(cfg.RateTTLSeconds)*time.Second)

	pricer := pricing.NewEngine()
	levies := pricing.NewLevyAccumulator()
	book := ledger.New(repo)
	svc := service.New(repo, pricer, levies, quotes, book, service.Options{
		LevyRate:            cfg.LevyRate(),
		VoucherThresholdVES: cfg.VoucherThresholdVES,
		VoucherExpiryDays:   cfg.VoucherExpiryDays,
		ExpiryWarningDays:   cfg.ExpiryWarningDays,
	})

	pin, err := httpapi.NewPINGuard(cfg.ManagerPIN)
	if err != nil {
		log.Fatalf("manager pin setup failed: %v", err)
	}
	if !pin.Enabled() {
		log.Println("MANAGER_PIN not set; adjustment and levy endpoints disabled")
	}
	api := httpapi.New(svc, pin, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("botica POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}
