package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/offlinequeue"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

const drainLockTTL = 30 * time.Second

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		zlog.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx, domain.Settings{InvoicePrefix: cfg.InvoicePrefix, StoreName: cfg.StoreName}); err != nil {
			zlog.Fatal("apply schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zlog.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		if memory.UsingDefaultCredentials() {
			zlog.Warn("seed users are using dev passwords; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD")
		}
		repo = memory.NewSeeded()
		zlog.Info("repository ready", zap.String("backend", "memory"))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	var queueBackend offlinequeue.Backend = offlinequeue.NewMemoryBackend()
	var locker offlinequeue.Locker
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisCatalogCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			zlog.Warn("redis unavailable, using noop cache and in-process queue", zap.Error(err))
			_ = client.Close()
		} else {
			catalogCache = redisCache
			queueBackend = offlinequeue.NewRedisBackend(client)
			locker = offlinequeue.NewRedisLocker(client, drainLockTTL)
			closers = append(closers, client.Close)
			zlog.Info("redis ready", zap.String("addr", cfg.RedisAddr))
		}
	}

	svc := service.New(repo, service.Options{
		Logger:           zlog.Named("service"),
		Cache:            catalogCache,
		CacheTTL:         cfg.CatalogCacheTTL,
		Metrics:          m,
		MaxTxAttempts:    cfg.TxMaxAttempts,
		ReturnWindowDays: cfg.ReturnWindowDays,
	})

	queue := offlinequeue.New(queueBackend, svc, offlinequeue.Options{
		Logger:       zlog.Named("offlinequeue"),
		Metrics:      m,
		Locker:       locker,
		PollInterval: cfg.OfflinePollInterval,
	})

	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		Logger:        zlog.Named("http"),
		AllowedOrigin: cfg.AllowedOrigin,
		Queue:         queue,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	runCtx, stopRun := context.WithCancel(service.WithActor(context.Background(), domain.Actor{Username: "system", Role: domain.RoleAdmin}))
	defer stopRun()
	go func() {
		if err := queue.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("offline queue stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
	stopRun()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Error("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}

// validateSecurityConfig requires a strong signing secret. The manager PIN
// is optional; when set it must be at least six digits and not guessable.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ManagerPIN == "" {
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "121212": true, "112233": true,
		"123123": true, "159753": true, "696969": true, "102030": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
