package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"tdpos/backend/internal/cache"
	"tdpos/backend/internal/config"
	"tdpos/backend/internal/httpapi"
	"tdpos/backend/internal/logger"
	"tdpos/backend/internal/metrics"
	"tdpos/backend/internal/receipt"
	"tdpos/backend/internal/service"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/store/memory"
	"tdpos/backend/internal/store/mongostore"
	pgstore "tdpos/backend/internal/store/postgres"
)

const companyName = "TD Holdings"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: "tdpos-backend",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	ctx := context.Background()
	loc := cfg.Location()

	closers := make([]func() error, 0, 3)
	closeAll := func() error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		return errs
	}

	repo, closeRepo, err := openStore(ctx, cfg, loc, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	carts := openCartCache(ctx, cfg, log)
	if c, ok := carts.(*cache.RedisCartCache); ok {
		closers = append(closers, c.Close)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	posMetrics := metrics.New(registry)

	svc := service.New(repo, carts, log, posMetrics, service.Options{
		HeldCartTTL:       cfg.HeldCartTTL,
		DeadStockDays:     cfg.DeadStockDays,
		LowStockThreshold: cfg.LowStockThreshold,
		Location:          loc,
		Receipt: receipt.Renderer{
			Company:  companyName,
			Currency: cfg.CurrencySymbol,
			Width:    cfg.ReceiptWidth,
			Location: loc,
		},
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        log,
		Metrics:       posMetrics,
		Gatherer:      registry,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(log.WithFields(ctx, map[string]any{"addr": cfg.Address(), "store": cfg.StoreDriver}), "POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return multierr.Append(fmt.Errorf("server error: %w", err), closeAll())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	errs := server.Shutdown(shutdownCtx)
	errs = multierr.Append(errs, closeAll())
	if errs != nil {
		return errs
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore returns the configured store and its closer. Empty stores are
// seeded with the demo catalog when SeedDemoData is on.
func openStore(ctx context.Context, cfg config.Config, loc *time.Location, log *logger.Logger) (store.Store, func() error, error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	creds := memory.SeedCredentials{AdminPassword: cfg.SeedAdminPassword, CashierPassword: cfg.SeedCashierPass}

	var (
		repo   store.Store
		closer func() error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := pgstore.New(openCtx, cfg.DatabaseURL, pgstore.WithLocation(loc))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and %s_DATABASE_URL is set; refusing to start with in-memory fallback: %w", config.EnvPrefix, err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(openCtx, "up"); err != nil {
				_ = pg.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		repo, closer = pg, pg.Close
	case config.DriverMongo:
		mg, err := mongostore.New(openCtx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithLocation(loc))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable: %w", err)
		}
		repo, closer = mg, mg.Close
	default:
		repo = memory.New(memory.WithLocation(loc))
	}

	if cfg.SeedDemoData {
		if err := memory.Seed(openCtx, repo, creds); err != nil {
			if closer != nil {
				_ = closer()
			}
			return nil, nil, err
		}
		if creds.UsesDefaults() {
			log.Warn(ctx, "demo accounts use default passwords; set TDPOS_SEED_ADMIN_PASSWORD and TDPOS_SEED_CASHIER_PASSWORD")
		}
	}
	log.Info(log.WithField(ctx, "store", cfg.StoreDriver), "repository ready")
	return repo, closer, nil
}

// openCartCache prefers Redis for held carts and falls back to process memory.
func openCartCache(ctx context.Context, cfg config.Config, log *logger.Logger) cache.CartCache {
	if cfg.RedisAddr == "" {
		log.Info(ctx, "held carts: memory")
		return cache.NewMemoryCartCache()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	redisCache := cache.NewRedisCartCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(pingCtx); err != nil {
		_ = redisCache.Close()
		log.Warn(log.WithField(ctx, "error", err.Error()), "redis unavailable, holding carts in memory")
		return cache.NewMemoryCartCache()
	}
	log.Info(ctx, "held carts: redis")
	return redisCache
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("%s_AUTH_SECRET must be set and at least 32 characters", config.EnvPrefix)
	}
	if cfg.StoreDriver != config.DriverMemory && cfg.SeedDemoData {
		if cfg.SeedAdminPassword == "" || cfg.SeedCashierPass == "" {
			return fmt.Errorf("seeding a persistent store needs %[1]s_SEED_ADMIN_PASSWORD and %[1]s_SEED_CASHIER_PASSWORD", config.EnvPrefix)
		}
	}
	return nil
}
