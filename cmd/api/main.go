package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nftsale/market-backend/api/routes"
	"github.com/nftsale/market-backend/internal/ledger"
	"github.com/nftsale/market-backend/internal/market"
	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/internal/treasury"
	"github.com/nftsale/market-backend/internal/vault"
	"github.com/nftsale/market-backend/pkg/config"
	"github.com/nftsale/market-backend/pkg/db"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
	"github.com/nftsale/market-backend/pkg/metrics"
	"github.com/nftsale/market-backend/pkg/migrate"
	"github.com/nftsale/market-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	treasurySvc, err := treasury.NewService(treasury.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create treasury service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	vaultRepo := vault.NewRepository(dbClient.DB())

	bus := mesh.New(mesh.Config{
		Logger:   logg,
		Treasury: treasurySvc,
		Spawner:  vault.NewSpawner(vaultRepo, dbClient, logg),
	})

	root := identity.AccountID(cfg.Market.RootAccount)
	marketSvc, err := market.NewService(root, market.NewRepository(dbClient.DB()), dbClient, ledgerSvc, settlementMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create market service", err)
		os.Exit(1)
	}
	if err := bus.Register(root, marketSvc); err != nil {
		logg.Error(context.Background(), "failed to register market coordinator", err)
		os.Exit(1)
	}
	if err := vault.Recover(context.Background(), bus, vaultRepo, dbClient, logg); err != nil {
		logg.Error(context.Background(), "failed to recover vaults", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Bus:        bus,
		Market:     marketSvc,
		Listings:   vaultRepo,
		Treasury:   treasurySvc,
		Ledger:     ledgerSvc,
		MetricsReg: registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
		"root": cfg.Market.RootAccount,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	case sig := <-shutdown:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Mesh.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "error shutting down http server", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		logg.Error(ctx, "error draining mesh", err)
	}
}
