package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nftsale/market-backend/api/controllers"
	"github.com/nftsale/market-backend/api/middleware"
	"github.com/nftsale/market-backend/internal/ledger"
	"github.com/nftsale/market-backend/internal/treasury"
	"github.com/nftsale/market-backend/pkg/config"
	"github.com/nftsale/market-backend/pkg/enums"
	"github.com/nftsale/market-backend/pkg/logger"
	pkgredis "github.com/nftsale/market-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      *pkgredis.Client
	Bus        controllers.Submitter
	Market     controllers.Directory
	Listings   controllers.ListingReader
	Treasury   treasury.Service
	Ledger     ledger.Service
	MetricsReg *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	var idemStore pkgredis.IdempotencyStore
	var cachePinger controllers.Pinger
	if deps.Redis != nil {
		idemStore = deps.Redis
		cachePinger = deps.Redis
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, cachePinger))
	})

	if deps.MetricsReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsReg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/market", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cfg.Idempotency, idemStore, logg))

		r.Post("/provision", controllers.MarketProvision(deps.Bus, deps.Market, logg))
		r.Post("/listings", controllers.MarketCreateListing(deps.Bus, deps.Market, logg))
		r.Post("/withdrawals", controllers.MarketCreateWithdrawal(deps.Bus, deps.Market, logg))
		r.Post("/purchases", controllers.MarketCreatePurchase(deps.Bus, deps.Market, logg))
		r.Delete("/subaccount", controllers.MarketDestroySubaccount(deps.Bus, deps.Market, logg))
		r.Get("/subaccount/{account}", controllers.MarketSubaccount(deps.Market, logg))
		r.Get("/price", controllers.MarketPrice(deps.Listings, deps.Market, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.ActorRoleOperator), logg))
		r.Use(middleware.Idempotency(cfg.Idempotency, idemStore, logg))

		r.Post("/market/unlock", controllers.AdminUnlockVault(deps.Bus, deps.Market, logg))
		r.Post("/treasury/credits", controllers.AdminTreasuryCredit(deps.Treasury, logg))
		r.Get("/treasury/balance", controllers.AdminTreasuryBalance(deps.Treasury, logg))
		r.Get("/settlements", controllers.AdminVaultSettlements(deps.Ledger, logg))
	})

	return r
}
