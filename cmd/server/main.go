package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fasset-manager/internal/access"
	"github.com/atmx/fasset-manager/internal/api"
	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/clock"
	"github.com/atmx/fasset-manager/internal/config"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/governance"
	"github.com/atmx/fasset-manager/internal/metrics"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/settings"
	"github.com/atmx/fasset-manager/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.SQLitePath, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	pub := events.Multi{store.EventLog(st), wsHub, metrics.Publisher()}

	// --- Providers ---
	clk := clock.System{}
	feed := priceoracle.NewFeed(cfg.PriceProviderAddress, clk)
	facts := attestation.NewRegistry(cfg.AttestationProviderAddress)

	whitelists := access.NewRegistry()
	if cfg.WhitelistAddress != "" {
		whitelists.Register(access.NewWhitelist(cfg.WhitelistAddress, cfg.GovernanceAddress))
	}

	// --- Asset manager ---
	params, restored, err := loadSettings(ctx, cfg, st)
	if err != nil {
		slog.Error("asset manager settings", "err", err)
		os.Exit(1)
	}
	manager, err := assetmanager.New(assetmanager.Config{
		Address:  cfg.AssetManagerAddress,
		Settings: params,
		Restore:  restored,
		Collaterals: []model.CollateralType{{
			Token:           cfg.CollateralToken,
			Decimals:        cfg.CollateralDecimals,
			AssetFtsoSymbol: cfg.AssetFtsoSymbol,
			TokenFtsoSymbol: cfg.CollateralToken,
		}},
		Prices:     priceoracle.NewReader(feed, clk),
		Verifier:   facts,
		Whitelists: whitelists,
		Clock:      clk,
		Publisher:  pub,
		Replica:    st,
	})
	if err != nil {
		slog.Error("asset manager init failed", "err", err)
		os.Exit(1)
	}

	// --- Governance ---
	controller, err := governance.New(governance.Config{
		Address:    cfg.ControllerAddress,
		Governance: cfg.GovernanceAddress,
		Executors:  cfg.ExecutorAddresses,
		Timelock:   cfg.Timelock,
		Clock:      clk,
		Publisher:  pub,
	})
	if err != nil {
		slog.Error("controller init failed", "err", err)
		os.Exit(1)
	}
	controller.Register(manager)
	if err := controller.Bootstrap(ctx, manager.Address()); err != nil {
		slog.Error("controller bootstrap failed", "err", err)
		os.Exit(1)
	}

	svc := api.NewService(api.Config{
		Managers:   []*assetmanager.Manager{manager},
		Controller: controller,
		Feed:       feed,
		Facts:      facts,
		Store:      st,
		Whitelists: whitelists,
		Hub:        wsHub,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AccountHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fasset-manager"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fasset-manager listening", "port", cfg.Port, "asset_manager", manager.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fasset-manager...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("fasset-manager stopped")
}

// loadSettings reads the parameter file, or the defaults, and returns the
// snapshot already persisted for this asset manager when there is one.
func loadSettings(ctx context.Context, cfg config.Config, st store.Store) (settings.Settings, *settings.Snapshot, error) {
	params := settings.Default()
	if cfg.ParametersPath != "" {
		var err error
		if params, err = settings.Load(cfg.ParametersPath); err != nil {
			return settings.Settings{}, nil, err
		}
	}
	stored, err := st.GetSettings(ctx, cfg.AssetManagerAddress)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return params, nil, nil
	case err != nil:
		return settings.Settings{}, nil, fmt.Errorf("restore settings: %w", err)
	}
	slog.Info("restored persisted settings", "asset_manager", cfg.AssetManagerAddress, "version", stored.Version)
	return params, stored, nil
}
