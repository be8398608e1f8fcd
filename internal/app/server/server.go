package server

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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"evaltrack/internal/domain/access"
	"evaltrack/internal/domain/assignment"
	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/evaluation"
	"evaltrack/internal/domain/movement"
	"evaltrack/internal/domain/reports"
	"evaltrack/internal/domain/users"
	"evaltrack/internal/platform/config"
	cryptoutil "evaltrack/internal/platform/crypto"
	"evaltrack/internal/platform/db"
	"evaltrack/internal/platform/metrics"
	"evaltrack/internal/platform/recordstore"
	"evaltrack/internal/transport/http/api"
	assignmentshandler "evaltrack/internal/transport/http/handlers/assignments"
	audithandler "evaltrack/internal/transport/http/handlers/audit"
	authhandler "evaltrack/internal/transport/http/handlers/auth"
	corehandler "evaltrack/internal/transport/http/handlers/core"
	evaluationshandler "evaltrack/internal/transport/http/handlers/evaluations"
	movementshandler "evaltrack/internal/transport/http/handlers/movements"
	reportshandler "evaltrack/internal/transport/http/handlers/reports"
	"evaltrack/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	Store   recordstore.Store
	Router  http.Handler
	Metrics *metrics.Collector
	pool    *pgxpool.Pool
}

// Run loads configuration, serves until SIGINT/SIGTERM and shuts down cleanly.
func Run() error {
	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("close store failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("evaltrack listening", "addr", cfg.Addr, "store", cfg.StoreBackend, "env", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// New opens the configured store, migrates and seeds it when asked, and
// builds the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app, err := NewWithStore(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	app.pool = pool
	return app, nil
}

// NewWithStore wires every service over store.
func NewWithStore(ctx context.Context, cfg config.Config, store recordstore.Store) (*App, error) {
	crypto, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	userService := users.NewService(store)
	if cfg.RunSeed {
		if err := db.Seed(ctx, store, userService, cfg); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	collector := metrics.New()
	perms := auth.StaticPermissions{}
	sessions := auth.NewSessions(store, cfg.TokenTTL)
	auditService := audit.New(store)
	assignments := assignment.NewService(store, userService)
	evaluations := evaluation.NewService(store, assignments, crypto)
	movements := movement.NewService(store, employeeLookup(userService))
	filter := access.NewFilter(evaluations, assignments)
	summaries := reports.NewService(evaluations, movements)
	idempotency := middleware.NewIdempotencyStore(store)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(chimw.Recoverer)
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret, sessions, userService))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, collector.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
		r.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

		authhandler.NewHandler(userService, sessions, cfg.JWTSecret, cfg.TokenTTL, crypto, auditService).RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(middleware.Idempotency(idempotency))

			corehandler.NewHandler(userService, sessions, filter, perms, auditService).RegisterRoutes(r)
			assignmentshandler.NewHandler(assignments, perms, auditService).RegisterRoutes(r)
			evaluationshandler.NewHandler(evaluations, filter, perms, auditService, collector).RegisterRoutes(r)
			movementshandler.NewHandler(movements, perms, auditService, collector).RegisterRoutes(r)
			reportshandler.NewHandler(summaries, perms).RegisterRoutes(r)
			audithandler.NewHandler(auditService, perms).RegisterRoutes(r)
		})
	})

	if cfg.FrontendDir != "" {
		router.Mount("/", spaHandler{staticPath: cfg.FrontendDir, indexPath: "index.html"})
	}

	return &App{Config: cfg, Store: store, Router: router, Metrics: collector}, nil
}

func (a *App) Close() error {
	err := a.Store.Close()
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config) (recordstore.Store, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.RunMigrations {
			version, err := db.Migrate("up", cfg.MigrationsDir, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
			slog.Info("migrations applied", "version", version)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect failed: %w", err)
		}
		return recordstore.NewPostgres(pool), pool, nil
	case config.BackendSQLite:
		store, err := recordstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil, nil
	case config.BackendMemory, "":
		slog.Warn("using in-memory store; data is lost on restart")
		return recordstore.NewMemory(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func employeeLookup(userService *users.Service) movement.EmployeeLookup {
	return func(ctx context.Context, employeeID string) (movement.Employee, error) {
		u, err := userService.Get(ctx, employeeID)
		if err != nil {
			return movement.Employee{}, err
		}
		return movement.Employee{Name: u.Name, Department: u.Department}, nil
	}
}
