package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"evalportal/internal/domain/admin"
	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/followup"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/reports"
	"evalportal/internal/domain/session"
	"evalportal/internal/domain/table"
	"evalportal/internal/domain/wizard"
	"evalportal/internal/platform/cache"
	"evalportal/internal/platform/config"
	"evalportal/internal/platform/crypto"
	"evalportal/internal/platform/db"
	"evalportal/internal/platform/jobs"
	"evalportal/internal/platform/metrics"
	adminhandler "evalportal/internal/transport/http/handlers/admin"
	audithandler "evalportal/internal/transport/http/handlers/audit"
	cataloghandler "evalportal/internal/transport/http/handlers/catalog"
	followuphandler "evalportal/internal/transport/http/handlers/followup"
	reportshandler "evalportal/internal/transport/http/handlers/reports"
	sessionhandler "evalportal/internal/transport/http/handlers/session"
	tableshandler "evalportal/internal/transport/http/handlers/tables"
	wizardhandler "evalportal/internal/transport/http/handlers/wizard"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/upstream"
)

const (
	jobWorkers            = 2
	jobTimeout            = 10 * time.Second
	directoryTTL          = 5 * time.Minute
	idempotencyPurgeEvery = time.Hour
	shutdownTimeout       = 15 * time.Second
)

type App struct {
	Config config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Jobs   *jobs.Service
	Router http.Handler
}

// New connects the optional backing stores and builds the router. DATABASE_URL
// and REDIS_ADDR are optional: without them audit persistence and idempotency
// are off and wizard state lives in memory.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		app.DB = pool
	} else {
		slog.Warn("DATABASE_URL not set; audit persistence and idempotency disabled")
	}

	rdb, err := cache.Connect(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Redis = rdb

	policy, err := guard.LoadPolicy(cfg.AccessPolicyFile)
	if err != nil {
		app.Close()
		return nil, err
	}

	sealer, err := crypto.New(cfg.SessionSealKey)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("session seal key: %w", err)
	}
	secret := cfg.SessionSecret
	if secret == "" {
		slog.Warn("SESSION_SECRET not set; sessions will not survive a restart")
		secret = randomSecret()
	}

	app.Jobs = jobs.New(0, jobTimeout)
	app.Jobs.Start(ctx, jobWorkers)

	collector := metrics.New()
	client := upstream.New(cfg.APIBaseURL, cfg.APISessionCookie, cfg.APITimeout, upstream.WithObserver(collector))

	var auditStore *audit.Service
	var idempotency *middleware.IdempotencyStore
	if app.DB != nil {
		auditStore = audit.New(app.DB)
		idempotency = middleware.NewIdempotencyStore(app.DB, cfg.IdempotencyTTL)
		app.Jobs.Every(ctx, idempotencyPurgeEvery, "idempotency:purge", func(ctx context.Context) error {
			n, err := idempotency.Purge(ctx)
			if err == nil && n > 0 {
				slog.Info("expired idempotency keys purged", "count", n)
			}
			return err
		})
	}
	auditLog := audit.NewLogger(auditStore, app.Jobs)

	var wizardStore wizard.Store
	var limits middleware.Counter
	if app.Redis != nil {
		wizardStore = wizard.NewRedisStore(app.Redis, cfg.WizardTTL)
		limits = middleware.NewRedisCounter(app.Redis, "evalportal:rl:")
	} else {
		wizardStore = wizard.NewMemoryStore(cfg.WizardTTL)
		limits = middleware.NewMemoryCounter()
	}

	tokens := session.NewTokens(secret, sealer, cfg.SessionTTL)
	directory := session.NewDirectory(client, directoryTTL)
	auth := middleware.NewAuthenticator(tokens, session.NewVerifier(client), middleware.SessionConfig{
		Cookie:    cfg.SessionCookie,
		APICookie: cfg.APISessionCookie,
		Secure:    cfg.IsProduction(),
	})
	adminService := admin.NewService(client)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders("/api/", cfg.IsProduction()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", app.handleReady)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute, limits))

		sessionHandler := sessionhandler.NewHandler(client, auth, directory, policy, auditLog)
		r.With(middleware.LoginRateLimit(cfg.RateLimitPerMinute, time.Minute, limits)).
			Post("/session/login", sessionHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(middleware.MutationRateLimit(cfg.RateLimitPerMinute, time.Minute, limits))

			sessionHandler.RegisterRoutes(r)
			wizardhandler.NewHandler(wizard.NewService(client, wizardStore), directory, auditLog).RegisterRoutes(r)
			followuphandler.NewHandler(followup.NewService(client), directory, auditLog).RegisterRoutes(r)
			tableshandler.NewHandler(table.DefaultRegistry(client), auditLog, collector).RegisterRoutes(r)
			reportshandler.NewHandler(reports.NewService(client), auditLog).RegisterRoutes(r)
			cataloghandler.NewHandler(adminService).RegisterRoutes(r)
			adminhandler.NewHandler(adminService, auditLog, idempotency, adminhandler.BatchConfig{
				ChunkSize:   cfg.BatchChunkSize,
				Concurrency: cfg.BatchConcurrency,
			}).RegisterRoutes(r)
			audithandler.NewHandler(auditStore).RegisterRoutes(r)
		})
	})

	router.Mount("/", spaHandler{staticPath: cfg.FrontendDir, indexPath: "index.html"})

	app.Router = router
	return app, nil
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if a.DB != nil {
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("evaluation portal listening", "addr", a.Config.Addr, "api", a.Config.APIBaseURL)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.Jobs != nil {
		a.Jobs.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func randomSecret() string {
	return uuid.NewString() + uuid.NewString()
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.staticPath, filepath.Clean("/"+r.URL.Path))
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
		return
	}

	if err == nil || os.IsNotExist(err) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}

	http.NotFound(w, r)
}
