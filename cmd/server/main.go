package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/savannacommerce/pool-engine/internal/autoenroll"
	"github.com/savannacommerce/pool-engine/internal/config"
	"github.com/savannacommerce/pool-engine/internal/engine"
	"github.com/savannacommerce/pool-engine/internal/metrics"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/notify"
	"github.com/savannacommerce/pool-engine/internal/pool"
	"github.com/savannacommerce/pool-engine/internal/settlement"
	"github.com/savannacommerce/pool-engine/internal/store"
)

// eventFanout relays pool lifecycle events to every interested subscriber:
// the WebSocket hub, the webhook notifier, and the auto-enrollment matcher.
type eventFanout struct {
	hub      *pool.WSHub
	notifier *notify.Notifier
	matcher  *autoenroll.Matcher
}

func (f *eventFanout) PublishPoolEvent(event model.PoolEvent, p model.Pool, participantID string) {
	f.hub.PublishPoolEvent(event, p, participantID)
	f.notifier.PublishPoolEvent(event, p, participantID)
	if event == model.EventPoolOpened {
		f.matcher.PoolOpened(p)
	}
}

func main() {
	configPath := flag.String("config", "config.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		dbpool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, dbpool.Close)
		st = store.NewPostgresStore(dbpool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := pool.NewWSHub()
	go wsHub.Run()

	// --- Webhook notifier ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine, settlement, auto-enrollment ---
	fanout := &eventFanout{hub: wsHub, notifier: notifier}
	mgr := engine.NewManager(st, fanout, logger)

	var orders settlement.OrderCreator
	if cfg.Settlement.OrderServiceURL != "" {
		orders = settlement.NewHTTPOrderClient(cfg.Settlement.OrderServiceURL)
	} else {
		slog.Warn("settlement.order_service_url not set, using stub order creator")
		orders = &settlement.StubOrderCreator{Logger: logger}
	}
	coord := settlement.NewCoordinator(st, orders, mgr, cfg.Settlement.MaxRetries, cfg.Settlement.BaseBackoff.Duration, logger)
	mgr.SetSettler(coord)

	matcher := autoenroll.NewMatcher(st, mgr, cfg.AutoEnroll.SweepInterval.Duration, logger)
	fanout.matcher = matcher

	// Re-arm deadlines and resume in-flight settlements after a restart.
	if err := mgr.Recover(context.Background()); err != nil {
		slog.Error("recovery failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	svc := pool.NewService(mgr, st, logger)

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
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool updates.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Run everything under one group ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.RunTicker(ctx, cfg.Engine.TickInterval.Duration)
	})
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		return matcher.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("pool-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down pool-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	fmt.Println("pool-engine stopped")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
