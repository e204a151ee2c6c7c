package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/ride-lobby/internal/config"
	"github.com/example/ride-lobby/internal/finalize"
	"github.com/example/ride-lobby/internal/geocode"
	"github.com/example/ride-lobby/internal/hub"
	httpapi "github.com/example/ride-lobby/internal/http"
	"github.com/example/ride-lobby/internal/identity"
	"github.com/example/ride-lobby/internal/ingest"
	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/logging"
	"github.com/example/ride-lobby/internal/payments"
	"github.com/example/ride-lobby/internal/rating"
	"github.com/example/ride-lobby/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, "ride-lobby")

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := applyMigrations(cfg.PGDSN); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	verifier := identity.NewJWTVerifier(cfg.JWTSecret)

	var resolver geocode.Resolver
	if cfg.GeocodeEndpoint != "" {
		resolver = geocode.NewHTTPResolver(cfg.GeocodeEndpoint)
		if cfg.RedisAddr != "" {
			resolver = geocode.NewCachedResolver(resolver, cfg.RedisAddr, cfg.RedisPassword, cfg.GeocodeCacheTTL)
		}
	}
	var router geocode.Router
	if cfg.RouteEndpoint != "" {
		router = geocode.NewOSRMRouter(cfg.RouteEndpoint)
	}

	var sink hub.LocationSink
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		sink = kp
	}

	h := hub.New(lobby.NewLedger(store), store, verifier, sink, logger, cfg.HubQueueSize)
	svc := lobby.NewService(store, h, logger)
	engine := finalize.NewEngine(store, h, logger)
	ratings := rating.NewAggregator(store, logger)

	srv := httpapi.NewServer(cfg, logger, httpapi.Deps{
		Store:    store,
		Service:  svc,
		Engine:   engine,
		Ratings:  ratings,
		Hub:      h,
		Verifier: verifier,
		Resolver: resolver,
		Router:   router,
		Stripe:   payments.NewStripeClient(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-lobby listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	h.Shutdown()
}

func applyMigrations(dsn string) error {
	db, err := storage.OpenMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_core.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
