package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/db"
	"github.com/diewo77/go-pos/internal/events"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
	migrationsDir   = flag.String("migrations", "migrations", "Directory holding the SQL migration files")
)

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.App.Dev)
	defer func() { _ = logger.Sync() }()

	st, ping, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store setup failed", zap.Error(err))
	}
	if *migrateOnlyFlag || *seedOnlyFlag {
		logger.Info("one-shot command completed")
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	publisher := events.NewPublisher(events.ParseBrokers(cfg.Kafka.Brokers))
	app, err := NewApp(Deps{
		Config:    cfg,
		Store:     st,
		Publisher: publisher,
		Registry:  reg,
		Logger:    logger,
		Ping:      ping,
	})
	if err != nil {
		logger.Fatal("app setup failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(logger, app),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Bool("dev", cfg.App.Dev),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("kafka", cfg.Kafka.Brokers != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	// Graceful shutdown with timeout; in-flight checkouts finish before the cache stops.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	if err := app.Close(); err != nil {
		logger.Warn("closing app", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
}

// openStore builds the store for DB_DRIVER and applies migrations and seed
// data as requested. The returned ping reports database health.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func() error, error) {
	if cfg.Database.Driver == "memory" {
		mem, err := store.NewMemStore()
		if err != nil {
			return nil, nil, err
		}
		if cfg.App.Seed || *seedOnlyFlag {
			for _, p := range db.Catalogue() {
				p.Normalize()
				if err := mem.CreateProduct(context.Background(), &p); err != nil {
					return nil, nil, err
				}
			}
		}
		logger.Warn("using in-memory store; data is lost on exit")
		return mem, nil, nil
	}

	conn, err := db.Connect(cfg.Database, logger.Named("db"))
	if err != nil {
		return nil, nil, err
	}
	if err := migrate(conn, cfg, logger); err != nil {
		return nil, nil, err
	}
	if cfg.App.Seed || *seedOnlyFlag {
		if err := db.Seed(conn); err != nil {
			return nil, nil, err
		}
		logger.Info("seed data applied")
	}
	ping := func() error { return conn.Exec("SELECT 1").Error }
	return store.NewGormStore(conn), ping, nil
}

// migrate runs the SQL files when MIGRATIONS is set on postgres and falls
// back to AutoMigrate otherwise.
func migrate(conn *gorm.DB, cfg *config.Config, logger *zap.Logger) error {
	if cfg.App.Migrations && cfg.Database.Driver == "postgres" {
		if err := db.RunSQLMigrations(*migrationsDir, cfg.Database.DSN()); err != nil {
			return err
		}
		logger.Info("sql migrations applied", zap.String("dir", *migrationsDir))
		return nil
	}
	if err := db.Migrate(conn); err != nil {
		return err
	}
	logger.Info("schema migrated")
	return nil
}

// withLogging adds request logging middleware.
func withLogging(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
