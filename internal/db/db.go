// Package db opens the gorm connection and applies the schema.
package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnsupportedDriver is returned by Connect for an unknown DB_DRIVER.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Retry settings for Connect; postgres may still be starting.
var (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// Tables lists the models managed by Migrate.
func Tables() []any {
	return []any{&models.Product{}, &models.SaleTransaction{}, &models.SaleLine{}, &models.RestockRequest{}}
}

// Connect opens the configured database, retrying while it is unreachable.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(NormalizeDSN(cfg.DSN()))
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel), TranslateError: true}

	var db *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(dialector, gcfg)
		if err == nil {
			break
		}
		log.Warn("retrying database connection", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(connectDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under load.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		log.Info("database connected", zap.String("driver", "sqlite"), zap.String("path", cfg.SQLitePath))
	} else {
		log.Info("database connected", zap.String("driver", "postgres"), zap.String("dsn", MaskDSN(cfg.DSN())))
	}
	return db, nil
}

// Migrate applies the schema with AutoMigrate and checks the tables exist.
func Migrate(db *gorm.DB) error {
	for _, m := range Tables() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	for _, table := range []string{"products", "sale_transactions", "sale_lines", "restock_requests"} {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// RunSQLMigrations executes the SQL files in dir using golang-migrate.
// Only postgres is supported; dsn may be in either form.
func RunSQLMigrations(dir, dsn string) error {
	m, err := migrate.New("file://"+dir, ToURLDSN(NormalizeDSN(dsn)))
	if err != nil {
		return fmt.Errorf("sql migrations: %w", err)
	}
	defer m.Close()
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sql migrations: %w", err)
	}
	return nil
}
