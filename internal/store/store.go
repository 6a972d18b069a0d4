// Package store opens RelayCore's persisted store and migrates its
// schema, grounded on the teacher's internal/database: a Config struct,
// a package-level Open/Migrate pair, and connection-pool tuning lifted
// directly from the teacher's Initialize.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/budgettracker"
	"github.com/relaycore/relaycore/internal/config"
)

// Open connects to the configured driver ("postgres" or "sqlite", §2
// Database config) and tunes the connection pool. sqlite is the
// embedded/dev/test driver (pure Go, no cgo); postgres is production.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
			},
		),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "relaycore.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("store: unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// Migrate runs gorm AutoMigrate across every persisted model in §3's data
// model: budget_definitions, budget_usage_records, budget_status_cache, and
// budget_alert_history.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&budgetregistry.Definition{},
		&budgettracker.UsageRecord{},
		&budgettracker.StatusCache{},
		&budgettracker.AlertHistory{},
	)
}

// Ping verifies the store is reachable, used by the CLI's startup check
// (§6 exit-code contract: "nonzero on fatal startup failure (e.g.
// database unreachable)").
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
