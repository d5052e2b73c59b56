package database

import (
	"fmt"
	"log/slog"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.Account{},
		&model.AccountTransaction{},
		&model.Reservation{},
		&model.PaymentRecord{},
		&model.CoinPackage{},
		&model.ServicePrice{},
		&model.OutboxMessage{},
	}
}

// GormConfig is shared by the MySQL connection and the in-memory test store. Timestamps
// are always UTC so that expiry comparisons do not depend on the host zone.
func GormConfig(log *slog.Logger, logSQL bool) *gorm.Config {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	if log == nil {
		level = logger.Silent
		log = slog.Default()
	}
	return &gorm.Config{
		Logger: logger.New(slog.NewLogLogger(log.Handler(), slog.LevelWarn), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

// OpenMySQL connects to MySQL, sizes the pool and migrates the schema.
func OpenMySQL(cfg *config.MySQLConfig, log *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), GormConfig(log, cfg.LogSQL))
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("mysql connected", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
