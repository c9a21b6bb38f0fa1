// Package db opens the GORM connection for the configured backend and
// migrates the audit tables.
package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/consortium/internal/config"
)

// MemoryPath selects a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLiteDSN builds a go-sqlite3 DSN with foreign keys enforced and a busy
// timeout so concurrent writers queue instead of failing.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	if path == MemoryPath {
		return "file::memory:?" + q.Encode()
	}
	q.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + q.Encode()
}

// MySQLDSN builds a MySQL DSN (also valid for Dolt) from cfg.
func MySQLDSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection for cfg and returns it ready for use.
// SQLite connections are limited to a single open connection so writes are
// serialized through one handle.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch cfg.Driver {
	case config.DriverSQLite, "":
		if cfg.Path != MemoryPath {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("db: create directory for %s: %w", cfg.Path, err)
			}
		}
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(cfg.Path)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case config.DriverMySQL:
		db, err := gorm.Open(gormmysql.Open(MySQLDSN(cfg)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Open connects and migrates in one step.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
