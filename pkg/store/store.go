// Package store implements the relational repositories behind the upload
// pipeline: bot credentials, the job queue, the indexed-files table, the L2
// URL cache and the sweep audit log.
//
// Every mutation of a queue row is CAS-style: the WHERE clause names the
// expected prior states, and zero affected rows means another actor already
// advanced the row (ErrLostRace), not a failure.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Sentinel errors returned by the repositories.
var (
	// ErrLostRace means a CAS-guarded update matched zero rows: another
	// worker or the sweeper already advanced the row. Callers must stop
	// processing the job, not retry.
	ErrLostRace = errors.New("lost race: row already advanced")

	// ErrBotNotFound means no bots row matches the given id or token.
	ErrBotNotFound = errors.New("bot not found")

	// ErrFileNotFound means no files row exists for the uuid.
	ErrFileNotFound = errors.New("file not found")

	// ErrURLCacheMiss means no url_caches row exists for the uuid.
	ErrURLCacheMiss = errors.New("url cache miss")
)

// DatabaseType defines the supported database backends.
type DatabaseType string

const (
	// DatabaseTypeMySQL is the production backend (MySQL/MariaDB).
	DatabaseTypeMySQL DatabaseType = "mysql"

	// DatabaseTypeSQLite is a single-file backend used by tests.
	DatabaseTypeSQLite DatabaseType = "sqlite"
)

// MySQLConfig contains MySQL connection settings.
type MySQLConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the MySQL connection string.
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:".
	Path string `mapstructure:"path" yaml:"path"`
}

// Config contains database configuration.
type Config struct {
	Type   DatabaseType `mapstructure:"type" yaml:"type"`
	MySQL  MySQLConfig  `mapstructure:"mysql" yaml:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeMySQL
	}
	if c.Type == DatabaseTypeMySQL {
		if c.MySQL.Host == "" {
			c.MySQL.Host = "db"
		}
		if c.MySQL.Port == 0 {
			c.MySQL.Port = 3306
		}
		if c.MySQL.MaxOpenConns == 0 {
			c.MySQL.MaxOpenConns = 20
		}
		if c.MySQL.MaxIdleConns == 0 {
			c.MySQL.MaxIdleConns = 10
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeMySQL:
		if c.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.MySQL.Database == "" {
			return fmt.Errorf("mysql database is required")
		}
		if c.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// Store implements the repositories using GORM. It supports MySQL in
// production and SQLite in tests via the same codebase.
type Store struct {
	db     *gorm.DB
	config *Config
}

// New creates a store from the configuration and migrates the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeMySQL:
		dialector = mysql.Open(config.MySQL.DSN())
	case DatabaseTypeSQLite:
		dialector = sqlite.Open(config.SQLite.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.Type == DatabaseTypeMySQL {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.MySQL.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MySQL.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.AutoMigrate(&Bot{}, &QueueItem{}, &IndexedFile{}, &URLCacheEntry{}, &GCRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// supportsSkipLocked reports whether the backend honors
// FOR UPDATE SKIP LOCKED. SQLite serializes writers instead, which gives the
// same claim exclusivity for single-process tests.
func (s *Store) supportsSkipLocked() bool {
	return s.config.Type == DatabaseTypeMySQL
}
