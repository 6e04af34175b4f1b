// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)

	RuleRepository

	// Detection results
	SaveDetection(ctx context.Context, result *DetectionResult) error
	GetDetection(ctx context.Context, txID string) (*DetectionResult, error)
	ListDetections(ctx context.Context) ([]*DetectionResult, error)

	// Fraud reports
	SaveReport(ctx context.Context, report *FraudReport) error
	ListReports(ctx context.Context) ([]*FraudReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleRepository persists rule definitions for the rule store.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]*Rule, error)
	SaveRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, ruleID string) error
	ReplaceRules(ctx context.Context, rules []*Rule) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific. PostgresDSN, when set, overrides the discrete fields.
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
