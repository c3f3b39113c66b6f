// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods are scoped to a dataset.
type Repository interface {
	// Ledger operations
	SaveLines(ctx context.Context, dataset string, lines []TransactionLine) (int, error)
	ListLines(ctx context.Context, dataset string) ([]TransactionLine, error)
	CountLines(ctx context.Context, dataset string) (int, error)
	DeleteLines(ctx context.Context, dataset string) error

	// Analysis runs
	SaveAnalysisRun(ctx context.Context, run *AnalysisRun) error
	GetAnalysisRun(ctx context.Context, dataset string, runID string) (*AnalysisRun, error)
	ListAnalysisRuns(ctx context.Context, dataset string, kind AnalysisKind, limit int) ([]*AnalysisRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres mysql"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// MySQL specific
	MySQLDSN string `koanf:"mysql_dsn"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
