package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// openMySQL opens a MySQL database connection. Timestamps are parsed into
// time.Time in UTC.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("%w: mysql dsn is required", ErrInvalidInput)
	}

	mc, err := mysql.ParseDSN(cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	return db, nil
}
