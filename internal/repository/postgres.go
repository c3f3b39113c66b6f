package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Idle connections are released between ledger refreshes.
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a keyword/value connection string. Values are quoted
// so passwords with spaces or quotes survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}

	parts := []string{
		"host=" + pqQuote(host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + pqQuote(dbname),
		"sslmode=" + pqQuote(getSSLMode(cfg.PostgresSSLMode)),
		"application_name=kestrel",
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+pqQuote(cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+pqQuote(cfg.PostgresPassword))
	}
	return strings.Join(parts, " ")
}

func pqQuote(v string) string {
	v = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + v + "'"
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
