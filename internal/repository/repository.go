// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, PostgreSQL and MySQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "mysql":
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && !(cfg.Driver == "sqlite" && cfg.SQLitePath == sqliteMemory) {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range Schemas(r.driver) {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveLines appends lines to a dataset in one transaction and returns the
// number stored.
func (r *SQLRepository) SaveLines(ctx context.Context, dataset string, lines []domain.TransactionLine) (int, error) {
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	if len(lines) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		r.rebind(`SELECT COALESCE(MAX(line_no), -1) + 1 FROM transaction_lines WHERE dataset = ?`),
		dataset,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read next line number: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO transaction_lines (
			dataset, line_no, invoice_id, stock_code, description,
			quantity, unit_price, invoice_ts, customer_id, country
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, l := range lines {
		if _, err := stmt.ExecContext(ctx,
			dataset, next+int64(i), l.InvoiceID, l.StockCode, l.Description,
			l.Quantity, l.UnitPrice, l.InvoiceTime.UTC(), l.CustomerID, l.Country,
		); err != nil {
			return 0, fmt.Errorf("failed to insert line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// ListLines returns every line of a dataset in insertion order.
func (r *SQLRepository) ListLines(ctx context.Context, dataset string) ([]domain.TransactionLine, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `
		SELECT invoice_id, stock_code, description, quantity, unit_price,
			   invoice_ts, customer_id, country
		FROM transaction_lines
		WHERE dataset = ?
		ORDER BY line_no
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.TransactionLine
	for rows.Next() {
		var l domain.TransactionLine
		if err := rows.Scan(
			&l.InvoiceID, &l.StockCode, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.InvoiceTime, &l.CustomerID, &l.Country,
		); err != nil {
			return nil, err
		}
		l.InvoiceTime = l.InvoiceTime.UTC()
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// CountLines returns the number of lines stored for a dataset.
func (r *SQLRepository) CountLines(ctx context.Context, dataset string) (int, error) {
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	var n int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM transaction_lines WHERE dataset = ?`), dataset,
	).Scan(&n)
	return n, err
}

// DeleteLines removes a dataset's lines.
func (r *SQLRepository) DeleteLines(ctx context.Context, dataset string) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM transaction_lines WHERE dataset = ?`), dataset)
	return err
}

// SaveAnalysisRun inserts a run or updates its status, result, error and
// duration. CreatedAt is kept from the first save.
func (r *SQLRepository) SaveAnalysisRun(ctx context.Context, run *domain.AnalysisRun) error {
	if run == nil || run.ID == "" || run.Dataset == "" {
		return fmt.Errorf("%w: run id and dataset are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO analysis_runs (
			id, dataset, kind, status, params, result, error, duration_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + r.upsertRunClause()

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Dataset, string(run.Kind), run.Status,
		string(run.Params), string(run.Result), run.Error, run.DurationMs,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

func (r *SQLRepository) upsertRunClause() string {
	if r.driver == "mysql" {
		return `ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			result = VALUES(result),
			error = VALUES(error),
			duration_ms = VALUES(duration_ms),
			updated_at = VALUES(updated_at)`
	}
	return `ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`
}

const runColumns = `id, dataset, kind, status, params, result, error, duration_ms, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	var kind, params, result string
	if err := s.Scan(
		&run.ID, &run.Dataset, &kind, &run.Status, &params, &result,
		&run.Error, &run.DurationMs, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Kind = domain.AnalysisKind(kind)
	if params != "" {
		run.Params = []byte(params)
	}
	if result != "" {
		run.Result = []byte(result)
	}
	return &run, nil
}

// GetAnalysisRun retrieves a run by ID within a dataset.
func (r *SQLRepository) GetAnalysisRun(ctx context.Context, dataset string, runID string) (*domain.AnalysisRun, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE dataset = ? AND id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), dataset, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListAnalysisRuns returns a dataset's most recent runs, optionally of
// one kind.
func (r *SQLRepository) ListAnalysisRuns(ctx context.Context, dataset string, kind domain.AnalysisKind, limit int) ([]*domain.AnalysisRun, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE dataset = ?`
	args := []any{dataset}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
