package repository

// Schema definitions for the Kestrel database. SQLite and PostgreSQL share
// one dialect; MySQL needs bounded key columns and has no
// CREATE INDEX IF NOT EXISTS, so its indexes are declared inline.

const schemaLines = `
CREATE TABLE IF NOT EXISTS transaction_lines (
    dataset TEXT NOT NULL,
    line_no BIGINT NOT NULL,
    invoice_id TEXT NOT NULL,
    stock_code TEXT NOT NULL,
    description TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price DOUBLE PRECISION NOT NULL,
    invoice_ts TIMESTAMP NOT NULL,
    customer_id TEXT NOT NULL,
    country TEXT NOT NULL,
    PRIMARY KEY (dataset, line_no)
)`

const schemaLinesIndex = `
CREATE INDEX IF NOT EXISTS idx_lines_customer ON transaction_lines(dataset, customer_id)`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id TEXT PRIMARY KEY,
    dataset TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    params TEXT NOT NULL,
    result TEXT NOT NULL,
    error TEXT NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const schemaRunsIndex = `
CREATE INDEX IF NOT EXISTS idx_runs_dataset ON analysis_runs(dataset, kind, created_at)`

const mysqlSchemaLines = `
CREATE TABLE IF NOT EXISTS transaction_lines (
    dataset VARCHAR(128) NOT NULL,
    line_no BIGINT NOT NULL,
    invoice_id VARCHAR(32) NOT NULL,
    stock_code VARCHAR(32) NOT NULL,
    description TEXT NOT NULL,
    quantity INT NOT NULL,
    unit_price DOUBLE NOT NULL,
    invoice_ts DATETIME NOT NULL,
    customer_id VARCHAR(32) NOT NULL,
    country VARCHAR(64) NOT NULL,
    PRIMARY KEY (dataset, line_no),
    INDEX idx_lines_customer (dataset, customer_id)
)`

const mysqlSchemaRuns = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id VARCHAR(64) PRIMARY KEY,
    dataset VARCHAR(128) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    params LONGTEXT NOT NULL,
    result LONGTEXT NOT NULL,
    error TEXT NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    INDEX idx_runs_dataset (dataset, kind, created_at)
)`

// Schemas returns the migration statements for driver, one statement each.
func Schemas(driver string) []string {
	if driver == "mysql" {
		return []string{mysqlSchemaLines, mysqlSchemaRuns}
	}
	return []string{
		schemaLines,
		schemaLinesIndex,
		schemaRuns,
		schemaRunsIndex,
	}
}
