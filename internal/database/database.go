package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// InitDB initializes the database connection and creates tables
func InitDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN so read-then-update
	// sequences inside a transaction cannot interleave.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{db}

	// Create tables
	if err := wrapper.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	// Auto-migrations
	wrapper.checkAndMigrateOrdersTable()

	return wrapper, nil
}

// BeginTx starts a transaction holding the database write lock
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// sqlCommand is satisfied by both *sql.DB and *sql.Tx
type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (db *DB) cmd(tx *sql.Tx) sqlCommand {
	if tx != nil {
		return tx
	}
	return db.DB
}

func (db *DB) checkAndMigrateOrdersTable() {
	var count int

	// Column: payment_code
	db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('orders') WHERE name='payment_code'").Scan(&count)
	if count == 0 {
		fmt.Println("[DB] Migrating: adding payment_code")
		db.Exec("ALTER TABLE orders ADD COLUMN payment_code TEXT")
	}

	// Column: download_count
	db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('orders') WHERE name='download_count'").Scan(&count)
	if count == 0 {
		fmt.Println("[DB] Migrating: adding download_count")
		db.Exec("ALTER TABLE orders ADD COLUMN download_count INTEGER DEFAULT 0")
	}
}

func (db *DB) createTables() error {
	tables := []string{
		// Products table (owned by the catalog, read-only here)
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			price INTEGER NOT NULL DEFAULT 0 CHECK (price >= 0),
			category_id INTEGER,
			is_active BOOLEAN DEFAULT 1,
			file_url TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Orders table: one row per product, grouped by order_ref
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_ref TEXT NOT NULL,
			user_id INTEGER,
			customer_name TEXT,
			customer_email TEXT,
			customer_phone TEXT,
			product_id INTEGER NOT NULL,
			product_name TEXT,
			quantity INTEGER NOT NULL DEFAULT 1,
			unit_price INTEGER NOT NULL DEFAULT 0,
			total_price INTEGER NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'PENDING',
			gateway_name TEXT,
			payment_method TEXT,
			transaction_id TEXT,
			payment_code TEXT,
			payment_type TEXT,
			payment_deadline DATETIME,
			paid_at DATETIME,
			promo_code TEXT,
			discount_amount INTEGER NOT NULL DEFAULT 0,
			original_total INTEGER NOT NULL DEFAULT 0,
			download_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (product_id) REFERENCES products(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_ref ON orders(order_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(payment_status)`,

		// Payment gateway configuration, written by the admin surface
		`CREATE TABLE IF NOT EXISTS payment_gateway_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gateway_name TEXT UNIQUE NOT NULL,
			display_name TEXT,
			merchant_code TEXT,
			api_key TEXT,
			secret_key TEXT,
			mode TEXT NOT NULL DEFAULT 'gateway',
			is_production BOOLEAN DEFAULT 0,
			is_active BOOLEAN DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Manual transfer destinations
		`CREATE TABLE IF NOT EXISTS manual_payment_methods (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_name TEXT NOT NULL,
			type TEXT DEFAULT 'bank',
			account_name TEXT,
			account_number TEXT,
			instructions TEXT,
			is_active BOOLEAN DEFAULT 1,
			sort_order INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Promos table
		`CREATE TABLE IF NOT EXISTS promos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT UNIQUE NOT NULL COLLATE NOCASE,
			description TEXT,
			discount_type TEXT NOT NULL CHECK (discount_type IN ('percentage', 'fixed')),
			discount_value TEXT NOT NULL CHECK (CAST(discount_value AS REAL) >= 0),
			max_discount_cap INTEGER CHECK (max_discount_cap IS NULL OR max_discount_cap >= 0),
			min_order_amount INTEGER CHECK (min_order_amount IS NULL OR min_order_amount >= 0),
			start_date DATETIME,
			end_date DATETIME,
			global_usage_limit INTEGER,
			per_user_usage_limit INTEGER,
			scope TEXT NOT NULL DEFAULT 'all' CHECK (scope IN ('all', 'category', 'product')),
			scope_ref_id INTEGER,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (scope = 'all' OR scope_ref_id IS NOT NULL)
		)`,

		// Promo usage ledger (append-only)
		`CREATE TABLE IF NOT EXISTS promo_usages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			promo_id INTEGER NOT NULL,
			user_id INTEGER,
			guest_email TEXT,
			order_ref TEXT NOT NULL,
			discount_amount INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (promo_id) REFERENCES promos(id),
			UNIQUE(promo_id, order_ref)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_promo_usages_promo ON promo_usages(promo_id)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
