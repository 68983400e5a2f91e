// Package testutil provides an in-memory SQLite database carrying the service schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE organization_members (
		org_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (org_id, user_id)
	)`,
	`CREATE TABLE gateway_configs (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		sandbox_credentials TEXT NOT NULL DEFAULT '{}',
		production_credentials TEXT NOT NULL DEFAULT '{}',
		is_sandbox BOOLEAN NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT 0,
		last_verified_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (org_id, provider)
	)`,
	`CREATE TABLE quotes (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		number TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		total NUMERIC NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (org_id, number)
	)`,
	`CREATE TABLE charges (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		environment TEXT NOT NULL,
		provider_payment_id TEXT,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL,
		external_reference TEXT NOT NULL UNIQUE,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_status TEXT,
		payment_link TEXT,
		qr_code TEXT,
		qr_code_image TEXT,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		transaction_id INTEGER,
		status_changed_at DATETIME,
		last_polled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_charges_pending_reference
		ON charges (org_id, reference_type, reference_id) WHERE status = 'pending'`,
	`CREATE TABLE accounting_transactions (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		charge_id INTEGER NOT NULL UNIQUE,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		settled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

// NewDB opens a fresh shared-cache in-memory database with the schema applied.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the shared in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, conn *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := conn.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

// InsertQuote seeds an unpaid quote.
func InsertQuote(t testing.TB, conn *gorm.DB, orgID, id int64, number string) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO quotes (id, org_id, number, customer_name, total, payment_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'unpaid', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, orgID, number, "Ana", "100.00",
	).Error; err != nil {
		t.Fatalf("insert quote: %v", err)
	}
}
