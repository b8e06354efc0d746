package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS bank`,
	`CREATE TABLE IF NOT EXISTS bank.users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(64) NOT NULL UNIQUE,
		phone_number VARCHAR(20) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'USER',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	// The plaintext number is never stored
	`CREATE TABLE IF NOT EXISTS bank.cards (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES bank.users(id) ON DELETE CASCADE,
		bin CHAR(6) NOT NULL,
		last_four CHAR(4) NOT NULL,
		encrypted_number TEXT NOT NULL,
		cvv CHAR(3) NOT NULL,
		created_date DATE NOT NULL,
		expiration_date DATE NOT NULL,
		status VARCHAR(16) NOT NULL CHECK (status IN ('ACTIVE', 'BLOCKED', 'PENDING_BLOCK')),
		balance NUMERIC(12, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS cards_user_id_status_idx ON bank.cards (user_id, status)`,
	`CREATE INDEX IF NOT EXISTS cards_status_idx ON bank.cards (status)`,
}

// Migrate creates the schema if it does not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Connect opens a pooled Postgres handle and checks it is reachable
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
