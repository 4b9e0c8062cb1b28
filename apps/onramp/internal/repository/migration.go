package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the order ledger and its event outbox. Anything beyond
// CREATE IF NOT EXISTS should move to a migration tool such as go-migrate.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id UUID PRIMARY KEY,
			reference VARCHAR(64) NOT NULL UNIQUE,
			provider VARCHAR(50) NOT NULL,
			amount DECIMAL(38,18) NOT NULL,
			currency VARCHAR(10) NOT NULL,
			token VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			checkout_url TEXT NOT NULL,
			wallet_address VARCHAR(44),
			passkey_data JSONB NOT NULL,
			line_items JSONB,
			tx_signature VARCHAR(88),
			credited_amount DECIMAL(38,18),
			disbursement_signature VARCHAR(88),
			disbursement_attempted_at TIMESTAMPTZ,
			claimed_at TIMESTAMPTZ,
			claim_id UUID,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT orders_status_check CHECK (status IN ('pending', 'processing', 'success', 'failed', 'cancelled')),
			CONSTRAINT orders_credited_iff_success CHECK ((status = 'success') = (credited_amount IS NOT NULL))
		)`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS claim_id UUID`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_expires_at ON orders (status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_wallet_status ON orders (wallet_address, status)`,
		`CREATE TABLE IF NOT EXISTS order_event_outbox (
			event_id BIGSERIAL PRIMARY KEY,
			reference VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			wallet_address VARCHAR(44) NOT NULL DEFAULT '',
			event_blob JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_event_outbox_status ON order_event_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
