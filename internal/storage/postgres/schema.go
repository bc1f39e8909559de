package postgres

import (
	"context"
	"fmt"
)

// Amounts are unsigned 64-bit; NUMERIC(20,0) holds the full range.
const schema = `
CREATE TABLE IF NOT EXISTS amm_pools (
	id           TEXT PRIMARY KEY,
	asset_a      TEXT NOT NULL,
	asset_b      TEXT NOT NULL,
	share_mint   TEXT NOT NULL UNIQUE,
	reserve_a    TEXT NOT NULL,
	reserve_b    TEXT NOT NULL,
	authority    TEXT NOT NULL,
	total_shares NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (total_shares >= 0),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS amm_accounts (
	address    TEXT PRIMARY KEY,
	asset      TEXT NOT NULL,
	owner      TEXT NOT NULL,
	custody    BOOLEAN NOT NULL DEFAULT false,
	balance    NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS amm_mints (
	address    TEXT PRIMARY KEY,
	authority  TEXT NOT NULL,
	supply     NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (supply >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS amm_operations (
	id           BIGSERIAL PRIMARY KEY,
	op_id        UUID NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	pool         TEXT NOT NULL,
	actor        TEXT,
	direction    TEXT,
	amount_a     NUMERIC(20,0),
	amount_b     NUMERIC(20,0),
	amount_in    NUMERIC(20,0),
	amount_out   NUMERIC(20,0),
	shares       NUMERIC(20,0),
	reserve_a    NUMERIC(20,0) NOT NULL,
	reserve_b    NUMERIC(20,0) NOT NULL,
	total_shares NUMERIC(20,0) NOT NULL,
	recorded_at  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS amm_operations_pool_idx ON amm_operations (pool, id);
`

// EnsureSchema creates the ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
