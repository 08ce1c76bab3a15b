// Package repository implements the persistence ports on PostgreSQL via
// pgx. Addresses and hashes are stored as bytea, token amounts as
// numeric(78,0), and structured policy/proposal content as jsonb.
package repository

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Connect opens a pgx pool against the configured database and ensures
// the schema exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}

func bytesToAddress(b []byte) common.Address {
	return common.BytesToAddress(b)
}

func bytesToHash(b []byte) common.Hash {
	return common.BytesToHash(b)
}

// numericString renders a big.Int for a numeric column; nil maps to NULL.
func numericString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// parseNumeric parses a numeric column rendered as text.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed numeric value %q", s)
	}
	return v, nil
}
