// Package wallet manages the gem wallet and its transaction ledger in
// PostgreSQL. Debits run inside a serializable transaction so concurrent
// spends against the same wallet cannot overdraw it.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrInsufficientGems is returned when a debit exceeds the balance.
var ErrInsufficientGems = errors.New("wallet: insufficient gems")

// Store manages gem wallets.
type Store struct {
	db *sql.DB
}

// NewStore creates a wallet store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Balance returns the user's current balance. A user without a wallet row
// has balance zero.
func (s *Store) Balance(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT balance FROM gem_wallets WHERE user_id = $1`

	var balance int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet: balance %d: %w", userID, err)
	}
	return balance, nil
}

// Debit withdraws amount gems from the user's wallet and records a spend
// transaction, all inside one serializable transaction. A missing wallet is
// created with zero balance first, so the debit then fails with
// ErrInsufficientGems unless amount is zero. A zero amount records no
// ledger row.
func (s *Store) Debit(ctx context.Context, userID int64, amount int, note string) error {
	if amount == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("wallet: begin debit %d: %w", userID, err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO gem_wallets (user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, upsert, userID); err != nil {
		return fmt.Errorf("wallet: ensure wallet %d: %w", userID, err)
	}

	const lock = `SELECT balance FROM gem_wallets WHERE user_id = $1 FOR UPDATE`
	var balance int
	if err := tx.QueryRowContext(ctx, lock, userID).Scan(&balance); err != nil {
		return fmt.Errorf("wallet: load wallet %d: %w", userID, err)
	}

	if balance < amount {
		return ErrInsufficientGems
	}

	const debit = `
		UPDATE gem_wallets SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, debit, userID, amount); err != nil {
		return fmt.Errorf("wallet: debit %d: %w", userID, err)
	}

	const record = `
		INSERT INTO gem_transactions (user_id, transaction_type, amount, note)
		VALUES ($1, 'spend', $2, $3)`
	if _, err := tx.ExecContext(ctx, record, userID, amount, note); err != nil {
		return fmt.Errorf("wallet: record debit %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("wallet: commit debit %d: %w", userID, err)
	}
	return nil
}
