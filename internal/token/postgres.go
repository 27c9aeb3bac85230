package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PGLedger is a Postgres-backed Ledger. Balance rows are locked FOR UPDATE
// inside a transaction and every movement leaves an audit row, so the
// ledger's history can be replayed independently of the policy engine.
//
// Schema:
//
//	CREATE TABLE token_accounts (
//	    denom      TEXT NOT NULL,
//	    account    TEXT NOT NULL,
//	    balance    NUMERIC NOT NULL DEFAULT 0,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (denom, account)
//	);
//	CREATE TABLE token_supply (
//	    denom TEXT PRIMARY KEY,
//	    total NUMERIC NOT NULL DEFAULT 0
//	);
//	CREATE TABLE token_moves (
//	    id         UUID PRIMARY KEY,
//	    denom      TEXT NOT NULL,
//	    account    TEXT NOT NULL,
//	    kind       TEXT NOT NULL, -- mint | burn | transfer_in | transfer_out
//	    amount     NUMERIC NOT NULL,
//	    balance    NUMERIC NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PGLedger struct {
	db    *sql.DB
	denom string
}

func NewPGLedger(db *sql.DB, denom string) *PGLedger {
	return &PGLedger{db: db, denom: denom}
}

func (l *PGLedger) Denom() string { return l.denom }

func (l *PGLedger) Mint(ctx context.Context, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := l.lockBalance(ctx, tx, to)
	if err != nil {
		return err
	}

	newBalance := balance.Add(amount)
	if err := l.writeBalance(ctx, tx, to, newBalance); err != nil {
		return err
	}
	if err := l.adjustSupply(ctx, tx, amount); err != nil {
		return err
	}
	if err := l.recordMove(ctx, tx, to, "mint", amount, newBalance); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (l *PGLedger) Burn(ctx context.Context, from string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := l.lockBalance(ctx, tx, from)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, burning %s", ErrInsufficientBalance, from, balance, l.denom, amount)
	}

	newBalance := balance.Sub(amount)
	if err := l.writeBalance(ctx, tx, from, newBalance); err != nil {
		return err
	}
	if err := l.adjustSupply(ctx, tx, amount.Neg()); err != nil {
		return err
	}
	if err := l.recordMove(ctx, tx, from, "burn", amount, newBalance); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (l *PGLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock rows in lexical order to avoid deadlocks between opposing
	// transfers.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]decimal.Decimal, 2)
	for _, account := range []string{first, second} {
		bal, err := l.lockBalance(ctx, tx, account)
		if err != nil {
			return err
		}
		balances[account] = bal
	}

	if balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, sending %s", ErrInsufficientBalance, from, balances[from], l.denom, amount)
	}

	newFrom := balances[from].Sub(amount)
	newTo := balances[to].Add(amount)
	if err := l.writeBalance(ctx, tx, from, newFrom); err != nil {
		return err
	}
	if err := l.writeBalance(ctx, tx, to, newTo); err != nil {
		return err
	}
	if err := l.recordMove(ctx, tx, from, "transfer_out", amount, newFrom); err != nil {
		return err
	}
	if err := l.recordMove(ctx, tx, to, "transfer_in", amount, newTo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (l *PGLedger) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM token_accounts WHERE denom = $1 AND account = $2`,
		l.denom, account,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (l *PGLedger) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT total FROM token_supply WHERE denom = $1`, l.denom,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read supply: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (l *PGLedger) lockBalance(ctx context.Context, tx *sql.Tx, account string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM token_accounts WHERE denom = $1 AND account = $2 FOR UPDATE`,
		l.denom, account,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock account: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (l *PGLedger) writeBalance(ctx context.Context, tx *sql.Tx, account string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO token_accounts (denom, account, balance, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (denom, account)
		 DO UPDATE SET balance = $3, updated_at = $4`,
		l.denom, account, balance.String(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func (l *PGLedger) adjustSupply(ctx context.Context, tx *sql.Tx, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO token_supply (denom, total) VALUES ($1, $2)
		 ON CONFLICT (denom) DO UPDATE SET total = token_supply.total + $2`,
		l.denom, delta.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to adjust supply: %w", err)
	}
	return nil
}

func (l *PGLedger) recordMove(ctx context.Context, tx *sql.Tx, account, kind string, amount, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO token_moves (id, denom, account, kind, amount, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), l.denom, account, kind, amount.String(), balance.String(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record move: %w", err)
	}
	return nil
}
