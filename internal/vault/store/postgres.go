package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/vault/models"
)

// PostgresLedger persists one vault's state. Amounts are NUMERIC(78,0) and
// cross the driver as decimal text so uint256 values keep full precision.
type PostgresLedger struct {
	db    *sql.DB
	vault string
}

func NewPostgres(db *sql.DB, vault common.Address) *PostgresLedger {
	return &PostgresLedger{db: db, vault: addrKey(vault)}
}

func (l *PostgresLedger) Credit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(MaxBalance) > 0 {
		return nil, ErrBalanceOverflow
	}
	// no row comes back when the guarded update is skipped
	query := `
		INSERT INTO vault_balances (vault, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (vault) DO UPDATE
		SET balance = vault_balances.balance + EXCLUDED.balance, updated_at = NOW()
		WHERE vault_balances.balance + EXCLUDED.balance <= $3::numeric
		RETURNING balance::text
	`
	var raw string
	err := l.db.QueryRowContext(ctx, query, l.vault, amount.String(), MaxBalance.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceOverflow
	}
	if err != nil {
		return nil, fmt.Errorf("credit vault: %w", err)
	}
	return parseNumeric(raw)
}

func (l *PostgresLedger) Balance(ctx context.Context) (*big.Int, error) {
	var raw string
	err := l.db.QueryRowContext(ctx, `SELECT balance::text FROM vault_balances WHERE vault = $1`, l.vault).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault balance: %w", err)
	}
	return parseNumeric(raw)
}

// Consume runs in one transaction. The balance row is locked FOR UPDATE, so
// consumes on the same vault serialize; the consumed insert is the
// compare-and-set on the authorization id.
func (l *PostgresLedger) Consume(ctx context.Context, c models.Consumption) (*big.Int, error) {
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	remaining, err := l.consumeWithTx(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}
	return remaining, nil
}

func (l *PostgresLedger) consumeWithTx(ctx context.Context, tx *sql.Tx, c models.Consumption) (*big.Int, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vault_balances (vault, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (vault) DO NOTHING
	`, l.vault); err != nil {
		return nil, fmt.Errorf("ensure vault row: %w", err)
	}

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT balance::text FROM vault_balances WHERE vault = $1 FOR UPDATE`, l.vault,
	).Scan(&raw); err != nil {
		return nil, fmt.Errorf("lock vault balance: %w", err)
	}
	balance, err := parseNumeric(raw)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO consumed_authorizations (vault, authorization_id, recipient, amount, consumed_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (vault, authorization_id) DO NOTHING
	`, l.vault, c.AuthorizationID.Hex(), addrKey(c.Recipient), c.Amount.String(), c.ConsumedAt)
	if err != nil {
		return nil, fmt.Errorf("mark authorization consumed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark authorization consumed rows: %w", err)
	}
	if rows == 0 {
		return nil, ErrAlreadyConsumed
	}

	if c.Amount.Cmp(balance) > 0 {
		return nil, ErrInsufficientFunds
	}

	if err := tx.QueryRowContext(ctx, `
		UPDATE vault_balances
		SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE vault = $1
		RETURNING balance::text
	`, l.vault, c.Amount.String()).Scan(&raw); err != nil {
		return nil, fmt.Errorf("debit vault: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vault_payouts (vault, recipient, total)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (vault, recipient) DO UPDATE
		SET total = vault_payouts.total + EXCLUDED.total
	`, l.vault, addrKey(c.Recipient), c.Amount.String()); err != nil {
		return nil, fmt.Errorf("record payout: %w", err)
	}

	return parseNumeric(raw)
}

func (l *PostgresLedger) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	var used bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consumed_authorizations WHERE vault = $1 AND authorization_id = $2
		)
	`, l.vault, id.Hex()).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check authorization: %w", err)
	}
	return used, nil
}

func (l *PostgresLedger) PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT total::text FROM vault_payouts WHERE vault = $1 AND recipient = $2`,
		l.vault, addrKey(recipient),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payouts: %w", err)
	}
	return parseNumeric(raw)
}

// addrKey is the storage form of an address: lowercase hex with 0x.
func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func parseNumeric(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", raw)
	}
	return n, nil
}
