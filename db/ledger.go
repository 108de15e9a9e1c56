package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/streambot/currency"
)

// clampedSum is the new balance for an existing row: the old amount plus
// $3, floored at zero and capped at $4 when $4 is positive.
const clampedSum = `GREATEST(0, CASE WHEN $4::bigint > 0 THEN LEAST(%[1]s + $3::bigint, $4::bigint) ELSE %[1]s + $3::bigint END)`

var adjustSQL = `INSERT INTO currency_balances(currency_id, username, amount, updated_at)
	VALUES($1, $2, ` + fmt.Sprintf(clampedSum, "0") + `, NOW())
	ON CONFLICT(currency_id, username) DO UPDATE SET
	  amount = ` + fmt.Sprintf(clampedSum, "currency_balances.amount") + `,
	  updated_at = NOW()
	RETURNING amount`

// Ledger is a Postgres currency.Ledger. Debit is a single conditional
// UPDATE so concurrent spends cannot overdraw.
type Ledger struct{ DB *sql.DB }

var _ currency.Ledger = (*Ledger)(nil)

func (l *Ledger) Balance(ctx context.Context, currencyID, username string) (int, error) {
	var amount int64
	err := l.DB.QueryRowContext(ctx,
		`SELECT amount FROM currency_balances WHERE currency_id=$1 AND username=$2`,
		currencyID, strings.ToLower(username)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return int(amount), nil
}

func (l *Ledger) Adjust(ctx context.Context, currencyID, username string, delta, limit int) (int, error) {
	return adjust(ctx, l.DB, currencyID, username, delta, limit)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func adjust(ctx context.Context, q rowQuerier, currencyID, username string, delta, limit int) (int, error) {
	var amount int64
	if err := q.QueryRowContext(ctx, adjustSQL, currencyID, strings.ToLower(username), int64(delta), int64(limit)).Scan(&amount); err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return int(amount), nil
}

func (l *Ledger) Debit(ctx context.Context, currencyID, username string, amount int) (int, error) {
	if amount <= 0 {
		return l.Balance(ctx, currencyID, username)
	}
	var left int64
	err := l.DB.QueryRowContext(ctx,
		`UPDATE currency_balances SET amount = amount - $3, updated_at = NOW()
		 WHERE currency_id=$1 AND username=$2 AND amount >= $3
		 RETURNING amount`,
		currencyID, strings.ToLower(username), int64(amount)).Scan(&left)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, currency.ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	return int(left), nil
}

// AdjustAll applies delta to every user in one transaction.
func (l *Ledger) AdjustAll(ctx context.Context, currencyID string, usernames []string, delta, limit int) error {
	if len(usernames) == 0 || delta == 0 {
		return nil
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, u := range usernames {
		if _, err := adjust(ctx, tx, currencyID, u, delta, limit); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (l *Ledger) DeleteCurrency(ctx context.Context, currencyID string) error {
	if _, err := l.DB.ExecContext(ctx, `DELETE FROM currency_balances WHERE currency_id=$1`, currencyID); err != nil {
		return fmt.Errorf("delete balances: %w", err)
	}
	return nil
}
