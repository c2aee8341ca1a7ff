package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
)

// ErrUnbalancedVoucher is returned when debit and credit totals differ.
var ErrUnbalancedVoucher = errors.New("voucher lines do not balance")

// Line is one side of a journal entry. Exactly one of Debit or Credit
// should carry an amount; a nil side counts as zero.
type Line struct {
	Account string
	Debit   *money.Money
	Credit  *money.Money
}

// Service posts balanced journal vouchers. The commit engine's invoice
// hook is its only caller inside the pipeline.
type Service interface {
	PostVoucher(ctx context.Context, lines []Line, description, reference string) (uuid.UUID, error)
}

// Balanced checks that debits equal credits across all lines. Lines
// must share one currency.
func Balanced(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrUnbalancedVoucher)
	}

	currency := lineCurrency(lines)
	if currency == "" {
		return fmt.Errorf("%w: no amounts", ErrUnbalancedVoucher)
	}

	debits := money.New(0, currency)
	credits := money.New(0, currency)
	var err error

	for _, line := range lines {
		if line.Debit != nil {
			debits, err = debits.Add(line.Debit)
			if err != nil {
				return fmt.Errorf("debit on account %s: %w", line.Account, err)
			}
		}
		if line.Credit != nil {
			credits, err = credits.Add(line.Credit)
			if err != nil {
				return fmt.Errorf("credit on account %s: %w", line.Account, err)
			}
		}
	}

	equal, err := debits.Equals(credits)
	if err != nil {
		return err
	}
	if !equal {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedVoucher, debits.Display(), credits.Display())
	}
	return nil
}

func lineCurrency(lines []Line) string {
	for _, line := range lines {
		if line.Debit != nil {
			return line.Debit.Currency().Code
		}
		if line.Credit != nil {
			return line.Credit.Currency().Code
		}
	}
	return ""
}

// PostgresLedger persists vouchers and lines. It resolves its querier
// from the context, so a voucher posted inside a commit transaction
// rolls back with it.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wires a ledger backed by pgxpool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) PostVoucher(ctx context.Context, lines []Line, description, reference string) (uuid.UUID, error) {
	if err := Balanced(lines); err != nil {
		return uuid.Nil, err
	}

	querier := db.QuerierFromContext(ctx, l.pool)
	voucherID := uuid.New()

	_, err := querier.Exec(
		ctx,
		`INSERT INTO gl_vouchers (id, reference, description) VALUES ($1, $2, $3)`,
		voucherID, reference, description,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to post voucher: %w", err)
	}

	for _, line := range lines {
		var debitMinor, creditMinor int64
		currency := ""
		if line.Debit != nil {
			debitMinor = line.Debit.Amount()
			currency = line.Debit.Currency().Code
		}
		if line.Credit != nil {
			creditMinor = line.Credit.Amount()
			currency = line.Credit.Currency().Code
		}

		_, err := querier.Exec(
			ctx,
			`INSERT INTO gl_voucher_lines (id, voucher_id, account, debit_minor, credit_minor, currency)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), voucherID, line.Account, debitMinor, creditMinor, currency,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to post voucher line %s: %w", line.Account, err)
		}
	}

	return voucherID, nil
}

var _ Service = (*PostgresLedger)(nil)
