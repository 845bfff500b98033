package credits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jaydeelew/compareintel/internal/store"
)

// SQLiteLedger persists ledger entries in the credit_ledger table. Every
// operation runs the reset-check-mutate sequence inside one immediate
// transaction, so concurrent requests on the same key serialize at the
// storage layer and lost updates or double resets cannot occur.
type SQLiteLedger struct {
	db *store.DB
}

func NewSQLiteLedger(db *store.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (l *SQLiteLedger) Balance(ctx context.Context, key string, pol Policy, now time.Time) (Balance, error) {
	return l.mutate(ctx, key, pol, 0, now)
}

func (l *SQLiteLedger) Deduct(ctx context.Context, key string, pol Policy, amount int, now time.Time) (Balance, error) {
	return l.mutate(ctx, key, pol, amount, now)
}

func (l *SQLiteLedger) mutate(ctx context.Context, key string, pol Policy, amount int, now time.Time) (Balance, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("ledger tx begin: %w", err)
	}
	defer tx.Rollback()

	var allocated, used int
	var resetUnix int64
	row := tx.QueryRowContext(ctx,
		`SELECT allocated, used, reset_at FROM credit_ledger WHERE key = ?`, key)
	switch err := row.Scan(&allocated, &used, &resetUnix); err {
	case nil:
		if now.Unix() >= resetUnix {
			allocated = pol.Allocation
			used = 0
			resetUnix = pol.NextReset(now).Unix()
		}
	case sql.ErrNoRows:
		allocated = pol.Allocation
		used = 0
		resetUnix = pol.NextReset(now).Unix()
	default:
		return Balance{}, fmt.Errorf("ledger read: %w", err)
	}

	used += amount
	if used > allocated {
		used = allocated
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_ledger(key, period, allocated, used, reset_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET period=excluded.period, allocated=excluded.allocated,
		 used=excluded.used, reset_at=excluded.reset_at`,
		key, string(pol.Period), allocated, used, resetUnix); err != nil {
		return Balance{}, fmt.Errorf("ledger write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, fmt.Errorf("ledger commit: %w", err)
	}

	return Balance{Allocated: allocated, Used: used, ResetAt: time.Unix(resetUnix, 0).In(now.Location())}, nil
}
