package credits

import (
	"context"
	"errors"
	"time"

	"github.com/jaydeelew/compareintel/internal/identity"
)

var (
	// ErrInsufficientCredits rejects a comparison before any streaming begins.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTooManyModels rejects a request exceeding the tier's model cap.
	ErrTooManyModels = errors.New("too many models for tier")
)

// Period is the reset cadence of a ledger entry.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Policy is the allocation applied to one tier's ledger entries.
type Policy struct {
	Allocation int
	Period     Period
	MaxModels  int
}

// NextReset returns the reset instant strictly after now, computed in now's
// location so daily entries roll over at the caller's local midnight.
func (p Policy) NextReset(now time.Time) time.Time {
	if p.Period == PeriodMonthly {
		y, m, _ := now.Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Balance is the state of one ledger entry after lazy reset.
type Balance struct {
	Allocated int
	Used      int
	ResetAt   time.Time
}

// Remaining never goes negative.
func (b Balance) Remaining() int {
	if r := b.Allocated - b.Used; r > 0 {
		return r
	}
	return 0
}

// Ledger tracks allocated and used credits per bucket key and period.
// Implementations must reset entries whose reset time has passed before
// reading or deducting, and the reset-check-deduct sequence must be a single
// atomic critical section with respect to concurrent callers on the same key.
type Ledger interface {
	// Balance returns the current balance for key, resetting a stale entry
	// first. Reading twice with no deduction in between is idempotent.
	Balance(ctx context.Context, key string, pol Policy, now time.Time) (Balance, error)

	// Deduct consumes amount credits from key, clamping used at the
	// allocation, and returns the resulting balance.
	Deduct(ctx context.Context, key string, pol Policy, amount int, now time.Time) (Balance, error)
}

// Policies maps tiers to their allocation policies.
type Policies struct {
	Anonymous Policy
	Free      Policy
	Pro       Policy
}

// For returns the policy governing the given tier.
func (p Policies) For(tier identity.Tier) Policy {
	switch tier {
	case identity.TierPro:
		return p.Pro
	case identity.TierFree:
		return p.Free
	default:
		return p.Anonymous
	}
}
