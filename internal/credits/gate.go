package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaydeelew/compareintel/internal/identity"
)

// Decision is the admission outcome for one comparison request.
type Decision struct {
	Allowed   bool
	Remaining int
	Allocated int
}

// Gate decides whether a comparison may proceed. It only reads the ledger;
// settlement is the sole writer.
type Gate struct {
	ledger   Ledger
	policies Policies
}

func NewGate(ledger Ledger, policies Policies) *Gate {
	return &Gate{ledger: ledger, policies: policies}
}

// Check admits or rejects a request for modelCount models. For anonymous
// identities with a fingerprint, the effective remaining value is the
// minimum across the IP and fingerprint buckets. now must carry the
// caller's timezone so daily entries reset at their local midnight.
func (g *Gate) Check(ctx context.Context, id identity.Identity, modelCount int, now time.Time) (Decision, error) {
	pol := g.policies.For(id.Tier)
	if modelCount > pol.MaxModels {
		return Decision{}, fmt.Errorf("%w: %d > %d", ErrTooManyModels, modelCount, pol.MaxModels)
	}

	dec, err := g.remaining(ctx, id, pol, now)
	if err != nil {
		return Decision{}, err
	}
	if dec.Remaining <= 0 {
		slog.Info("Admission denied", "identity", id.Key, "tier", id.Tier, "allocated", dec.Allocated)
		return dec, ErrInsufficientCredits
	}
	dec.Allowed = true
	return dec, nil
}

// Remaining reports the current balance without admitting anything.
func (g *Gate) Remaining(ctx context.Context, id identity.Identity, now time.Time) (Decision, error) {
	return g.remaining(ctx, id, g.policies.For(id.Tier), now)
}

func (g *Gate) remaining(ctx context.Context, id identity.Identity, pol Policy, now time.Time) (Decision, error) {
	dec := Decision{Remaining: -1}
	for _, key := range id.Keys() {
		bal, err := g.ledger.Balance(ctx, key, pol, now)
		if err != nil {
			return Decision{}, fmt.Errorf("ledger read failed for %s: %w", key, err)
		}
		if dec.Remaining < 0 || bal.Remaining() < dec.Remaining {
			dec.Remaining = bal.Remaining()
			dec.Allocated = bal.Allocated
		}
	}
	return dec, nil
}

// MaxModels returns the tier's model cap, for request validation.
func (g *Gate) MaxModels(tier identity.Tier) int {
	return g.policies.For(tier).MaxModels
}
