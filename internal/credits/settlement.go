package credits

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jaydeelew/compareintel/internal/identity"
	"github.com/jaydeelew/compareintel/internal/models"
)

// Settlement computes the final credit cost of a comparison and deducts it
// from the identity's ledger bucket(s). It is the only ledger writer.
type Settlement struct {
	ledger          Ledger
	policies        Policies
	outputWeight    float64
	tokensPerCredit int
}

func NewSettlement(ledger Ledger, policies Policies, outputWeight float64, tokensPerCredit int) *Settlement {
	if tokensPerCredit <= 0 {
		tokensPerCredit = 1000
	}
	return &Settlement{
		ledger:          ledger,
		policies:        policies,
		outputWeight:    outputWeight,
		tokensPerCredit: tokensPerCredit,
	}
}

// EffectiveTokens is the weighted token total across successful outcomes.
// Output tokens are weighted higher than input because they cost more.
func (s *Settlement) EffectiveTokens(outcomes []models.ModelOutcome) int {
	total := 0.0
	for _, out := range outcomes {
		if out.Error || out.Usage == nil {
			continue
		}
		total += float64(out.Usage.InputTokens) + float64(out.Usage.OutputTokens)*s.outputWeight
	}
	return int(math.Ceil(total))
}

// Cost converts effective tokens into credits: at least one credit per
// comparison with any successful model, zero when every model failed.
func (s *Settlement) Cost(effectiveTokens, successes int) int {
	if successes == 0 {
		return 0
	}
	cost := int(math.Ceil(float64(effectiveTokens) / float64(s.tokensPerCredit)))
	if cost < 1 {
		cost = 1
	}
	return cost
}

// Settle charges the comparison and returns (charged, remaining). Ledger
// write failures are logged, never surfaced: the stream already went out,
// so the remaining figure falls back to a best-effort re-read.
func (s *Settlement) Settle(ctx context.Context, id identity.Identity, outcomes []models.ModelOutcome, now time.Time) (int, int) {
	successes := 0
	for _, out := range outcomes {
		if !out.Error {
			successes++
		}
	}

	eff := s.EffectiveTokens(outcomes)
	cost := s.Cost(eff, successes)
	pol := s.policies.For(id.Tier)

	remaining := -1
	for _, key := range id.Keys() {
		var bal Balance
		var err error
		if cost > 0 {
			bal, err = s.ledger.Deduct(ctx, key, pol, cost, now)
		} else {
			bal, err = s.ledger.Balance(ctx, key, pol, now)
		}
		if err != nil {
			slog.Error("Credit settlement failed", "identity", key, "cost", cost, "error", err)
			if bal, err = s.ledger.Balance(ctx, key, pol, now); err != nil {
				continue
			}
		}
		if remaining < 0 || bal.Remaining() < remaining {
			remaining = bal.Remaining()
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	slog.Info("Comparison settled",
		"identity", id.Key,
		"effective_tokens", eff,
		"credits_charged", cost,
		"credits_remaining", remaining,
		"models_successful", successes)
	return cost, remaining
}
