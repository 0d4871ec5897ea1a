// Package usage tracks monthly generation quotas and spend against the
// ledger. It gates cache misses only: cache hits are free and never recorded.
package usage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/costs"
	"github.com/ariahq/aria/internal/store"
	"github.com/ariahq/aria/internal/tier"
)

// ErrQuotaExceeded is returned when the caller's monthly limit is reached.
var ErrQuotaExceeded = errors.New("monthly generation limit reached")

// Ledger is the persistence the tracker needs; *store.Store implements it.
type Ledger interface {
	RecordGeneration(ctx context.Context, g store.Generation) error
	CountGenerationsThisMonth(ctx context.Context, userID string) (int, error)
	MonthlySpendCents(ctx context.Context, userID string) (float64, error)
}

// Quota is a caller's current standing, served by the quota endpoint.
type Quota struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"` // -1 = unlimited
	Remaining  int     `json:"remaining"`
	SpendCents float64 `json:"spend_cents"`
}

type Tracker struct {
	ledger Ledger
	logger *zap.Logger
}

func New(ledger Ledger, logger *zap.Logger) *Tracker {
	return &Tracker{ledger: ledger, logger: logger}
}

// CheckQuota fails with ErrQuotaExceeded when the caller's tier limit is
// reached. It runs before any provider call so rejected requests never spend
// provider budget.
func (t *Tracker) CheckQuota(ctx context.Context, userID string, tr tier.Tier) error {
	limits, err := tier.LimitsFor(tr)
	if err != nil {
		return err
	}
	if limits.MonthlyGenerationLimit == tier.Unlimited {
		return nil
	}

	used, err := t.ledger.CountGenerationsThisMonth(ctx, userID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if used >= limits.MonthlyGenerationLimit {
		return fmt.Errorf("%w: %d/%d this month", ErrQuotaExceeded, used, limits.MonthlyGenerationLimit)
	}
	return nil
}

// Record appends a generation to the ledger with its computed cost.
// Best-effort: failures are logged, never surfaced — the audio already
// exists and belongs to the caller.
func (t *Tracker) Record(ctx context.Context, userID, provider, voiceID string, characters int) {
	g := store.Generation{
		UserID:    userID,
		Provider:  provider,
		VoiceID:   voiceID,
		CharCount: characters,
		CostCents: costs.GenerationCostCents(provider, characters),
	}
	if err := t.ledger.RecordGeneration(ctx, g); err != nil {
		t.logger.Warn("usage recording failed",
			zap.String("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err))
	}
}

// Current returns the caller's quota standing.
func (t *Tracker) Current(ctx context.Context, userID string, tr tier.Tier) (*Quota, error) {
	limits, err := tier.LimitsFor(tr)
	if err != nil {
		return nil, err
	}
	used, err := t.ledger.CountGenerationsThisMonth(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("quota standing: %w", err)
	}
	spend, err := t.ledger.MonthlySpendCents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("quota spend: %w", err)
	}

	q := &Quota{Used: used, Limit: limits.MonthlyGenerationLimit, SpendCents: spend}
	if q.Limit == tier.Unlimited {
		q.Remaining = tier.Unlimited
	} else if q.Remaining = q.Limit - q.Used; q.Remaining < 0 {
		q.Remaining = 0
	}
	return q, nil
}
