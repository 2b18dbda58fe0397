// Package ledger moves credits between users and propagates earned credits
// one hop up the referral chain.
package ledger

import (
	"context"
	"fmt"

	"halalchat/api/internal/metrics"
	"halalchat/api/internal/store"
)

var ErrInsufficientCredits = store.ErrInsufficientCredits

const (
	ReasonAd    = "ad"
	ReasonShare = "share"
	ReasonAdmin = "admin"
)

// GenerationCost is debited for every generated response.
const GenerationCost = 1

type Store interface {
	AdjustCredits(ctx context.Context, userID string, delta int) (int, error)
	EarnCredits(ctx context.Context, params store.EarnParams) (store.EarnOutcome, error)
	CountReferrals(ctx context.Context, userID string) (int, error)
}

type Ledger struct {
	store   Store
	metrics *metrics.Metrics
}

func New(st Store, m *metrics.Metrics) *Ledger {
	return &Ledger{store: st, metrics: m}
}

type EarnResult struct {
	Balance          int
	ReferrerCredited bool
}

// Adjust applies delta atomically. A debit that would leave a negative
// balance fails with ErrInsufficientCredits and changes nothing.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int) (int, error) {
	return l.store.AdjustCredits(ctx, userID, delta)
}

func (l *Ledger) Charge(ctx context.Context, userID string) (int, error) {
	return l.Adjust(ctx, userID, -GenerationCost)
}

// Earn credits the user and, when they were referred, their referrer by the
// same amount, in one transaction.
func (l *Ledger) Earn(ctx context.Context, userID string, amount int, reason string) (EarnResult, error) {
	if amount <= 0 {
		return EarnResult{}, fmt.Errorf("earn amount must be positive, got %d", amount)
	}
	outcome, err := l.store.EarnCredits(ctx, store.EarnParams{
		UserID:          userID,
		Amount:          amount,
		ReferrerMessage: PropagationMessage,
	})
	if err != nil {
		return EarnResult{}, err
	}

	if l.metrics != nil {
		l.metrics.CreditsEarned.WithLabelValues(reason).Add(float64(amount))
		if outcome.ReferrerID != nil {
			l.metrics.CreditsEarned.WithLabelValues("referral").Add(float64(amount))
		}
	}
	return EarnResult{Balance: outcome.Balance, ReferrerCredited: outcome.ReferrerID != nil}, nil
}

func (l *Ledger) ReferralCount(ctx context.Context, userID string) (int, error) {
	return l.store.CountReferrals(ctx, userID)
}

func PropagationMessage(earnerName string, amount int) string {
	return fmt.Sprintf("You received %d credit(s) because %s earned credits!", amount, earnerName)
}
