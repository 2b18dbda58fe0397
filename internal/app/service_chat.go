package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"halalchat/api/internal/generation"
	"halalchat/api/internal/ledger"
	"halalchat/api/internal/moderation"
	"halalchat/api/internal/ratelimit"
	"halalchat/api/internal/store"
)

type ChatInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt"`
	MinWords       int    `json:"minWords"`
	MaxWords       int    `json:"maxWords"`
	Tone           string `json:"tone"`
	Tool           string `json:"tool"`
}

// BookkeepingFailure is a side effect that failed after the response was generated.
type BookkeepingFailure struct {
	Step string
	Err  error
}

// ChatResult separates the generated response from the bookkeeping around it.
type ChatResult struct {
	Response         string
	Source           string
	CreditsRemaining int
	HistoryID        string
	Failures         []BookkeepingFailure
}

func (r ChatResult) Payload() map[string]any {
	payload := map[string]any{
		"response":         r.Response,
		"creditsRemaining": r.CreditsRemaining,
		"source":           r.Source,
	}
	if r.HistoryID != "" {
		payload["historyId"] = r.HistoryID
	}
	if len(r.Failures) > 0 {
		steps := make([]string, 0, len(r.Failures))
		for _, failure := range r.Failures {
			steps = append(steps, failure.Step)
		}
		payload["bookkeepingFailures"] = steps
	}
	return payload
}

// Chat screens the prompt, debits one credit, generates and records the
// exchange. A rejected prompt is neither debited nor counted against the
// hourly limit, and the generator is not called without a credit.
func (s *Service) Chat(ctx context.Context, user store.User, input ChatInput) (ChatResult, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return ChatResult{}, validationError("Prompt is required")
	}
	if input.MinWords < 0 || input.MaxWords < 0 || (input.MaxWords > 0 && input.MinWords > input.MaxWords) {
		return ChatResult{}, validationError("Invalid word limits")
	}

	verdict := moderation.Screen(prompt)
	if !verdict.Allowed {
		s.metrics.ModerationRejections.Inc()
		log.Info().Str("user_id", user.ID).Msg("prompt rejected by moderation")
		return ChatResult{}, domainError(http.StatusBadRequest, "MODERATION_REJECTED", verdict.Reason, nil)
	}

	if err := s.checkLimit(ctx, ratelimit.ScopeGenerate, user.ID); err != nil {
		return ChatResult{}, err
	}

	result := ChatResult{}
	balance, err := s.ledger.Charge(ctx, user.ID)
	switch {
	case err == nil:
		result.CreditsRemaining = balance
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return ChatResult{}, errNoCredits
	case errors.Is(err, sql.ErrNoRows):
		return ChatResult{}, errUnauthorized
	default:
		s.bookkeepingFailed("debit", user.ID, err)
		result.Failures = append(result.Failures, BookkeepingFailure{Step: "debit", Err: err})
		result.CreditsRemaining = max(user.Credits-ledger.GenerationCost, 0)
	}

	generated := s.generator.Generate(ctx, generation.Request{
		Prompt:         prompt,
		NegativePrompt: strings.TrimSpace(input.NegativePrompt),
		MinWords:       input.MinWords,
		MaxWords:       input.MaxWords,
		Tone:           strings.TrimSpace(input.Tone),
		Tool:           strings.TrimSpace(input.Tool),
	})
	s.metrics.Generations.WithLabelValues(generated.Source).Inc()
	result.Response = generated.Text
	result.Source = generated.Source

	entry, err := s.store.InsertChat(ctx, store.ChatEntry{
		UserID:   user.ID,
		Prompt:   prompt,
		Response: generated.Text,
	})
	if err != nil {
		s.bookkeepingFailed("history", user.ID, err)
		result.Failures = append(result.Failures, BookkeepingFailure{Step: "history", Err: err})
	} else {
		result.HistoryID = entry.ID
	}
	return result, nil
}

// checkLimit fails open when the limiter backend is unavailable.
func (s *Service) checkLimit(ctx context.Context, scope, userID string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, scope, userID, s.now())
	if err != nil {
		log.Warn().Err(err).Str("scope", scope).Str("user_id", userID).Msg("rate limiter unavailable")
		return nil
	}
	if !decision.Allowed {
		return domainError(http.StatusTooManyRequests, "RATE_LIMIT", "Hourly limit reached. Please try again later.", map[string]any{
			"limit":   decision.Limit,
			"resetAt": decision.ResetAt.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *Service) ChatHistory(ctx context.Context, userID string, favoritesOnly bool) ([]map[string]any, error) {
	items, err := s.store.ListChats(ctx, userID, favoritesOnly)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, chatPayload(item))
	}
	return payload, nil
}

func (s *Service) SetChatFavorite(ctx context.Context, userID, chatID string, favorite bool) (map[string]any, error) {
	if !validID(chatID) {
		return nil, notFound("Chat not found")
	}
	entry, err := s.store.SetChatFavorite(ctx, userID, chatID, favorite)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Chat not found")
		}
		return nil, err
	}
	return chatPayload(entry), nil
}

// EarnCredits grants one credit for a completed earning action and shares it
// with the user's referrer.
func (s *Service) EarnCredits(ctx context.Context, userID, reason string) (map[string]any, error) {
	reason = strings.TrimSpace(reason)
	if reason != ledger.ReasonAd && reason != ledger.ReasonShare {
		return nil, validationError(`Reason must be "ad" or "share"`)
	}
	if err := s.checkLimit(ctx, ratelimit.ScopeEarn, userID); err != nil {
		return nil, err
	}
	result, err := s.ledger.Earn(ctx, userID, 1, reason)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("reason", reason).Msg("earn credits")
		return nil, err
	}
	return map[string]any{
		"credits":          result.Balance,
		"referrerCredited": result.ReferrerCredited,
	}, nil
}

func chatPayload(entry store.ChatEntry) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"userId":     entry.UserID,
		"prompt":     entry.Prompt,
		"response":   entry.Response,
		"isFavorite": entry.IsFavorite,
		"createdAt":  entry.CreatedAt,
	}
}
