package service

import (
	"context"
	"time"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/shared/observability"
)

// TokenLedger records provider-reported token usage on messages
type TokenLedger struct {
	messages repository.MessageRepository
	metrics  *observability.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func NewTokenLedger(messages repository.MessageRepository, metrics *observability.Metrics, log *logger.Logger) *TokenLedger {
	return &TokenLedger{
		messages: messages,
		metrics:  metrics,
		log:      log.Module("ledger"),
		now:      time.Now,
	}
}

// Record stores usage on a message, setting total = prompt + completion.
// A later call for the same message replaces the earlier values.
func (l *TokenLedger) Record(ctx context.Context, messageID uint, promptTokens, completionTokens int) (*models.Message, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return nil, apperrors.InvalidConfig("token counts must not be negative (prompt=%d, completion=%d)", promptTokens, completionTokens)
	}

	msg, overwritten, err := l.messages.UpdateTokenUsage(ctx, messageID, promptTokens, completionTokens, l.now().UTC())
	if err != nil {
		return nil, err
	}

	if overwritten {
		l.log.Warn("token usage overwritten",
			"message_id", messageID,
			"prompt_tokens", promptTokens,
			"completion_tokens", completionTokens,
		)
	}
	l.metrics.RecordTokens(ctx, promptTokens, completionTokens)
	return msg, nil
}

// ConversationUsage sums recorded usage and prices it for model
func (l *TokenLedger) ConversationUsage(ctx context.Context, conversationID uint, model string) (models.Usage, error) {
	usage, err := l.messages.SumUsage(ctx, conversationID)
	if err != nil {
		return models.Usage{}, err
	}
	usage.EstimatedCost = ai.EstimateCost(model, usage.PromptTokens, usage.CompletionTokens)
	return usage, nil
}
