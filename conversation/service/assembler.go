package service

import (
	"context"
	"math"
	"strings"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/models"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/shared/observability"
)

const (
	DefaultReservationRatio = 0.75
	DefaultMaxInputTokens   = 8192
)

// CountFunc prices a set of messages in tokens
type CountFunc func(messages []ai.ChatMessage) (int, error)

// Assembly is a prompt that fits the context window
type Assembly struct {
	Messages   []ai.ChatMessage `json:"messages"`
	Budget     int              `json:"budget"`
	UsedTokens int              `json:"used_tokens"`
	// Dropped counts thread messages left out, always the oldest ones
	Dropped int `json:"dropped"`
}

// AssembleContext fits thread into floor(maxInputTokens * ratio) tokens.
// A non-empty system prompt always leads and is paid for first, even when it
// alone exceeds the budget. History is kept newest first until the next
// message would overflow; that message and everything older is dropped.
// Messages are never truncated.
func AssembleContext(thread []ai.ChatMessage, systemPrompt string, maxInputTokens int, ratio float64, count CountFunc) (Assembly, error) {
	if maxInputTokens <= 0 {
		return Assembly{}, apperrors.InvalidConfig("max input tokens must be positive, got %d", maxInputTokens)
	}
	if !(ratio > 0 && ratio <= 1) {
		return Assembly{}, apperrors.InvalidConfig("reservation ratio must be in (0, 1], got %v", ratio)
	}

	budget := int(math.Floor(float64(maxInputTokens) * ratio))
	out := Assembly{Budget: budget}
	remaining := budget

	var system *ai.ChatMessage
	if strings.TrimSpace(systemPrompt) != "" {
		system = &ai.ChatMessage{Role: ai.RoleSystem, Content: systemPrompt}
		cost, err := count([]ai.ChatMessage{*system})
		if err != nil {
			return Assembly{}, apperrors.Upstream("token_estimator", err)
		}
		remaining -= cost
		out.UsedTokens += cost
	}

	kept := 0
	used := 0
	for i := len(thread) - 1; i >= 0; i-- {
		cost, err := count(thread[i : i+1])
		if err != nil {
			return Assembly{}, apperrors.Upstream("token_estimator", err)
		}
		if used+cost > remaining {
			break
		}
		used += cost
		kept++
	}

	out.UsedTokens += used
	out.Dropped = len(thread) - kept
	out.Messages = make([]ai.ChatMessage, 0, kept+1)
	if system != nil {
		out.Messages = append(out.Messages, *system)
	}
	out.Messages = append(out.Messages, thread[len(thread)-kept:]...)
	return out, nil
}

// ToChatMessages maps stored messages to model messages, preserving order
func ToChatMessages(thread []models.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, len(thread))
	for i, m := range thread {
		out[i] = ai.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// ContextAssembler applies AssembleContext with a model's limits
type ContextAssembler struct {
	estimator       ai.TokenEstimator
	ratio           float64
	defaultMaxInput int
	metrics         *observability.Metrics
	log             *logger.Logger
}

func NewContextAssembler(estimator ai.TokenEstimator, ratio float64, defaultMaxInput int, metrics *observability.Metrics, log *logger.Logger) *ContextAssembler {
	if defaultMaxInput <= 0 {
		defaultMaxInput = DefaultMaxInputTokens
	}
	return &ContextAssembler{
		estimator:       estimator,
		ratio:           ratio,
		defaultMaxInput: defaultMaxInput,
		metrics:         metrics,
		log:             log.Module("assembler"),
	}
}

// MaxInputTokens returns the model's window, or the default for unknown models
func (a *ContextAssembler) MaxInputTokens(model string) int {
	limits, err := a.estimator.ModelLimits(model)
	if err != nil || limits.MaxInputTokens <= 0 {
		a.log.Debug("model limits unavailable, using default window", "model", model, "max_input_tokens", a.defaultMaxInput)
		return a.defaultMaxInput
	}
	return limits.MaxInputTokens
}

func (a *ContextAssembler) Assemble(ctx context.Context, thread []ai.ChatMessage, systemPrompt, model string) (Assembly, error) {
	ctx, span := tracer.Start(ctx, "context.assemble")
	defer span.End()

	count := func(msgs []ai.ChatMessage) (int, error) {
		return a.estimator.CountTokens(msgs, model)
	}
	out, err := AssembleContext(thread, systemPrompt, a.MaxInputTokens(model), a.ratio, count)
	if err != nil {
		span.RecordError(err)
		return Assembly{}, err
	}

	if out.Dropped > 0 {
		a.log.Info("context trimmed to fit window",
			"model", model,
			"budget", out.Budget,
			"dropped", out.Dropped,
			"kept", len(thread)-out.Dropped,
		)
	}
	a.metrics.RecordAssembly(ctx, model, out.UsedTokens, out.Dropped)
	return out, nil
}
