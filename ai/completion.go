package ai

import (
	"context"
	"fmt"
	"time"

	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/resilience"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer is the model completion service
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	// Stream emits fragments followed by exactly one Done or Err event,
	// then closes the channel.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// StreamEvent is one item of a streamed completion
type StreamEvent struct {
	Fragment string
	Done     bool
	Err      error
	// Provider usage, set on the Done event when reported
	PromptTokens     int
	CompletionTokens int
}

// OpenAIConfig configures an OpenAI-compatible completion endpoint
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIModel builds the langchaingo client for an OpenAI-compatible API
func NewOpenAIModel(cfg OpenAIConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return llm, nil
}

// LangchainCompleter adapts a langchaingo model to Completer
type LangchainCompleter struct {
	model   llms.Model
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	log     *logger.Logger
}

// NewLangchainCompleter wraps model. timeout <= 0 disables the per-call deadline.
func NewLangchainCompleter(model llms.Model, breaker *resilience.CircuitBreaker, timeout time.Duration, log *logger.Logger) *LangchainCompleter {
	return &LangchainCompleter{
		model:   model,
		breaker: breaker,
		timeout: timeout,
		log:     log.Module("completion"),
	}
}

func toMessageContent(messages []ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func callOptions(req CompletionRequest) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func usageFrom(info map[string]any) (prompt, completion int) {
	return intFrom(info["PromptTokens"]), intFrom(info["CompletionTokens"])
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (c *LangchainCompleter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Complete implements Completer
func (c *LangchainCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp *llms.ContentResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.model.GenerateContent(ctx, toMessageContent(req.Messages), callOptions(req)...)
		return err
	})
	if err != nil {
		return nil, apperrors.Upstream("completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.Upstream("completion", fmt.Errorf("model returned no choices"))
	}

	choice := resp.Choices[0]
	prompt, completion := usageFrom(choice.GenerationInfo)
	c.log.Debug("completion finished",
		"model", req.Model,
		"prompt_tokens", prompt,
		"completion_tokens", completion,
		"stop_reason", choice.StopReason,
	)

	return &Completion{
		Content:          choice.Content,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}, nil
}

// Stream implements Completer
func (c *LangchainCompleter) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)

		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		opts := append(callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !send(StreamEvent{Fragment: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}))

		var resp *llms.ContentResponse
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.model.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
			return err
		})
		if err != nil {
			send(StreamEvent{Err: apperrors.Upstream("completion", err)})
			return
		}

		done := StreamEvent{Done: true}
		if len(resp.Choices) > 0 {
			done.PromptTokens, done.CompletionTokens = usageFrom(resp.Choices[0].GenerationInfo)
		}
		send(done)
	}()

	return events, nil
}
