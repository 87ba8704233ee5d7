// Package ai holds the model-facing pieces of the context engine: token
// estimation, model limits and the completion client.
package ai

// Roles a chat message can carry
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role/content pair sent to the model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelLimits describes a model's context window and pricing
type ModelLimits struct {
	MaxInputTokens     int     `json:"max_input_tokens"`
	MaxOutputTokens    int     `json:"max_output_tokens"`
	CostPerInputToken  float64 `json:"input_cost_per_token"`
	CostPerOutputToken float64 `json:"output_cost_per_token"`
}

// CompletionRequest is a single model call
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	// MaxTokens caps the completion; zero leaves it to the provider
	MaxTokens int
}

// Completion is the result of a blocking model call. Token counts are zero
// when the provider did not report usage.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// UsageReported reports whether the provider returned token usage
func (c Completion) UsageReported() bool {
	return c.PromptTokens > 0 || c.CompletionTokens > 0
}
