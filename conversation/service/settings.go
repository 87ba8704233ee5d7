package service

import "ai-baas/backend/conversation/models"

// RequestOverrides are the per-request settings a client may send. A nil
// field means the client did not supply it.
type RequestOverrides struct {
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	UseRAG       *bool    `json:"use_rag,omitempty"`
	RAGResults   *int     `json:"rag_results,omitempty"`
}

// EffectiveConfig is the fully resolved setting set for one model call
type EffectiveConfig struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
	UseRAG       bool    `json:"use_rag"`
	RAGResults   int     `json:"rag_results"`
}

// Resolve merges request overrides over the conversation's saved config over
// service defaults. Inputs are values and are never modified.
func Resolve(req RequestOverrides, saved models.ConversationConfig, defaults EffectiveConfig) EffectiveConfig {
	out := defaults

	out.Model = pick(req.Model, saved.Model, defaults.Model)
	out.Temperature = pick(req.Temperature, saved.Temperature, defaults.Temperature)
	out.MaxTokens = pick(req.MaxTokens, saved.MaxTokens, defaults.MaxTokens)
	out.SystemPrompt = pick(req.SystemPrompt, saved.SystemPrompt, defaults.SystemPrompt)
	out.UseRAG = pick(req.UseRAG, saved.UseRAG, defaults.UseRAG)
	out.RAGResults = pick(req.RAGResults, saved.RAGResults, defaults.RAGResults)

	return out
}

func pick[T any](req, saved *T, fallback T) T {
	if req != nil {
		return *req
	}
	if saved != nil {
		return *saved
	}
	return fallback
}
