package models

import (
	"time"
)

// Conversation owns a tree of messages
type Conversation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index;not null"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a node in the conversation tree. Only the token fields change
// after creation.
type Message struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	ConversationID   uint       `json:"conversation_id" gorm:"index;not null"`
	BranchID         *uint      `json:"branch_id" gorm:"index"`
	ParentMessageID  *uint      `json:"parent_message_id" gorm:"index"`
	Role             string     `json:"role" gorm:"size:16;not null"`
	Content          string     `json:"content"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	UsageRecordedAt  *time.Time `json:"usage_recorded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Branch is a named alternative continuation within a conversation
type Branch struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"index;not null"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationConfig holds saved per-conversation overrides; nil means unset
type ConversationConfig struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"uniqueIndex;not null"`
	Model          *string   `json:"model,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	MaxTokens      *int      `json:"max_tokens,omitempty"`
	SystemPrompt   *string   `json:"system_prompt,omitempty"`
	UseRAG         *bool     `json:"use_rag,omitempty"`
	RAGResults     *int      `json:"rag_results,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Usage is the ledger total for one conversation
type Usage struct {
	ConversationID   uint    `json:"conversation_id"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// AllModels lists the tables to migrate
func AllModels() []any {
	return []any{&Conversation{}, &Message{}, &Branch{}, &ConversationConfig{}}
}
