package service

import (
	"context"
	"strings"

	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	apperrors "ai-baas/backend/pkg/errors"
)

// ConversationService covers ownership checks, message listing and saved settings
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	configs       repository.ConfigRepository
	ledger        *TokenLedger
	defaults      EffectiveConfig
}

func NewConversationService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	configs repository.ConfigRepository,
	ledger *TokenLedger,
	defaults EffectiveConfig,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		configs:       configs,
		ledger:        ledger,
		defaults:      defaults,
	}
}

func (s *ConversationService) Create(ctx context.Context, userID uint, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	conv := &models.Conversation{UserID: userID, Title: title}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Authorize loads a conversation owned by userID. Conversations of other
// users are reported as not found.
func (s *ConversationService) Authorize(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, apperrors.NotFound("conversation %d not found", conversationID)
	}
	return conv, nil
}

// AuthorizeMessage loads a message whose conversation is owned by userID
func (s *ConversationService) AuthorizeMessage(ctx context.Context, userID, messageID uint) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, userID, msg.ConversationID); err != nil {
		return nil, apperrors.NotFound("message %d not found", messageID)
	}
	return msg, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, userID, conversationID uint) ([]models.Message, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID)
}

func (s *ConversationService) GetConfig(ctx context.Context, userID, conversationID uint) (*models.ConversationConfig, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.configs.GetByConversation(ctx, conversationID)
}

// UpdateConfig replaces the saved overrides with the supplied ones
func (s *ConversationService) UpdateConfig(ctx context.Context, userID, conversationID uint, in RequestOverrides) (*models.ConversationConfig, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if err := validateOverrides(in); err != nil {
		return nil, err
	}

	cfg := &models.ConversationConfig{
		ConversationID: conversationID,
		Model:          in.Model,
		Temperature:    in.Temperature,
		MaxTokens:      in.MaxTokens,
		SystemPrompt:   in.SystemPrompt,
		UseRAG:         in.UseRAG,
		RAGResults:     in.RAGResults,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	return s.configs.GetByConversation(ctx, conversationID)
}

// Usage totals the ledger for a conversation and prices it with its effective model
func (s *ConversationService) Usage(ctx context.Context, userID, conversationID uint) (models.Usage, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return models.Usage{}, err
	}
	saved, err := s.configs.GetByConversation(ctx, conversationID)
	if err != nil {
		return models.Usage{}, err
	}
	eff := Resolve(RequestOverrides{}, *saved, s.defaults)
	return s.ledger.ConversationUsage(ctx, conversationID, eff.Model)
}

func validateOverrides(in RequestOverrides) error {
	if in.Temperature != nil && (*in.Temperature < 0 || *in.Temperature > 2) {
		return apperrors.InvalidConfig("temperature must be between 0 and 2")
	}
	if in.MaxTokens != nil && *in.MaxTokens < 0 {
		return apperrors.InvalidConfig("max_tokens must not be negative")
	}
	if in.RAGResults != nil && *in.RAGResults <= 0 {
		return apperrors.InvalidConfig("rag_results must be positive")
	}
	return nil
}
