package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-baas/backend/conversation/models"
	apperrors "ai-baas/backend/pkg/errors"

	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// ListByConversation returns every message of the conversation, oldest first
	ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error)
	ListByBranch(ctx context.Context, branchID uint) ([]models.Message, error)
	LatestOnBranch(ctx context.Context, branchID uint) (*models.Message, error)
	LatestInConversation(ctx context.Context, conversationID uint) (*models.Message, error)
	// UpdateTokenUsage overwrites the token fields and reports whether usage
	// had already been recorded.
	UpdateTokenUsage(ctx context.Context, id uint, prompt, completion int, at time.Time) (*models.Message, bool, error)
	SumUsage(ctx context.Context, conversationID uint) (models.Usage, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(format, args...)
	}
	return err
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, notFound(err, "message %d not found", id)
	}
	return &message, nil
}

func (r *GormMessageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) ListByBranch(ctx context.Context, branchID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) latest(ctx context.Context, column string, value uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where(column+" = ?", value).
		Order("id DESC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// LatestOnBranch returns nil without error when the branch has no messages
func (r *GormMessageRepository) LatestOnBranch(ctx context.Context, branchID uint) (*models.Message, error) {
	m, err := r.latest(ctx, "branch_id", branchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return m, err
}

// LatestInConversation returns nil without error for an empty conversation
func (r *GormMessageRepository) LatestInConversation(ctx context.Context, conversationID uint) (*models.Message, error) {
	m, err := r.latest(ctx, "conversation_id", conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return m, err
}

func (r *GormMessageRepository) UpdateTokenUsage(ctx context.Context, id uint, prompt, completion int, at time.Time) (*models.Message, bool, error) {
	var (
		message     models.Message
		overwritten bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return notFound(err, "message %d not found", id)
		}
		overwritten = message.UsageRecordedAt != nil

		updates := map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
			"usage_recorded_at": at,
		}
		if err := tx.Model(&message).Updates(updates).Error; err != nil {
			return fmt.Errorf("update token usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	message.PromptTokens = prompt
	message.CompletionTokens = completion
	message.TotalTokens = prompt + completion
	message.UsageRecordedAt = &at
	return &message, overwritten, nil
}

func (r *GormMessageRepository) SumUsage(ctx context.Context, conversationID uint) (models.Usage, error) {
	usage := models.Usage{ConversationID: conversationID}
	row := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)").
		Where("conversation_id = ?", conversationID).
		Row()
	if err := row.Scan(&usage.PromptTokens, &usage.CompletionTokens, &usage.TotalTokens); err != nil {
		return usage, fmt.Errorf("sum usage: %w", err)
	}
	return usage, nil
}
