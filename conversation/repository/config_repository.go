package repository

import (
	"context"
	"errors"

	"ai-baas/backend/conversation/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConfigRepository interface {
	// GetByConversation returns an empty config when none is saved
	GetByConversation(ctx context.Context, conversationID uint) (*models.ConversationConfig, error)
	Upsert(ctx context.Context, cfg *models.ConversationConfig) error
}

type GormConfigRepository struct {
	db *gorm.DB
}

func NewGormConfigRepository(db *gorm.DB) *GormConfigRepository {
	return &GormConfigRepository{db: db}
}

func (r *GormConfigRepository) GetByConversation(ctx context.Context, conversationID uint) (*models.ConversationConfig, error) {
	var cfg models.ConversationConfig
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ConversationConfig{ConversationID: conversationID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *GormConfigRepository) Upsert(ctx context.Context, cfg *models.ConversationConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"model", "temperature", "max_tokens", "system_prompt", "use_rag", "rag_results", "updated_at",
		}),
	}).Create(cfg).Error
}
