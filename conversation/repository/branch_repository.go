package repository

import (
	"context"
	"errors"
	"fmt"

	"ai-baas/backend/conversation/models"
	apperrors "ai-baas/backend/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BranchRepository interface {
	// Create names the branch "Branch N" when Name is empty and makes it
	// active only when it is the conversation's first branch.
	Create(ctx context.Context, branch *models.Branch) error
	GetByID(ctx context.Context, id uint) (*models.Branch, error)
	ListByConversation(ctx context.Context, conversationID uint) ([]models.Branch, error)
	// GetActive returns nil without error when no branch is active
	GetActive(ctx context.Context, conversationID uint) (*models.Branch, error)
	// Activate makes branchID the only active branch of its conversation
	Activate(ctx context.Context, conversationID, branchID uint) (*models.Branch, error)
	Rename(ctx context.Context, id uint, name string) (*models.Branch, error)
	// Delete removes the branch and detaches its messages
	Delete(ctx context.Context, id uint) error
}

type GormBranchRepository struct {
	db *gorm.DB
}

func NewGormBranchRepository(db *gorm.DB) *GormBranchRepository {
	return &GormBranchRepository{db: db}
}

// lockConversation serialises branch changes per conversation
func lockConversation(tx *gorm.DB, conversationID uint) error {
	var conv models.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, conversationID).Error
	return notFound(err, "conversation %d not found", conversationID)
}

func (r *GormBranchRepository) Create(ctx context.Context, branch *models.Branch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, branch.ConversationID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Branch{}).Where("conversation_id = ?", branch.ConversationID).Count(&count).Error; err != nil {
			return fmt.Errorf("count branches: %w", err)
		}

		if branch.Name == "" {
			branch.Name = fmt.Sprintf("Branch %d", count+1)
		}
		branch.IsActive = count == 0

		return tx.Create(branch).Error
	})
}

func (r *GormBranchRepository) GetByID(ctx context.Context, id uint) (*models.Branch, error) {
	var branch models.Branch
	if err := r.db.WithContext(ctx).First(&branch, id).Error; err != nil {
		return nil, notFound(err, "branch %d not found", id)
	}
	return &branch, nil
}

func (r *GormBranchRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.Branch, error) {
	var branches []models.Branch
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&branches).Error
	return branches, err
}

func (r *GormBranchRepository) GetActive(ctx context.Context, conversationID uint) (*models.Branch, error) {
	var branch models.Branch
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		First(&branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *GormBranchRepository) Activate(ctx context.Context, conversationID, branchID uint) (*models.Branch, error) {
	var branch models.Branch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID); err != nil {
			return err
		}

		if err := tx.Where("id = ? AND conversation_id = ?", branchID, conversationID).First(&branch).Error; err != nil {
			return notFound(err, "branch %d not found", branchID)
		}

		if err := tx.Model(&models.Branch{}).
			Where("conversation_id = ? AND id <> ?", conversationID, branchID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate branches: %w", err)
		}

		if err := tx.Model(&branch).Update("is_active", true).Error; err != nil {
			return fmt.Errorf("activate branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	branch.IsActive = true
	return &branch, nil
}

func (r *GormBranchRepository) Rename(ctx context.Context, id uint, name string) (*models.Branch, error) {
	branch, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(branch).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("rename branch: %w", err)
	}
	branch.Name = name
	return branch, nil
}

func (r *GormBranchRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Branch{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete branch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("branch %d not found", id)
		}
		return tx.Model(&models.Message{}).
			Where("branch_id = ?", id).
			Update("branch_id", nil).Error
	})
}
