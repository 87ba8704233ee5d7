package service

import (
	"context"
	"fmt"
	"strings"

	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
)

// BranchManager creates and switches alternative continuations of a conversation
type BranchManager struct {
	branches repository.BranchRepository
	messages repository.MessageRepository
	threads  *ThreadResolver
	log      *logger.Logger
}

func NewBranchManager(branches repository.BranchRepository, messages repository.MessageRepository, threads *ThreadResolver, log *logger.Logger) *BranchManager {
	return &BranchManager{
		branches: branches,
		messages: messages,
		threads:  threads,
		log:      log.Module("branches"),
	}
}

// CreateBranch adds a branch, inactive unless it is the first of the conversation
func (m *BranchManager) CreateBranch(ctx context.Context, conversationID uint, name *string) (*models.Branch, error) {
	branch := &models.Branch{ConversationID: conversationID}
	if name != nil {
		branch.Name = strings.TrimSpace(*name)
	}
	if err := m.branches.Create(ctx, branch); err != nil {
		return nil, err
	}
	m.log.Info("branch created", "conversation_id", conversationID, "branch_id", branch.ID, "active", branch.IsActive)
	return branch, nil
}

// GetBranch returns a branch by ID
func (m *BranchManager) GetBranch(ctx context.Context, branchID uint) (*models.Branch, error) {
	return m.branches.GetByID(ctx, branchID)
}

// SwitchActive makes branchID the single active branch of its conversation
func (m *BranchManager) SwitchActive(ctx context.Context, branchID uint) (*models.Branch, error) {
	branch, err := m.branches.GetByID(ctx, branchID)
	if err != nil {
		return nil, err
	}
	active, err := m.branches.Activate(ctx, branch.ConversationID, branchID)
	if err != nil {
		return nil, err
	}
	m.log.Info("branch activated", "conversation_id", branch.ConversationID, "branch_id", branchID)
	return active, nil
}

// RegenerateFrom opens a new branch whose first message will reply to
// parentMessageID. It returns the branch and the thread up to and including
// the parent, which the caller sends to the model.
func (m *BranchManager) RegenerateFrom(ctx context.Context, conversationID, parentMessageID uint) (*models.Branch, []models.Message, error) {
	parent, err := m.messages.GetByID(ctx, parentMessageID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.InvalidParent("Invalid parent message")
		}
		return nil, nil, err
	}
	if parent.ConversationID != conversationID {
		return nil, nil, apperrors.InvalidParent("Invalid parent message")
	}

	thread, err := m.threads.ResolveThread(ctx, parentMessageID)
	if err != nil {
		return nil, nil, err
	}

	branch := &models.Branch{
		ConversationID: conversationID,
		Name:           fmt.Sprintf("Branch from message %d", parentMessageID),
	}
	if err := m.branches.Create(ctx, branch); err != nil {
		return nil, nil, err
	}

	m.log.Info("regenerate branch created",
		"conversation_id", conversationID,
		"branch_id", branch.ID,
		"parent_message_id", parentMessageID,
		"thread_length", len(thread),
	)
	return branch, thread, nil
}

func (m *BranchManager) ListBranches(ctx context.Context, conversationID uint) ([]models.Branch, error) {
	return m.branches.ListByConversation(ctx, conversationID)
}

// BranchMessages returns the messages created on a branch in insertion order
func (m *BranchManager) BranchMessages(ctx context.Context, branchID uint) ([]models.Message, error) {
	return m.messages.ListByBranch(ctx, branchID)
}

// ActiveBranch returns nil when the conversation has no active branch
func (m *BranchManager) ActiveBranch(ctx context.Context, conversationID uint) (*models.Branch, error) {
	return m.branches.GetActive(ctx, conversationID)
}

func (m *BranchManager) RenameBranch(ctx context.Context, branchID uint, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.InvalidConfig("branch name must not be empty")
	}
	return m.branches.Rename(ctx, branchID, name)
}

// DeleteBranch removes a branch. Its messages stay in the tree, detached.
// Deleting the active branch leaves the conversation without one.
func (m *BranchManager) DeleteBranch(ctx context.Context, branchID uint) error {
	if err := m.branches.Delete(ctx, branchID); err != nil {
		return err
	}
	m.log.Info("branch deleted", "branch_id", branchID)
	return nil
}
