package service

import (
	"context"

	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	apperrors "ai-baas/backend/pkg/errors"
)

// WalkAncestry returns the chain from the root down to id, oldest first.
// nodes is the arena of one conversation keyed by message ID.
func WalkAncestry(nodes map[uint]models.Message, id uint) ([]models.Message, error) {
	start, ok := nodes[id]
	if !ok {
		return nil, apperrors.NotFound("message %d not found", id)
	}

	seen := map[uint]struct{}{id: {}}
	chain := []models.Message{start}
	current := start

	for current.ParentMessageID != nil {
		parentID := *current.ParentMessageID
		if _, loop := seen[parentID]; loop {
			return nil, apperrors.Integrity("cycle in ancestry of message %d at message %d", id, parentID)
		}
		parent, ok := nodes[parentID]
		if !ok {
			return nil, apperrors.Integrity("message %d references parent %d outside conversation %d",
				current.ID, parentID, start.ConversationID)
		}
		seen[parentID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ThreadResolver rebuilds the linear history ending at a message
type ThreadResolver struct {
	messages repository.MessageRepository
}

func NewThreadResolver(messages repository.MessageRepository) *ThreadResolver {
	return &ThreadResolver{messages: messages}
}

// ResolveThread loads the message's conversation into an arena and walks
// the parent chain by key.
func (r *ThreadResolver) ResolveThread(ctx context.Context, messageID uint) ([]models.Message, error) {
	target, err := r.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	all, err := r.messages.ListByConversation(ctx, target.ConversationID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[uint]models.Message, len(all))
	for _, m := range all {
		nodes[m.ID] = m
	}
	// the target may be newer than the listing snapshot
	nodes[target.ID] = *target

	return WalkAncestry(nodes, messageID)
}
