package service

import (
	"context"
	"strings"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	retrievalmodels "ai-baas/backend/retrieval/models"
	retrieval "ai-baas/backend/retrieval/service"
	"ai-baas/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ai-baas/backend/conversation")

// DocumentRetriever finds a user's document chunks relevant to a query
type DocumentRetriever interface {
	Query(ctx context.Context, text string, userID uint, limit int) ([]retrievalmodels.SearchResult, error)
}

// ChatRequest is one user turn
type ChatRequest struct {
	ConversationID uint   `json:"conversation_id" binding:"required"`
	Content        string `json:"content" binding:"required"`
	// ParentMessageID replies to a specific node instead of the active branch tip
	ParentMessageID *uint `json:"parent_message_id,omitempty"`
	Stream          bool  `json:"stream"`
	RequestOverrides
}

// ChatResponse is the persisted outcome of a turn
type ChatResponse struct {
	UserMessage      *models.Message                `json:"user_message,omitempty"`
	AssistantMessage *models.Message                `json:"assistant_message,omitempty"`
	Branch           *models.Branch                 `json:"branch,omitempty"`
	Sources          []retrievalmodels.SearchResult `json:"sources,omitempty"`
	ContextTokens    int                            `json:"context_tokens"`
	DroppedMessages  int                            `json:"dropped_messages"`
	// StreamState is set for streamed turns
	StreamState ai.StreamState `json:"stream_state,omitempty"`
}

// ChatService runs a turn end to end: thread, retrieval, assembly, model
// call, persistence and usage.
type ChatService struct {
	conversations *ConversationService
	messages      repository.MessageRepository
	configs       repository.ConfigRepository
	branches      *BranchManager
	threads       *ThreadResolver
	assembler     *ContextAssembler
	ledger        *TokenLedger
	completer     ai.Completer
	estimator     ai.TokenEstimator
	retriever     DocumentRetriever
	defaults      EffectiveConfig
	metrics       *observability.Metrics
	log           *logger.Logger
}

// ChatDeps groups ChatService collaborators. Retriever may be nil to disable retrieval.
type ChatDeps struct {
	Conversations *ConversationService
	Messages      repository.MessageRepository
	Configs       repository.ConfigRepository
	Branches      *BranchManager
	Threads       *ThreadResolver
	Assembler     *ContextAssembler
	Ledger        *TokenLedger
	Completer     ai.Completer
	Estimator     ai.TokenEstimator
	Retriever     DocumentRetriever
	Defaults      EffectiveConfig
	Metrics       *observability.Metrics
	Logger        *logger.Logger
}

func NewChatService(d ChatDeps) *ChatService {
	return &ChatService{
		conversations: d.Conversations,
		messages:      d.Messages,
		configs:       d.Configs,
		branches:      d.Branches,
		threads:       d.Threads,
		assembler:     d.Assembler,
		ledger:        d.Ledger,
		completer:     d.Completer,
		estimator:     d.Estimator,
		retriever:     d.Retriever,
		defaults:      d.Defaults,
		metrics:       d.Metrics,
		log:           d.Logger.Module("chat"),
	}
}

// turn is a prepared model call
type turn struct {
	conv     *models.Conversation
	cfg      EffectiveConfig
	userMsg  *models.Message
	parentID *uint
	branchID *uint
	assembly Assembly
	sources  []retrievalmodels.SearchResult
}

func (s *ChatService) effectiveConfig(ctx context.Context, conversationID uint, req RequestOverrides) (EffectiveConfig, error) {
	if err := validateOverrides(req); err != nil {
		return EffectiveConfig{}, err
	}
	saved, err := s.configs.GetByConversation(ctx, conversationID)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return Resolve(req, *saved, s.defaults), nil
}

// tip picks the message a new user message replies to
func (s *ChatService) tip(ctx context.Context, conversationID uint, branch *models.Branch) (*models.Message, error) {
	if branch != nil {
		m, err := s.messages.LatestOnBranch(ctx, branch.ID)
		if err != nil || m != nil {
			return m, err
		}
	}
	return s.messages.LatestInConversation(ctx, conversationID)
}

func (s *ChatService) prepare(ctx context.Context, userID uint, req ChatRequest) (*turn, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.InvalidConfig("content must not be empty")
	}

	conv, err := s.conversations.Authorize(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.effectiveConfig(ctx, conv.ID, req.RequestOverrides)
	if err != nil {
		return nil, err
	}

	active, err := s.branches.ActiveBranch(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	t := &turn{conv: conv, cfg: cfg}
	if active != nil {
		t.branchID = &active.ID
	}

	if req.ParentMessageID != nil {
		parent, err := s.messages.GetByID(ctx, *req.ParentMessageID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.InvalidParent("Invalid parent message")
			}
			return nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, apperrors.InvalidParent("Invalid parent message")
		}
		t.parentID = &parent.ID
	} else {
		parent, err := s.tip(ctx, conv.ID, active)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			t.parentID = &parent.ID
		}
	}

	t.userMsg = &models.Message{
		ConversationID:  conv.ID,
		BranchID:        t.branchID,
		ParentMessageID: t.parentID,
		Role:            ai.RoleUser,
		Content:         req.Content,
	}
	if err := s.messages.Create(ctx, t.userMsg); err != nil {
		return nil, err
	}

	thread, err := s.threads.ResolveThread(ctx, t.userMsg.ID)
	if err != nil {
		return nil, err
	}

	systemPrompt := cfg.SystemPrompt
	if cfg.UseRAG && s.retriever != nil {
		t.sources = s.retrieve(ctx, userID, req.Content, cfg.RAGResults)
		systemPrompt = retrieval.AugmentSystemPrompt(systemPrompt, t.sources)
	}

	t.assembly, err = s.assembler.Assemble(ctx, ToChatMessages(thread), systemPrompt, cfg.Model)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// retrieve degrades to no context when the index is unavailable
func (s *ChatService) retrieve(ctx context.Context, userID uint, query string, limit int) []retrievalmodels.SearchResult {
	results, err := s.retriever.Query(ctx, query, userID, limit)
	if err != nil {
		s.log.LogError(err, "document retrieval failed, continuing without context", "user_id", userID)
		return nil
	}
	return results
}

func (s *ChatService) completionRequest(t *turn) ai.CompletionRequest {
	return ai.CompletionRequest{
		Model:       t.cfg.Model,
		Messages:    t.assembly.Messages,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}
}

// usage prefers provider numbers and falls back to local estimates
func (s *ChatService) usage(t *turn, content string, prompt, completion int) (int, int) {
	if prompt > 0 || completion > 0 {
		return prompt, completion
	}
	estimated, err := s.estimator.CountText(content, t.cfg.Model)
	if err != nil {
		s.log.LogError(err, "completion token estimate failed", "model", t.cfg.Model)
		estimated = 0
	}
	return t.assembly.UsedTokens, estimated
}

// commit persists the assistant reply and records its usage once
func (s *ChatService) commit(ctx context.Context, t *turn, parentID uint, content string, prompt, completion int) (*models.Message, error) {
	reply := &models.Message{
		ConversationID:  t.conv.ID,
		BranchID:        t.branchID,
		ParentMessageID: &parentID,
		Role:            ai.RoleAssistant,
		Content:         content,
	}
	if err := s.messages.Create(ctx, reply); err != nil {
		return nil, err
	}

	prompt, completion = s.usage(t, content, prompt, completion)
	recorded, err := s.ledger.Record(ctx, reply.ID, prompt, completion)
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

func (s *ChatService) response(t *turn, reply *models.Message) *ChatResponse {
	return &ChatResponse{
		UserMessage:      t.userMsg,
		AssistantMessage: reply,
		Sources:          t.sources,
		ContextTokens:    t.assembly.UsedTokens,
		DroppedMessages:  t.assembly.Dropped,
	}
}

func startTurnSpan(ctx context.Context, name string, userID, conversationID uint) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("conversation.id", int64(conversationID)),
	))
}

// Send runs a blocking turn
func (s *ChatService) Send(ctx context.Context, userID uint, req ChatRequest) (*ChatResponse, error) {
	ctx, span := startTurnSpan(ctx, "chat.send", userID, req.ConversationID)
	defer span.End()

	t, err := s.prepare(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	completion, err := s.completer.Complete(ctx, s.completionRequest(t))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reply, err := s.commit(ctx, t, t.userMsg.ID, completion.Content, completion.PromptTokens, completion.CompletionTokens)
	if err != nil {
		return nil, err
	}

	s.log.WithConversationID(t.conv.ID).Info("chat turn completed",
		"user_message_id", t.userMsg.ID,
		"assistant_message_id", reply.ID,
		"total_tokens", reply.TotalTokens,
	)
	return s.response(t, reply), nil
}

// SendStream runs a streamed turn, passing fragments to onFragment as they
// arrive. Exactly one terminal action follows the stream: a completed reply
// is persisted with usage, a cancelled one is persisted best effort when any
// content arrived, and a failed one persists nothing.
func (s *ChatService) SendStream(ctx context.Context, userID uint, req ChatRequest, onFragment func(string) error) (*ChatResponse, error) {
	ctx, span := startTurnSpan(ctx, "chat.stream", userID, req.ConversationID)
	defer span.End()

	t, err := s.prepare(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.completer.Stream(streamCtx, s.completionRequest(t))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result := ai.Accumulate(streamCtx, events, onFragment)
	cancel()

	s.metrics.RecordStream(ctx, string(result.State))
	log := s.log.WithConversationID(t.conv.ID)

	// the request context may already be gone; the terminal write must not be
	persistCtx := context.WithoutCancel(ctx)

	switch result.State {
	case ai.StreamCompleted:
		reply, err := s.commit(persistCtx, t, t.userMsg.ID, result.Content, result.PromptTokens, result.CompletionTokens)
		if err != nil {
			return nil, err
		}
		resp := s.response(t, reply)
		resp.StreamState = result.State
		return resp, nil

	case ai.StreamCancelled:
		resp := s.response(t, nil)
		resp.StreamState = result.State
		if strings.TrimSpace(result.Content) == "" {
			log.Info("stream cancelled before any content")
			return resp, nil
		}
		reply, err := s.commit(persistCtx, t, t.userMsg.ID, result.Content, 0, 0)
		if err != nil {
			log.LogError(err, "failed to persist partial reply")
			return resp, nil
		}
		log.Info("stream cancelled, partial reply saved", "assistant_message_id", reply.ID)
		resp.AssistantMessage = reply
		return resp, nil

	default:
		span.RecordError(result.Err)
		log.LogError(result.Err, "stream failed", "user_message_id", t.userMsg.ID)
		if apperrors.Is(result.Err, apperrors.ErrUpstream) {
			return nil, result.Err
		}
		return nil, apperrors.Upstream("completion", result.Err)
	}
}

// Regenerate answers parentMessageID again on a new branch, which becomes active
func (s *ChatService) Regenerate(ctx context.Context, userID, conversationID, parentMessageID uint, req RequestOverrides) (*ChatResponse, error) {
	ctx, span := startTurnSpan(ctx, "chat.regenerate", userID, conversationID)
	defer span.End()

	conv, err := s.conversations.Authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.effectiveConfig(ctx, conv.ID, req)
	if err != nil {
		return nil, err
	}

	branch, thread, err := s.branches.RegenerateFrom(ctx, conv.ID, parentMessageID)
	if err != nil {
		return nil, err
	}
	if branch, err = s.branches.SwitchActive(ctx, branch.ID); err != nil {
		return nil, err
	}

	t := &turn{conv: conv, cfg: cfg, branchID: &branch.ID}
	t.assembly, err = s.assembler.Assemble(ctx, ToChatMessages(thread), cfg.SystemPrompt, cfg.Model)
	if err != nil {
		return nil, err
	}

	completion, err := s.completer.Complete(ctx, s.completionRequest(t))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reply, err := s.commit(ctx, t, parentMessageID, completion.Content, completion.PromptTokens, completion.CompletionTokens)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		AssistantMessage: reply,
		Branch:           branch,
		ContextTokens:    t.assembly.UsedTokens,
		DroppedMessages:  t.assembly.Dropped,
	}, nil
}

// PreviewContext assembles the prompt that would be sent for a leaf message
// without calling the model. A nil leaf uses the active branch tip.
func (s *ChatService) PreviewContext(ctx context.Context, userID, conversationID uint, leafID *uint, req RequestOverrides) (Assembly, error) {
	conv, err := s.conversations.Authorize(ctx, userID, conversationID)
	if err != nil {
		return Assembly{}, err
	}
	cfg, err := s.effectiveConfig(ctx, conv.ID, req)
	if err != nil {
		return Assembly{}, err
	}

	var leaf uint
	if leafID != nil {
		m, err := s.messages.GetByID(ctx, *leafID)
		if err != nil || m.ConversationID != conv.ID {
			return Assembly{}, apperrors.NotFound("message %d not found", *leafID)
		}
		leaf = m.ID
	} else {
		active, err := s.branches.ActiveBranch(ctx, conv.ID)
		if err != nil {
			return Assembly{}, err
		}
		m, err := s.tip(ctx, conv.ID, active)
		if err != nil {
			return Assembly{}, err
		}
		if m == nil {
			return s.assembler.Assemble(ctx, nil, cfg.SystemPrompt, cfg.Model)
		}
		leaf = m.ID
	}

	thread, err := s.threads.ResolveThread(ctx, leaf)
	if err != nil {
		return Assembly{}, err
	}
	return s.assembler.Assemble(ctx, ToChatMessages(thread), cfg.SystemPrompt, cfg.Model)
}
