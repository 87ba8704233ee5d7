package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	"ai-baas/backend/pkg/logger"
	retrievalmodels "ai-baas/backend/retrieval/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func ptr[T any](v T) *T { return &v }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// wordEstimator prices every message at one token per word
type wordEstimator struct {
	limits map[string]int
	err    error
}

func words(s string) int { return len(strings.Fields(s)) }

func (w wordEstimator) CountTokens(messages []ai.ChatMessage, _ string) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n := 0
	for _, m := range messages {
		n += words(m.Content)
	}
	return n, nil
}

func (w wordEstimator) CountText(text, _ string) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return words(text), nil
}

func (w wordEstimator) ModelLimits(model string) (ai.ModelLimits, error) {
	if n, ok := w.limits[model]; ok {
		return ai.ModelLimits{MaxInputTokens: n}, nil
	}
	return ai.ModelLimits{}, ai.ErrUnknownModel
}

// fakeCompleter answers with a fixed reply and replays scripted stream events
type fakeCompleter struct {
	mu         sync.Mutex
	reply      string
	prompt     int
	completion int
	err        error
	events     []ai.StreamEvent
	requests   []ai.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Completion{Content: f.reply, PromptTokens: f.prompt, CompletionTokens: f.completion}, nil
}

func (f *fakeCompleter) Stream(_ context.Context, req ai.CompletionRequest) (<-chan ai.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan ai.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeCompleter) lastRequest() ai.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeRetriever struct {
	results []retrievalmodels.SearchResult
	err     error
	calls   int
}

func (f *fakeRetriever) Query(_ context.Context, _ string, _ uint, limit int) ([]retrievalmodels.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

var errBoom = errors.New("boom")

const testModel = "test-model"

type chatEnv struct {
	db            *gorm.DB
	messages      repository.MessageRepository
	conversations *ConversationService
	branches      *BranchManager
	threads       *ThreadResolver
	ledger        *TokenLedger
	chat          *ChatService
	completer     *fakeCompleter
	retriever     *fakeRetriever
}

func newChatEnv(t *testing.T) *chatEnv {
	t.Helper()
	db := newTestDB(t)
	log := logger.Discard()

	messages := repository.NewGormMessageRepository(db)
	configs := repository.NewGormConfigRepository(db)
	branches := repository.NewGormBranchRepository(db)
	convs := repository.NewGormConversationRepository(db)

	defaults := EffectiveConfig{
		Model:       testModel,
		Temperature: 0.7,
		MaxTokens:   256,
		RAGResults:  3,
	}
	estimator := wordEstimator{limits: map[string]int{testModel: 1000}}

	threads := NewThreadResolver(messages)
	ledger := NewTokenLedger(messages, nil, log)
	conversations := NewConversationService(convs, messages, configs, ledger, defaults)
	manager := NewBranchManager(branches, messages, threads, log)
	completer := &fakeCompleter{reply: "Hi there", prompt: 11, completion: 4}
	retriever := &fakeRetriever{}

	chat := NewChatService(ChatDeps{
		Conversations: conversations,
		Messages:      messages,
		Configs:       configs,
		Branches:      manager,
		Threads:       threads,
		Assembler:     NewContextAssembler(estimator, DefaultReservationRatio, DefaultMaxInputTokens, nil, log),
		Ledger:        ledger,
		Completer:     completer,
		Estimator:     estimator,
		Retriever:     retriever,
		Defaults:      defaults,
		Logger:        log,
	})

	return &chatEnv{
		db:            db,
		messages:      messages,
		conversations: conversations,
		branches:      manager,
		threads:       threads,
		ledger:        ledger,
		chat:          chat,
		completer:     completer,
		retriever:     retriever,
	}
}

func (e *chatEnv) conversation(t *testing.T, userID uint) *models.Conversation {
	t.Helper()
	conv, err := e.conversations.Create(context.Background(), userID, "")
	require.NoError(t, err)
	return conv
}

// addMessage stores a message directly, bypassing the chat flow
func (e *chatEnv) addMessage(t *testing.T, conversationID uint, parent *models.Message, role, content string) *models.Message {
	t.Helper()
	m := &models.Message{ConversationID: conversationID, Role: role, Content: content}
	if parent != nil {
		m.ParentMessageID = &parent.ID
	}
	require.NoError(t, e.messages.Create(context.Background(), m))
	return m
}

func contents(msgs []ai.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
