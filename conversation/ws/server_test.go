package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/models"
	"ai-baas/backend/conversation/repository"
	"ai-baas/backend/conversation/service"
	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/middleware"
	pkgws "ai-baas/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type wordCounter struct{}

func (wordCounter) CountTokens(messages []ai.ChatMessage, _ string) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (wordCounter) CountText(text, _ string) (int, error) { return len(strings.Fields(text)), nil }

func (wordCounter) ModelLimits(string) (ai.ModelLimits, error) {
	return ai.ModelLimits{MaxInputTokens: 1000}, nil
}

type scriptedStream struct{}

func (scriptedStream) Complete(context.Context, ai.CompletionRequest) (*ai.Completion, error) {
	return &ai.Completion{Content: "unused"}, nil
}

func (scriptedStream) Stream(context.Context, ai.CompletionRequest) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent, 3)
	ch <- ai.StreamEvent{Fragment: "Hello "}
	ch <- ai.StreamEvent{Fragment: "world"}
	ch <- ai.StreamEvent{Done: true, PromptTokens: 2, CompletionTokens: 2}
	close(ch)
	return ch, nil
}

// heldStream never produces output; each turn waits until it is cancelled
type heldStream struct {
	started chan struct{}
}

func (heldStream) Complete(context.Context, ai.CompletionRequest) (*ai.Completion, error) {
	return &ai.Completion{Content: "unused"}, nil
}

func (h heldStream) Stream(ctx context.Context, _ ai.CompletionRequest) (<-chan ai.StreamEvent, error) {
	h.started <- struct{}{}
	ch := make(chan ai.StreamEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func setup(t *testing.T) (*httptest.Server, *service.ConversationService) {
	t.Helper()
	return setupWith(t, scriptedStream{})
}

func setupWith(t *testing.T, completer ai.Completer) (*httptest.Server, *service.ConversationService) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	log := logger.Discard()
	messages := repository.NewGormMessageRepository(db)
	configs := repository.NewGormConfigRepository(db)
	defaults := service.EffectiveConfig{Model: "test", RAGResults: 3}
	threads := service.NewThreadResolver(messages)
	ledger := service.NewTokenLedger(messages, nil, log)
	convs := service.NewConversationService(repository.NewGormConversationRepository(db), messages, configs, ledger, defaults)

	chat := service.NewChatService(service.ChatDeps{
		Conversations: convs,
		Messages:      messages,
		Configs:       configs,
		Branches:      service.NewBranchManager(repository.NewGormBranchRepository(db), messages, threads, log),
		Threads:       threads,
		Assembler:     service.NewContextAssembler(wordCounter{}, 0.75, 1000, nil, log),
		Ledger:        ledger,
		Completer:     completer,
		Estimator:     wordCounter{},
		Defaults:      defaults,
		Logger:        log,
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.GET("/ws/chat", middleware.CallerIdentity(), NewChatSocket(chat).Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, convs
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	header := http.Header{}
	header.Set(middleware.UserIDHeader, user)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestChatSocketStreamsTurn(t *testing.T) {
	srv, convs := setup(t)
	conv, err := convs.Create(context.Background(), 1, "")
	require.NoError(t, err)

	conn := dial(t, srv, "1")
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":            pkgws.TypeChat,
		"conversation_id": conv.ID,
		"content":         "hi",
	}))

	var fragments []string
	for {
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		if ev["type"] == pkgws.TypeFragment {
			fragments = append(fragments, ev["content"].(string))
			continue
		}
		require.Equal(t, pkgws.TypeDone, ev["type"], ev)
		data := ev["data"].(map[string]any)
		assistant := data["assistant_message"].(map[string]any)
		assert.Equal(t, "Hello world", assistant["content"])
		assert.Equal(t, "completed", data["stream_state"])
		break
	}
	assert.Equal(t, []string{"Hello ", "world"}, fragments)
}

func TestChatSocketReportsErrors(t *testing.T) {
	srv, _ := setup(t)
	conn := dial(t, srv, "1")

	require.NoError(t, conn.WriteJSON(map[string]any{"conversation_id": 999, "content": "hi"}))
	var ev pkgws.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, pkgws.TypeError, ev.Type)
	assert.Equal(t, errors.CodeNotFound, ev.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, errors.CodeBadRequest, ev.Code)
}

func TestChatSocketRequiresIdentity(t *testing.T) {
	srv, _ := setup(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatSocketRejectsTurnsBeyondQueueAndStillCancels(t *testing.T) {
	held := heldStream{started: make(chan struct{}, 2*maxQueuedTurns)}
	srv, convs := setupWith(t, held)
	conv, err := convs.Create(context.Background(), 1, "")
	require.NoError(t, err)

	conn := dial(t, srv, "1")
	chat := map[string]any{"type": pkgws.TypeChat, "conversation_id": conv.ID, "content": "hi"}

	require.NoError(t, conn.WriteJSON(chat))
	select {
	case <-held.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never started")
	}

	for i := 0; i < maxQueuedTurns+1; i++ {
		require.NoError(t, conn.WriteJSON(chat))
	}

	var ev pkgws.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, pkgws.TypeError, ev.Type)
	assert.Equal(t, errors.CodeRateLimited, ev.Code)

	// the reader is not stuck behind the full queue
	require.NoError(t, conn.WriteJSON(map[string]any{"type": pkgws.TypeCancel}))
	var done map[string]any
	require.NoError(t, conn.ReadJSON(&done))
	require.Equal(t, pkgws.TypeDone, done["type"], done)
	assert.Equal(t, "cancelled", done["data"].(map[string]any)["stream_state"])

	select {
	case <-held.started:
	case <-time.After(5 * time.Second):
		t.Fatal("queued turn never started after cancel")
	}
}
