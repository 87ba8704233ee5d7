package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ai-baas/backend/conversation/service"
	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/middleware"
	pkgws "ai-baas/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// maxQueuedTurns bounds the turns waiting behind the running one
	maxQueuedTurns = 8
)

// clientMessage is a chat turn or a cancel request for the running turn
type clientMessage struct {
	Type string `json:"type"`
	service.ChatRequest
}

// ChatSocket streams chat turns over a websocket. Turns on one connection
// run one at a time; a "cancel" message stops the running turn.
type ChatSocket struct {
	chat     *service.ChatService
	upgrader websocket.Upgrader
}

func NewChatSocket(chat *service.ChatService) *ChatSocket {
	return &ChatSocket{
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// session is one connection. The reader and the turn loop both write to
// conn, so writes go through writeMu.
type session struct {
	conn    *websocket.Conn
	log     *logger.Logger
	writeMu sync.Mutex

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

func (s *session) setCancel(f context.CancelFunc) {
	s.mu.Lock()
	s.cancelTurn = f
	s.mu.Unlock()
}

func (s *session) stop() {
	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.mu.Unlock()
}

func (s *session) write(ev pkgws.ServerEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(ev); err != nil {
		s.log.Debug("WebSocket write failed", "type", ev.Type, "error", err.Error())
		return err
	}
	return nil
}

func (s *ChatSocket) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	userID := middleware.CallerID(c)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess := &session{conn: conn, log: log}
	incoming := make(chan clientMessage, maxQueuedTurns)
	go func() {
		defer close(incoming)
		// a closed socket cancels whatever is streaming and everything queued
		defer cancel()
		defer sess.stop()
		for {
			var m clientMessage
			if err := conn.ReadJSON(&m); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("WebSocket read error", "error", err.Error())
				}
				return
			}
			if m.Type == pkgws.TypeCancel {
				sess.stop()
				continue
			}
			select {
			case incoming <- m:
			default:
				log.Warn("WebSocket turn queue full, rejecting turn", "queued", maxQueuedTurns)
				_ = sess.write(pkgws.Error(errors.NewTooManyRequestsError(errors.CodeRateLimited, "too many queued turns on this connection")))
			}
		}
	}()

	for m := range incoming {
		if ctx.Err() != nil {
			continue
		}
		s.turn(ctx, sess, userID, m)
	}
}

func (s *ChatSocket) turn(ctx context.Context, sess *session, userID uint, m clientMessage) {
	if m.Type != "" && m.Type != pkgws.TypeChat {
		_ = sess.write(pkgws.Error(errors.NewBadRequestError(errors.CodeBadRequest, "unknown message type "+m.Type)))
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	sess.setCancel(cancel)
	defer func() {
		sess.setCancel(nil)
		cancel()
	}()

	resp, err := s.chat.SendStream(turnCtx, userID, m.ChatRequest, func(fragment string) error {
		return sess.write(pkgws.Fragment(fragment))
	})
	if err != nil {
		_ = sess.write(pkgws.Error(err))
		return
	}
	_ = sess.write(pkgws.Done(resp))
}
