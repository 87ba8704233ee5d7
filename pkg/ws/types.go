package ws

import (
	"ai-baas/backend/pkg/errors"
)

// Message types exchanged on the chat socket
const (
	TypeChat     = "chat"
	TypeCancel   = "cancel"
	TypeFragment = "fragment"
	TypeDone     = "done"
	TypeError    = "error"
)

// ServerEvent is one frame sent to the client
type ServerEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func Fragment(content string) ServerEvent {
	return ServerEvent{Type: TypeFragment, Content: content}
}

func Done(data any) ServerEvent {
	return ServerEvent{Type: TypeDone, Data: data}
}

// Error renders err with the same code and message as the HTTP envelope
func Error(err error) ServerEvent {
	appErr := errors.FromError(err)
	return ServerEvent{Type: TypeError, Code: appErr.Code, Message: appErr.Message}
}
