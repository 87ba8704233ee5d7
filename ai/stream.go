package ai

import (
	"context"
	"errors"
	"strings"
)

// StreamState is the lifecycle of a streamed completion
type StreamState string

const (
	StreamStreaming StreamState = "streaming"
	StreamCompleted StreamState = "completed"
	StreamCancelled StreamState = "cancelled"
	StreamFailed    StreamState = "failed"
)

// ErrStreamTruncated is reported when the event channel closes before a Done marker
var ErrStreamTruncated = errors.New("stream ended without completion marker")

// StreamResult is the terminal outcome of Accumulate
type StreamResult struct {
	State            StreamState
	Content          string
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// Accumulate drains events until a terminal state. onFragment is called for
// every fragment in order; an error from it (a client that went away) cancels
// the stream. Content holds whatever was received, also on cancellation.
func Accumulate(ctx context.Context, events <-chan StreamEvent, onFragment func(string) error) StreamResult {
	var b strings.Builder
	result := func(state StreamState, err error) StreamResult {
		return StreamResult{State: state, Content: b.String(), Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return result(StreamCancelled, ctx.Err())
		case ev, ok := <-events:
			switch {
			case !ok:
				if ctx.Err() != nil {
					return result(StreamCancelled, ctx.Err())
				}
				return result(StreamFailed, ErrStreamTruncated)
			case ev.Err != nil:
				if ctx.Err() != nil || errors.Is(ev.Err, context.Canceled) {
					return result(StreamCancelled, ev.Err)
				}
				return result(StreamFailed, ev.Err)
			case ev.Done:
				r := result(StreamCompleted, nil)
				r.PromptTokens = ev.PromptTokens
				r.CompletionTokens = ev.CompletionTokens
				return r
			default:
				b.WriteString(ev.Fragment)
				if onFragment != nil {
					if err := onFragment(ev.Fragment); err != nil {
						return result(StreamCancelled, err)
					}
				}
			}
		}
	}
}
