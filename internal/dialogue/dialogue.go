// Package dialogue talks to the conversation backend that produces assistant
// replies. The orchestrator is the only component that knows this call
// exists; storing the resulting conversation is the backend's concern.
package dialogue

import "context"

// TurnRequest carries one committed user utterance to the backend. The
// session ID preserves multi-turn context server-side; VoiceMode tells the
// backend to answer in a form suitable for being spoken aloud.
type TurnRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	VoiceMode bool   `json:"voice_mode"`
}

// TurnReply is the backend's answer. SessionID echoes (or assigns) the
// server-side conversation identity.
type TurnReply struct {
	ReplyText string `json:"reply_text"`
	SessionID string `json:"session_id"`
}

// Backend accepts an utterance and returns a reply.
type Backend interface {
	SendTurn(ctx context.Context, req TurnRequest) (TurnReply, error)
}

// TurnHandler lets a host application inject its own dialogue logic while
// reusing the capture/transcribe/speak pipeline.
type TurnHandler func(ctx context.Context, transcript string) (string, error)

// HandlerBackend adapts a TurnHandler to the Backend interface.
type HandlerBackend struct {
	Handler TurnHandler
}

func (h HandlerBackend) SendTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	text, err := h.Handler(ctx, req.Text)
	if err != nil {
		return TurnReply{}, err
	}
	return TurnReply{ReplyText: text, SessionID: req.SessionID}, nil
}
