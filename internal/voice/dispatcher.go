package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/dialogue"
)

// Reply is a dispatched turn's answer ready for synthesis.
type Reply struct {
	Text   string
	Source string // "backend" or "handler"
}

// TurnDispatcher forwards one committed utterance to the dialogue layer.
// A caller-supplied handler takes precedence over the backend, which lets a
// host application drive themed conversations through the same pipeline.
// Cancelling ctx abandons the in-flight request; no partial reply surfaces.
type TurnDispatcher struct {
	backend dialogue.Backend
	handler dialogue.TurnHandler

	mu        sync.Mutex
	sessionID string
}

func NewTurnDispatcher(backend dialogue.Backend, handler dialogue.TurnHandler, sessionID string) *TurnDispatcher {
	return &TurnDispatcher{backend: backend, handler: handler, sessionID: sessionID}
}

func (d *TurnDispatcher) Dispatch(ctx context.Context, transcript string) (Reply, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Reply{}, fmt.Errorf("dispatch: empty transcript")
	}

	if d.handler != nil {
		text, err := d.handler(ctx, transcript)
		if err != nil {
			return Reply{}, fmt.Errorf("turn handler: %w", err)
		}
		return Reply{Text: text, Source: "handler"}, nil
	}
	if d.backend == nil {
		return Reply{}, fmt.Errorf("dispatch: no dialogue backend configured")
	}

	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()

	reply, err := d.backend.SendTurn(ctx, dialogue.TurnRequest{
		Text:      transcript,
		SessionID: sessionID,
		VoiceMode: true,
	})
	if err != nil {
		return Reply{}, err
	}

	// The backend may assign the conversation ID on the first turn.
	if reply.SessionID != "" {
		d.mu.Lock()
		d.sessionID = reply.SessionID
		d.mu.Unlock()
	}
	return Reply{Text: reply.ReplyText, Source: "backend"}, nil
}

// SessionID returns the dialogue conversation ID after the first turn.
func (d *TurnDispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}
