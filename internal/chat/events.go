// Package chat orchestrates one conversational turn: correct the learner's
// input, stream the mentor's reply, and persist both sides durably before
// anything becomes visible to the caller.
package chat

import (
	"encoding/json"

	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// Stream event types, discriminated by the "type" field on the wire.
const (
	EventCorrection = "correction"
	EventChunk      = "chunk"
	EventDone       = "done"
)

// StreamEvent is one SSE payload. A turn emits exactly one correction
// first, zero or more chunks, and exactly one done last.
type StreamEvent struct {
	Type string `json:"type"`

	// correction
	MessageID  string                  `json:"message_id,omitempty"`
	Correction *types.CorrectionResult `json:"correction,omitempty"`

	// chunk
	Text string `json:"text,omitempty"`

	// done
	FinalText string `json:"final_text,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

// CorrectionEvent builds the first event of a turn.
func CorrectionEvent(messageID string, c types.CorrectionResult) StreamEvent {
	return StreamEvent{Type: EventCorrection, MessageID: messageID, Correction: &c}
}

// ChunkEvent builds one reply fragment event.
func ChunkEvent(text string) StreamEvent {
	return StreamEvent{Type: EventChunk, Text: text}
}

// DoneEvent closes the turn with the persisted assistant message.
func DoneEvent(messageID, finalText, provider, model string) StreamEvent {
	return StreamEvent{
		Type:      EventDone,
		MessageID: messageID,
		FinalText: finalText,
		Provider:  provider,
		Model:     model,
	}
}

// Marshal renders the event payload for the `data:` line.
func (e StreamEvent) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
