package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/pwviptbl/AI-English-Mentor/internal/conversation"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// memMessageStore keeps persisted turns in memory, in append order.
type memMessageStore struct {
	mu       sync.Mutex
	messages []conversation.Message
	failing  bool
}

func (s *memMessageStore) FetchRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	var out []conversation.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMessageStore) AppendMessage(ctx context.Context, m conversation.Message) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return conversation.Message{}, errors.New("store down")
	}
	m.ID = uuid.NewString()
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *memMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memMessageStore) last() conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[len(s.messages)-1]
}

// scriptedProvider streams a fixed chunk script.
type scriptedProvider struct {
	name        string
	chunks      []string
	streamErr   error // delivered after the scripted chunks
	correctErr  error
	released    chan struct{} // when non-nil, blocks chunk delivery until closed
	chunksSent  chan struct{} // when non-nil, closed after the first chunk goes out
	closeOnView sync.Once
}

func (p *scriptedProvider) Name() string      { return p.name }
func (p *scriptedProvider) IsAvailable() bool { return true }

func (p *scriptedProvider) CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error) {
	if p.correctErr != nil {
		return types.CorrectionResult{}, "", p.correctErr
	}
	return types.CorrectionResult{
		CorrectedText: strings.ToUpper(rawText),
		Changed:       true,
		Notes:         "ajustado",
	}, p.name + "-model", nil
}

func (p *scriptedProvider) GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error) {
	return types.ChatResult{Reply: strings.Join(p.chunks, "")}, p.name + "-model", nil
}

func (p *scriptedProvider) StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error) {
	chunkChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)
		for i, c := range p.chunks {
			if p.released != nil && i > 0 {
				<-p.released
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case chunkChan <- c:
				if i == 0 && p.chunksSent != nil {
					p.closeOnView.Do(func() { close(p.chunksSent) })
				}
			case <-ctx.Done():
				return
			}
		}
		if p.streamErr != nil {
			errChan <- p.streamErr
		}
	}()

	return chunkChan, errChan, p.name + "-model", nil
}

func (p *scriptedProvider) AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error) {
	return types.SentenceAnalysis{OriginalEN: sentenceEN}, p.name + "-model", nil
}

func newTurnRequest() TurnRequest {
	return TurnRequest{
		User:         types.User{ID: "u1", FullName: "Ana", Tier: "free"},
		Conversation: conversation.Conversation{ID: "c1", UserID: "u1", Topic: "travel"},
		RawText:      "i has a question",
	}
}

func newOrchestrator(store MessageStore, ps ...*scriptedProvider) *Orchestrator {
	r := router.New(func() string { return ps[0].Name() })
	for _, p := range ps {
		r.Register(p)
	}
	return NewOrchestrator(r, store)
}

func collectEvents(t *testing.T, o *Orchestrator, ctx context.Context, req TurnRequest) ([]StreamEvent, error) {
	t.Helper()
	var events []StreamEvent
	err := o.StreamTurn(ctx, req, func(e StreamEvent) {
		events = append(events, e)
	})
	return events, err
}

func TestStreamTurnEventOrdering(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{name: "fake", chunks: []string{"Hel", "lo ", "there"}})

	events, err := collectEvents(t, o, context.Background(), newTurnRequest())
	if err != nil {
		t.Fatalf("StreamTurn() error = %v", err)
	}

	if len(events) < 3 {
		t.Fatalf("events = %d, want correction + chunks + done", len(events))
	}
	if events[0].Type != EventCorrection {
		t.Fatalf("first event = %s, want correction", events[0].Type)
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("last event = %s, want done", events[len(events)-1].Type)
	}
	for _, e := range events[1 : len(events)-1] {
		if e.Type != EventChunk {
			t.Fatalf("middle event = %s, want chunk", e.Type)
		}
	}
}

func TestStreamTurnChunksConcatenateToFinalText(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{name: "fake", chunks: []string{"I ", "understand ", "you."}})

	events, err := collectEvents(t, o, context.Background(), newTurnRequest())
	if err != nil {
		t.Fatalf("StreamTurn() error = %v", err)
	}

	var concat string
	var done StreamEvent
	for _, e := range events {
		switch e.Type {
		case EventChunk:
			concat += e.Text
		case EventDone:
			done = e
		}
	}
	if concat != "I understand you." {
		t.Fatalf("chunk concat = %q", concat)
	}
	if done.FinalText != concat {
		t.Fatalf("FinalText = %q, want %q", done.FinalText, concat)
	}
	if done.MessageID == "" {
		t.Fatalf("done event missing persisted id")
	}

	// Assistant message must be durable with the same final text.
	last := store.last()
	if last.Role != "assistant" || last.ContentFinal != concat {
		t.Fatalf("persisted assistant turn = %+v", last)
	}
}

func TestStreamTurnPersistsBeforeCorrectionEvent(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{name: "fake", chunks: []string{"ok"}})

	var persistedAtCorrection int
	err := o.StreamTurn(context.Background(), newTurnRequest(), func(e StreamEvent) {
		if e.Type == EventCorrection {
			persistedAtCorrection = store.count()
		}
	})
	if err != nil {
		t.Fatalf("StreamTurn() error = %v", err)
	}
	if persistedAtCorrection != 1 {
		t.Fatalf("messages persisted at correction event = %d, want 1", persistedAtCorrection)
	}
}

func TestStreamTurnPreprocessFailureEmitsNothing(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{name: "fake", correctErr: errors.New("model refused")})

	events, err := collectEvents(t, o, context.Background(), newTurnRequest())
	if err == nil {
		t.Fatalf("StreamTurn() error = nil, want preprocessing failure")
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want none on preprocessing failure", events)
	}
	if store.count() != 0 {
		t.Fatalf("persisted = %d, want 0", store.count())
	}
}

func TestStreamTurnMidStreamFailureFinalizesPartial(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{
		name:      "fake",
		chunks:    []string{"partial ", "reply"},
		streamErr: errors.New("upstream reset"),
	})

	events, err := collectEvents(t, o, context.Background(), newTurnRequest())
	if err != nil {
		t.Fatalf("StreamTurn() error = %v, want graceful finalize", err)
	}

	done := events[len(events)-1]
	if done.Type != EventDone {
		t.Fatalf("last event = %s, want done despite mid-stream failure", done.Type)
	}
	if done.FinalText != "partial reply" {
		t.Fatalf("FinalText = %q, want accumulated text", done.FinalText)
	}
	if store.last().ContentFinal != "partial reply" {
		t.Fatalf("persisted final = %q", store.last().ContentFinal)
	}
}

func TestStreamTurnCancellationPersistsPartial(t *testing.T) {
	released := make(chan struct{})
	firstChunk := make(chan struct{})
	p := &scriptedProvider{
		name:       "fake",
		chunks:     []string{"partial", " never-sent"},
		released:   released,
		chunksSent: firstChunk,
	}
	store := &memMessageStore{}
	o := newOrchestrator(store, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-firstChunk
		cancel()
		close(released)
	}()

	events, err := collectEvents(t, o, ctx, newTurnRequest())
	if err != nil {
		t.Fatalf("StreamTurn() error = %v, want silent abandon", err)
	}

	for _, e := range events {
		if e.Type == EventDone {
			t.Fatalf("done emitted after cancellation")
		}
	}

	// user message + best-effort partial assistant message
	if store.count() != 2 {
		t.Fatalf("persisted = %d, want 2 (user + partial assistant)", store.count())
	}
	if got := store.last().ContentFinal; got != "partial" {
		t.Fatalf("partial persisted = %q, want %q", got, "partial")
	}
}

func TestSendTurnPersistsBothSides(t *testing.T) {
	store := &memMessageStore{}
	o := newOrchestrator(store, &scriptedProvider{name: "fake", chunks: []string{"Nice to meet you."}})

	res, err := o.SendTurn(context.Background(), newTurnRequest())
	if err != nil {
		t.Fatalf("SendTurn() error = %v", err)
	}

	if res.UserMessage.ContentCorrected != "I HAS A QUESTION" {
		t.Fatalf("corrected = %q", res.UserMessage.ContentCorrected)
	}
	if res.AssistantMessage.ContentFinal != "Nice to meet you." {
		t.Fatalf("final = %q", res.AssistantMessage.ContentFinal)
	}
	if store.count() != 2 {
		t.Fatalf("persisted = %d, want 2", store.count())
	}
	if res.Provider != "fake" || res.Model != "fake-model" {
		t.Fatalf("producer = %s/%s", res.Provider, res.Model)
	}
}
