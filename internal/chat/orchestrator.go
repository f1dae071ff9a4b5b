package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pwviptbl/AI-English-Mentor/internal/conversation"
	"github.com/pwviptbl/AI-English-Mentor/internal/providers"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// historyLimit turns fetched for prompt context
const historyLimit = 20

// persistGrace bounds the partial-persist attempt after the caller is gone
const persistGrace = 5 * time.Second

// MessageStore is the persistence collaborator for turns.
type MessageStore interface {
	FetchRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error)
	AppendMessage(ctx context.Context, m conversation.Message) (conversation.Message, error)
}

// TurnRequest is one learner turn to orchestrate.
type TurnRequest struct {
	User             types.User
	Conversation     conversation.Conversation
	RawText          string
	ProviderOverride string
}

// TurnResult is the outcome of a non-streamed turn.
type TurnResult struct {
	UserMessage      conversation.Message   `json:"user_message"`
	AssistantMessage conversation.Message   `json:"assistant_message"`
	Correction       types.CorrectionResult `json:"correction"`
	Provider         string                 `json:"provider"`
	Model            string                 `json:"model"`
}

// Orchestrator drives a turn through correction, reply generation and
// persistence, in that order.
type Orchestrator struct {
	router *router.Router
	store  MessageStore
}

// NewOrchestrator creates the turn orchestrator.
func NewOrchestrator(r *router.Router, store MessageStore) *Orchestrator {
	return &Orchestrator{router: r, store: store}
}

func (o *Orchestrator) providerContext(req TurnRequest) types.ProviderContext {
	return types.ProviderContext{
		Topic:         req.Conversation.Topic,
		PersonaPrompt: req.Conversation.PersonaPrompt,
		LearnerName:   req.User.FullName,
	}
}

// preprocess corrects the raw input and persists the user turn. No caller
// visibility until the message is durable.
func (o *Orchestrator) preprocess(ctx context.Context, req TurnRequest, pctx types.ProviderContext) (conversation.Message, types.CorrectionResult, error) {
	var correction types.CorrectionResult
	outcome, err := o.router.Dispatch(ctx, req.ProviderOverride, req.User.PreferredProvider,
		func(ctx context.Context, p providers.Provider) (string, error) {
			c, model, err := p.CorrectInput(ctx, req.RawText, pctx)
			if err != nil {
				return "", err
			}
			correction = c
			return model, nil
		})
	if err != nil {
		return conversation.Message{}, types.CorrectionResult{}, fmt.Errorf("correction failed: %w", err)
	}

	meta, _ := json.Marshal(correction)
	userMsg, err := o.store.AppendMessage(ctx, conversation.Message{
		ConversationID:   req.Conversation.ID,
		Role:             "user",
		ContentRaw:       req.RawText,
		ContentCorrected: correction.CorrectedText,
		Provider:         outcome.Provider,
		Model:            outcome.Model,
		MetaJSON:         string(meta),
	})
	if err != nil {
		return conversation.Message{}, types.CorrectionResult{}, fmt.Errorf("persist user turn: %w", err)
	}
	return userMsg, correction, nil
}

// SendTurn runs a full turn without streaming and returns both persisted
// messages.
func (o *Orchestrator) SendTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	pctx := o.providerContext(req)

	history, err := o.history(ctx, req.Conversation.ID)
	if err != nil {
		return TurnResult{}, err
	}

	userMsg, correction, err := o.preprocess(ctx, req, pctx)
	if err != nil {
		return TurnResult{}, err
	}

	var reply types.ChatResult
	outcome, err := o.router.Dispatch(ctx, req.ProviderOverride, req.User.PreferredProvider,
		func(ctx context.Context, p providers.Provider) (string, error) {
			r, model, err := p.GenerateReply(ctx, correction.CorrectedText, history, pctx)
			if err != nil {
				return "", err
			}
			reply = r
			return model, nil
		})
	if err != nil {
		return TurnResult{}, fmt.Errorf("reply generation failed: %w", err)
	}

	assistantMsg, err := o.store.AppendMessage(ctx, conversation.Message{
		ConversationID: req.Conversation.ID,
		Role:           "assistant",
		ContentFinal:   reply.Reply,
		Provider:       outcome.Provider,
		Model:          outcome.Model,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("persist assistant turn: %w", err)
	}

	return TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Correction:       correction,
		Provider:         outcome.Provider,
		Model:            outcome.Model,
	}, nil
}

// StreamTurn runs one streamed turn. emit delivers events to the transport
// in order: one correction, the chunks, one done. A turn that fails before
// the correction event emits nothing and returns the error; once streaming
// has begun the turn always finalizes with whatever text accumulated.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest, emit func(StreamEvent)) error {
	pctx := o.providerContext(req)

	history, err := o.history(ctx, req.Conversation.ID)
	if err != nil {
		return err
	}

	userMsg, correction, err := o.preprocess(ctx, req, pctx)
	if err != nil {
		return err
	}
	emit(CorrectionEvent(userMsg.ID, correction))

	var (
		chunks <-chan string
		errs   <-chan error
	)
	outcome, err := o.router.Dispatch(ctx, req.ProviderOverride, req.User.PreferredProvider,
		func(ctx context.Context, p providers.Provider) (string, error) {
			ch, ech, model, err := p.StreamReply(ctx, correction.CorrectedText, history, pctx)
			if err != nil {
				return "", err
			}
			chunks, errs = ch, ech
			return model, nil
		})
	if err != nil {
		// The correction is already visible; close the turn with what we
		// have (nothing) instead of a broken stream.
		log.Printf("⚠️ [Chat] Stream dispatch failed after correction: %v", err)
		return o.finalize(ctx, req, outcome.Provider, outcome.Model, "", emit)
	}

	var accumulated string
streaming:
	for {
		select {
		case <-ctx.Done():
			// Caller is gone. Persist the partial turn quietly, emit
			// nothing further.
			o.persistPartial(req, outcome.Provider, outcome.Model, accumulated)
			return nil
		case token, ok := <-chunks:
			if !ok {
				break streaming
			}
			accumulated += token
			emit(ChunkEvent(token))
		case streamErr, ok := <-errs:
			if !ok {
				// Closed error channel; keep draining chunks.
				errs = nil
				continue
			}
			if streamErr != nil {
				// Mid-stream backend failure: stop producing, keep what
				// accumulated as the final text.
				log.Printf("⚠️ [Chat] Stream interrupted, finalizing partial reply: %v", streamErr)
				break streaming
			}
		}
	}

	if ctx.Err() != nil {
		o.persistPartial(req, outcome.Provider, outcome.Model, accumulated)
		return nil
	}

	return o.finalize(ctx, req, outcome.Provider, outcome.Model, accumulated, emit)
}

// finalize persists the assistant turn and then emits Done.
func (o *Orchestrator) finalize(ctx context.Context, req TurnRequest, provider, model, finalText string, emit func(StreamEvent)) error {
	assistantMsg, err := o.store.AppendMessage(ctx, conversation.Message{
		ConversationID: req.Conversation.ID,
		Role:           "assistant",
		ContentFinal:   finalText,
		Provider:       provider,
		Model:          model,
	})
	if err != nil {
		// Done must not be emitted for text that never became durable;
		// the transport close signals the broken turn.
		return fmt.Errorf("persist assistant turn: %w", err)
	}
	emit(DoneEvent(assistantMsg.ID, finalText, provider, model))
	return nil
}

// persistPartial stores accumulated text after the caller disconnected,
// bounded by a grace period and detached from the dead request context.
func (o *Orchestrator) persistPartial(req TurnRequest, provider, model, accumulated string) {
	if accumulated == "" {
		return
	}
	graceCtx, cancel := context.WithTimeout(context.Background(), persistGrace)
	defer cancel()

	_, err := o.store.AppendMessage(graceCtx, conversation.Message{
		ConversationID: req.Conversation.ID,
		Role:           "assistant",
		ContentFinal:   accumulated,
		Provider:       provider,
		Model:          model,
	})
	if err != nil {
		log.Printf("⚠️ [Chat] Partial turn lost after disconnect: %v", err)
	}
}

func (o *Orchestrator) history(ctx context.Context, conversationID string) ([]types.HistoryMessage, error) {
	messages, err := o.store.FetchRecentMessages(ctx, conversationID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return conversation.History(messages), nil
}
