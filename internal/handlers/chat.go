package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/chat"
	"github.com/pwviptbl/AI-English-Mentor/internal/conversation"
	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// maxInputLength 单条输入的长度上限
const maxInputLength = 4000

// ChatHandler serves the conversational turn endpoints.
type ChatHandler struct {
	orchestrator  *chat.Orchestrator
	conversations *conversation.Store
	gate          *quota.DailyQuotaGate
}

// NewChatHandler creates the chat handler.
func NewChatHandler(o *chat.Orchestrator, convs *conversation.Store, gate *quota.DailyQuotaGate) *ChatHandler {
	return &ChatHandler{orchestrator: o, conversations: convs, gate: gate}
}

type turnRequestBody struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Topic          string `json:"topic"`
	PersonaPrompt  string `json:"persona_prompt"`
	Provider       string `json:"provider"`
}

// prepareTurn runs the shared preflight: body validation, quota admission
// and conversation resolution. A nil *TurnRequest means the response has
// already been written.
func (h *ChatHandler) prepareTurn(c *gin.Context) (*chat.TurnRequest, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	var body turnRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON body"})
		return nil, false
	}

	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "text is required"})
		return nil, false
	}
	if len(body.Text) > maxInputLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": fmt.Sprintf("text exceeds %d characters", maxInputLength)})
		return nil, false
	}

	decision := h.gate.Admit(user.ID, user.Tier, quota.PurposeChat)
	if !decision.Allowed {
		respondQuotaExceeded(c, decision)
		return nil, false
	}

	conv, err := h.resolveConversation(c, user, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return nil, false
	}
	if conv.ID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "Conversation not found"})
		return nil, false
	}

	return &chat.TurnRequest{
		User:             user,
		Conversation:     conv,
		RawText:          body.Text,
		ProviderOverride: body.Provider,
	}, true
}

func (h *ChatHandler) resolveConversation(c *gin.Context, user types.User, body turnRequestBody) (conversation.Conversation, error) {
	if body.ConversationID == "" {
		return h.conversations.Create(c.Request.Context(), user.ID, body.Topic, body.PersonaPrompt)
	}
	conv, ok, err := h.conversations.Fetch(c.Request.Context(), body.ConversationID, user.ID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !ok {
		return conversation.Conversation{}, nil
	}
	return conv, nil
}

// SendTurn handles POST /v1/chat/send (non-streamed turn).
func (h *ChatHandler) SendTurn(c *gin.Context) {
	req, ok := h.prepareTurn(c)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.orchestrator.SendTurn(c.Request.Context(), *req)
	if err != nil {
		respondTurnError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id":   req.Conversation.ID,
		"user_message":      result.UserMessage,
		"assistant_message": result.AssistantMessage,
		"correction":        result.Correction,
		"provider":          result.Provider,
		"model":             result.Model,
		"latency_ms":        time.Since(start).Milliseconds(),
	})
}

// StreamTurn handles POST /v1/chat/stream (SSE turn).
func (h *ChatHandler) StreamTurn(c *gin.Context) {
	req, ok := h.prepareTurn(c)
	if !ok {
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming unsupported"})
		return
	}

	emitted := false
	emit := func(e chat.StreamEvent) {
		if !emitted {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			c.Writer.WriteHeader(http.StatusOK)
			emitted = true
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", e.Marshal())
		flusher.Flush()
	}

	err := h.orchestrator.StreamTurn(c.Request.Context(), *req, emit)
	if err != nil && !emitted {
		// Whole-turn failure before any event: a plain error response is
		// still possible.
		respondTurnError(c, err)
		return
	}
	if err != nil {
		// Stream already started; the transport close communicates the
		// broken turn.
		log.Printf("⚠️ [Chat] Turn aborted mid-stream: %v", err)
	}
}

// respondTurnError maps orchestration failures onto caller responses. Only
// "all backends down" is worth a distinct, actionable message.
func respondTurnError(c *gin.Context, err error) {
	var exhausted *router.AllBackendsExhausted
	if errors.As(err, &exhausted) {
		log.Printf("🚫 [Chat] All backends exhausted: %v", exhausted)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Service Unavailable",
			"message": "No AI backend is currently able to serve this request, please try again shortly",
		})
		return
	}
	log.Printf("⚠️ [Chat] Turn failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
}

// respondQuotaExceeded writes the quota denial with purpose, usage and tier.
func respondQuotaExceeded(c *gin.Context, d quota.Decision) {
	log.Printf("🚫 [Quota] %s", d.Message())
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":    "Quota Exceeded",
		"message":  d.Message(),
		"purpose":  d.Purpose,
		"tier":     d.Tier,
		"used":     d.Used,
		"limit":    d.Limit,
		"reset_at": d.ResetAt,
	})
}
