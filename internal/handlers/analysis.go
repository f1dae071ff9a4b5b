package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/analysis"
	"github.com/pwviptbl/AI-English-Mentor/internal/conversation"
	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// AnalysisHandler serves per-message sentence analysis.
type AnalysisHandler struct {
	service       *analysis.Service
	conversations *conversation.Store
	gate          *quota.DailyQuotaGate
}

// NewAnalysisHandler creates the analysis handler.
func NewAnalysisHandler(svc *analysis.Service, convs *conversation.Store, gate *quota.DailyQuotaGate) *AnalysisHandler {
	return &AnalysisHandler{service: svc, conversations: convs, gate: gate}
}

// AnalyzeMessage handles POST /v1/messages/:id/analysis. The analyzed text
// is the message's English side: the final reply for assistant turns, the
// corrected input for user turns.
func (h *AnalysisHandler) AnalyzeMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	msg, found, err := h.conversations.FetchMessage(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		log.Printf("⚠️ [Analysis] Message lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "Message not found"})
		return
	}

	sentence := msg.HistoryText()
	if sentence == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Message has no analyzable text"})
		return
	}

	decision := h.gate.Admit(user.ID, user.Tier, quota.PurposeAnalysis)
	if !decision.Allowed {
		respondQuotaExceeded(c, decision)
		return
	}

	var override string
	if body := struct {
		Provider string `json:"provider"`
	}{}; c.ShouldBindJSON(&body) == nil {
		override = body.Provider
	}

	result, err := h.service.Analyze(c.Request.Context(), sentence, override, user.PreferredProvider, types.ProviderContext{LearnerName: user.FullName})
	if err != nil {
		var exhausted *router.AllBackendsExhausted
		if errors.As(err, &exhausted) {
			log.Printf("🚫 [Analysis] All backends exhausted: %v", exhausted)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Service Unavailable",
				"message": "No AI backend is currently able to analyze this sentence, please try again shortly",
			})
			return
		}
		log.Printf("⚠️ [Analysis] Analyze failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": msg.ID,
		"analysis":   result.Analysis,
		"provider":   result.Provider,
		"model":      result.Model,
		"from_cache": result.FromCache,
	})
}
