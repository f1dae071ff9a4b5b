package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
)

// QuotaHandler reports the caller's remaining daily allowance.
type QuotaHandler struct {
	gate *quota.DailyQuotaGate
}

// NewQuotaHandler creates the quota handler.
func NewQuotaHandler(gate *quota.DailyQuotaGate) *QuotaHandler {
	return &QuotaHandler{gate: gate}
}

// Usage handles GET /v1/quota. Reading usage never consumes quota.
func (h *QuotaHandler) Usage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chatUsage := h.gate.Usage(user.ID, user.Tier, quota.PurposeChat)
	analysisUsage := h.gate.Usage(user.ID, user.Tier, quota.PurposeAnalysis)

	c.JSON(http.StatusOK, gin.H{
		"tier": user.Tier,
		"chat": gin.H{
			"used":  chatUsage.Used,
			"limit": chatUsage.Limit,
		},
		"analysis": gin.H{
			"used":  analysisUsage.Used,
			"limit": analysisUsage.Limit,
		},
	})
}
