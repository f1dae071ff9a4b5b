package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
)

// TierLimitsHandler serves the operator endpoints for per-tier daily limits.
type TierLimitsHandler struct {
	store *quota.DBTierStore
	gate  *quota.DailyQuotaGate
}

// NewTierLimitsHandler creates the tier limits handler.
func NewTierLimitsHandler(store *quota.DBTierStore, gate *quota.DailyQuotaGate) *TierLimitsHandler {
	return &TierLimitsHandler{store: store, gate: gate}
}

// List handles GET /api/tier-limits.
func (h *TierLimitsHandler) List(c *gin.Context) {
	limits, err := h.store.FetchAllTierLimits()
	if err != nil {
		log.Printf("⚠️ [Tiers] Fetch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": limits})
}

// Update handles PUT /api/tier-limits/:tier. Values below zero clamp to
// zero; the tier cache is invalidated so the change applies immediately.
func (h *TierLimitsHandler) Update(c *gin.Context) {
	tier := c.Param("tier")
	if tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "tier is required"})
		return
	}

	var body quota.TierLimits
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON body"})
		return
	}

	if err := h.store.UpdateTierLimits(c.Request.Context(), tier, body); err != nil {
		log.Printf("⚠️ [Tiers] Update failed for %s: %v", tier, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	h.gate.InvalidateTierCache()
	log.Printf("🔄 [Tiers] Limits updated for tier %s, cache invalidated", tier)

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"tier":   tier,
	})
}
