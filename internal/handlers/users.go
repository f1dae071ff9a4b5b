package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/users"
)

// UsersHandler serves the operator endpoints for learner accounts.
type UsersHandler struct {
	store *users.Store
	tiers quota.TierStore
}

// NewUsersHandler creates the users admin handler.
func NewUsersHandler(store *users.Store, tiers quota.TierStore) *UsersHandler {
	return &UsersHandler{store: store, tiers: tiers}
}

// UpdateTier handles PUT /api/users/:id/tier. The target tier must exist in
// the tier limits table. Identity is resolved per request, so the new tier
// applies on the user's next call.
func (h *UsersHandler) UpdateTier(c *gin.Context) {
	userID := c.Param("id")

	var body struct {
		Tier string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "tier is required"})
		return
	}

	known, err := h.tiers.FetchAllTierLimits()
	if err != nil {
		log.Printf("⚠️ [Users] Tier limits fetch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	if _, ok := known[body.Tier]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Unknown tier: " + body.Tier})
		return
	}

	if _, found, err := h.store.Fetch(c.Request.Context(), userID); err != nil {
		log.Printf("⚠️ [Users] Lookup failed for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	} else if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "User not found"})
		return
	}

	if err := h.store.SetTier(c.Request.Context(), userID, body.Tier); err != nil {
		log.Printf("⚠️ [Users] Tier update failed for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	log.Printf("🔄 [Users] User %s moved to tier %s", userID, body.Tier)

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"user_id": userID,
		"tier":    body.Tier,
	})
}
