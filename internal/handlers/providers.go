package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/users"
)

// ProvidersHandler serves backend discovery and user preference endpoints.
type ProvidersHandler struct {
	router    *router.Router
	manager   *config.ProvidersManager
	userStore *users.Store
}

// NewProvidersHandler creates the providers handler.
func NewProvidersHandler(r *router.Router, m *config.ProvidersManager, us *users.Store) *ProvidersHandler {
	return &ProvidersHandler{router: r, manager: m, userStore: us}
}

// List handles GET /v1/providers.
func (h *ProvidersHandler) List(c *gin.Context) {
	var providers []gin.H
	for _, p := range h.router.Providers() {
		providers = append(providers, gin.H{
			"name":      p.Name(),
			"available": p.IsAvailable(),
		})
	}

	preferred := ""
	if user, ok := middleware.CurrentUser(c); ok {
		preferred = user.PreferredProvider
	}

	c.JSON(http.StatusOK, gin.H{
		"default":   h.manager.DefaultProvider(),
		"preferred": preferred,
		"providers": providers,
	})
}

// SetPreference handles PUT /v1/providers/preference. An empty provider
// clears the preference.
func (h *ProvidersHandler) SetPreference(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var body struct {
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON body"})
		return
	}

	if body.Provider != "" {
		if _, registered := h.router.Provider(body.Provider); !registered {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Unknown provider: " + body.Provider})
			return
		}
	}

	if err := h.userStore.SetPreferredProvider(c.Request.Context(), user.ID, body.Provider); err != nil {
		log.Printf("⚠️ [Providers] Preference update failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"preferred": body.Provider,
	})
}

// Reload handles POST /admin/providers/reload, re-reading the provider
// settings file immediately instead of waiting for the file watcher.
func (h *ProvidersHandler) Reload(c *gin.Context) {
	if err := h.manager.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "error",
			"message":   "Provider settings reload failed",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Provider settings reloaded",
		"default":   h.manager.DefaultProvider(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
