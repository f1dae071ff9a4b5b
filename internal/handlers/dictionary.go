package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/dictionary"
	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
)

const maxLookupWordLength = 80

// DictionaryHandler serves per-word dictionary enrichment.
type DictionaryHandler struct {
	service *dictionary.Service
}

// NewDictionaryHandler creates the dictionary handler.
func NewDictionaryHandler(svc *dictionary.Service) *DictionaryHandler {
	return &DictionaryHandler{service: svc}
}

// Lookup handles GET /v1/dictionary/lookup?word=<word>.
func (h *DictionaryHandler) Lookup(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	word := strings.TrimSpace(c.Query("word"))
	if word == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "word query parameter is required"})
		return
	}
	if len(word) > maxLookupWordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "word is too long"})
		return
	}

	info, fromCache := h.service.Lookup(c.Request.Context(), word)
	c.JSON(http.StatusOK, gin.H{
		"token":      info,
		"from_cache": fromCache,
	})
}
