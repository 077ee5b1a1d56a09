package tracking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-platform/pkg/logger"
)

// Handler serves the public redirect endpoint.
type Handler struct {
	shortener *Shortener
}

func NewHandler(s *Shortener) *Handler { return &Handler{shortener: s} }

// Redirect handles GET /track?c={code}.
func (h *Handler) Redirect(c *gin.Context) {
	code := c.Query("c")
	target, err := h.shortener.Resolve(c.Request.Context(), code, c.Request.UserAgent(), c.ClientIP())
	if errors.Is(err, ErrLinkNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown link"})
		return
	}
	if err != nil {
		logger.From(c.Request.Context()).Error("link resolve failed", "code", code, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failure"})
		return
	}
	c.Redirect(http.StatusFound, target)
}
