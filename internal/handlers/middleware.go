package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	operatorIDKey = "operatorId"

	errMissingAuth = "missing Authorization header"
	errMalformAuth = "Authorization header must be 'Bearer <token>'"
	errBadToken    = "invalid or expired token"
)

// bearerToken extracts the token of a "Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || scheme != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireOperator rejects requests without a valid operator token and stores
// the operator id for the handlers behind it.
func (h *Handler) requireOperator(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingAuth})
		return
	}
	token, ok := bearerToken(header)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMalformAuth})
		return
	}

	id, err := h.services.ParseToken(token)
	if err != nil {
		h.log.Debugw("operator_token_rejected", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBadToken})
		return
	}

	c.Set(operatorIDKey, id)
	c.Next()
}

func operatorID(c *gin.Context) int {
	return c.GetInt(operatorIDKey)
}
