package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acme-studios/cf-rag-agent/utils"
)

const SessionHeader = "X-Session-ID"

const maxSessionIDLength = 128

// SessionMiddleware pulls the session ID from the request and stashes it
// in the gin context. The ID comes from the X-Session-ID header, with a
// "session" query parameter fallback for clients that cannot set headers.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.GetHeader(SessionHeader))
		if sessionID == "" {
			sessionID = strings.TrimSpace(c.Query("session"))
		}
		if sessionID != "" {
			if !validSessionID(sessionID) {
				utils.RespondWithError(c, http.StatusBadRequest, "Invalid session ID")
				c.Abort()
				return
			}
			c.Set("session_id", sessionID)
		}
		c.Next()
	}
}

// RequireSession rejects requests that arrived without a session ID.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetSessionID(c) == "" {
			utils.RespondWithError(c, http.StatusBadRequest, "Missing X-Session-ID header")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetSessionID retrieves the session ID from context.
func GetSessionID(c *gin.Context) string {
	if id, exists := c.Get("session_id"); exists {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}

func validSessionID(id string) bool {
	if len(id) > maxSessionIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
