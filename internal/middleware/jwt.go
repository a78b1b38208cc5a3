package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/response"
)

const (
	// ContextKeySessionContext is the Gin context key for the caller's auth.SessionContext.
	ContextKeySessionContext = "session_context"
)

// RequireBearer turns the caller's bearer token into an auth.SessionContext that
// is forwarded to the exam service. The signature is verified by the exam
// service, not here; expired JWTs are refused early.
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, err := auth.NewSessionContext(extractToken(c))
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := sc.Check(time.Now()); err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
				return
			}
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeySessionContext, sc)
		c.Next()
	}
}

// GetSessionContext retrieves the caller's session context from the Gin context.
func GetSessionContext(c *gin.Context) *auth.SessionContext {
	val, exists := c.Get(ContextKeySessionContext)
	if !exists {
		return nil
	}
	sc, ok := val.(*auth.SessionContext)
	if !ok {
		return nil
	}
	return sc
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// Fallback for WebSocket and EventSource clients which cannot send headers
	return c.Query("token")
}
