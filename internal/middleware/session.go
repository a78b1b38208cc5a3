package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
)

// ContextKeyEntry is the Gin context key for the kiosk session addressed by :id.
const ContextKeyEntry = "session_entry"

// LoadSession resolves the :id path parameter to a session owned by the caller.
// Must run after RequireBearer.
func LoadSession(sessions *service.ExamSessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := GetSessionContext(c)
		if sc == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		handle := c.Param("id")
		if handle == "" {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		entry, err := sessions.Get(handle, sc)
		if err != nil {
			response.AbortFail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}

		c.Set(ContextKeyEntry, entry)
		c.Next()
	}
}

// GetEntry retrieves the session loaded by LoadSession.
func GetEntry(c *gin.Context) *service.Entry {
	val, exists := c.Get(ContextKeyEntry)
	if !exists {
		return nil
	}
	entry, ok := val.(*service.Entry)
	if !ok {
		return nil
	}
	return entry
}
