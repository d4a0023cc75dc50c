package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserHeader carries the authenticated user id. It is set by the gateway
// in front of the API, which owns login and sessions.
const UserHeader = "X-User-ID"

const callerKey = "caller_id"

// IdentifyCaller parses the user header when present. A malformed id is
// rejected; an absent one leaves the request anonymous.
func IdentifyCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserHeader)
		if raw == "" {
			c.Next()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid " + UserHeader + " header",
			})
			return
		}
		c.Set(callerKey, id)
		c.Next()
	}
}

// RequireCaller rejects anonymous requests. Use after IdentifyCaller.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerID(c) == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + UserHeader + " header",
			})
			return
		}
		c.Next()
	}
}

// CallerID returns the caller's id, or uuid.Nil for anonymous requests.
func CallerID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(callerKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
