package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/netko/covenote/internal/common"
)

const RequestIDKey = "request_id"

// RequestID echoes an incoming X-Request-ID or mints a ULID, so log lines and
// responses correlate across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			if u, err := common.NewULID(); err == nil {
				id = u
			}
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
