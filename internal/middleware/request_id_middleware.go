package middleware

import (
	"context"
	"strings"

	"dealroom-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIdKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newRequestID() string {
	return strings.ToLower(ulid.Make().String())
}
