package middleware

import (
	"context"
	"net/http"
	"strings"

	"dealroom-chat/internal/metrics"
	"dealroom-chat/internal/services"
	"dealroom-chat/internal/transport/httpdto"
	"dealroom-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the access token and stores the user id in the
// request context. Browsers cannot set headers on a websocket handshake, so
// the token may also arrive as ?token=.
func AuthMiddleware(service *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			metrics.RejectedSessions.WithLabelValues("missing_token").Inc()
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing token", services.CodeUnauthorized))
			c.Abort()
			return
		}

		userID, err := service.Authenticate(token)
		if err != nil {
			metrics.RejectedSessions.WithLabelValues("invalid_token").Inc()
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", services.CodeUnauthorized))
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID)
		ctx = context.WithValue(ctx, logger.UserIdKey, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
