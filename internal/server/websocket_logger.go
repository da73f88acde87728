package server

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebSocketLogger provides structured logging for connection events
type WebSocketLogger struct {
	logger *zap.Logger
}

// NewWebSocketLogger falls back to zap's global logger when l is nil.
func NewWebSocketLogger(l *zap.Logger) *WebSocketLogger {
	if l == nil {
		l = zap.L()
	}
	return &WebSocketLogger{
		logger: l.With(zap.String("component", "websocket")),
	}
}

func (l *WebSocketLogger) fields(event string, userID uuid.UUID, sessionID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID.String()),
		zap.String("client_id", sessionID),
	}, extra...)
}

// Info logs info level event
func (l *WebSocketLogger) Info(event string, userID uuid.UUID, sessionID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, sessionID, fields)...)
}

// Error logs error level event
func (l *WebSocketLogger) Error(event string, userID uuid.UUID, sessionID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, sessionID, append(fields, zap.Error(err)))...)
}

// Warn logs warning level event
func (l *WebSocketLogger) Warn(event string, userID uuid.UUID, sessionID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, sessionID, fields)...)
}
