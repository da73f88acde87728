package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"dealroom-chat/internal/transport/wsdto"
	"dealroom-chat/internal/websocket"
	dealroom_errors "dealroom-chat/pkg/errors"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Notification limits per minute
type RateLimits struct {
	MaxTypingEvents  int
	MaxViewingEvents int
}

var DefaultRateLimits = RateLimits{
	MaxTypingEvents:  120,
	MaxViewingEvents: 60,
}

// ClientRateLimiter meters the notifications of one connection. Calls are
// not metered here.
type ClientRateLimiter struct {
	limits        RateLimits
	typingTokens  int
	viewingTokens int
	lastRefill    time.Time
	mu            sync.Mutex
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	return &ClientRateLimiter{
		limits:        limits,
		typingTokens:  limits.MaxTypingEvents,
		viewingTokens: limits.MaxViewingEvents,
		lastRefill:    time.Now(),
	}
}

func (rl *ClientRateLimiter) Allow(method string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.typingTokens = rl.limits.MaxTypingEvents
		rl.viewingTokens = rl.limits.MaxViewingEvents
		rl.lastRefill = now
	}

	switch method {
	case wsdto.MethodCurrentlyTyping:
		if rl.typingTokens > 0 {
			rl.typingTokens--
			return true
		}
	case wsdto.MethodCurrentlyViewing:
		if rl.viewingTokens > 0 {
			rl.viewingTokens--
			return true
		}
	default:
		return true
	}
	return false
}

// Client pumps one websocket connection. The read pump feeds the dispatcher,
// the write pump drains the session's outbound queue.
type Client struct {
	conn         *gorillaws.Conn
	session      *websocket.Session
	registry     *websocket.Registry
	dispatcher   *Dispatcher
	rateLimiter  *ClientRateLimiter
	maxMalformed int
	logger       *WebSocketLogger
}

func NewClient(conn *gorillaws.Conn, session *websocket.Session, registry *websocket.Registry, dispatcher *Dispatcher, maxMalformed int, logger *WebSocketLogger) *Client {
	if maxMalformed <= 0 {
		maxMalformed = 1
	}
	return &Client{
		conn:         conn,
		session:      session,
		registry:     registry,
		dispatcher:   dispatcher,
		rateLimiter:  NewClientRateLimiter(DefaultRateLimits),
		maxMalformed: maxMalformed,
		logger:       logger,
	}
}

// Run starts both pumps and returns when the connection is gone. Work already
// handed to the worker pool is not cancelled.
func (c *Client) Run(ctx context.Context) {
	c.logger.Info("connected", c.session.UserID, c.session.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx)
	<-done
	c.logger.Info("disconnected", c.session.UserID, c.session.ID)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		if pending := c.session.PendingCalls(); pending > 0 {
			c.logger.Warn("calls dropped on disconnect", c.session.UserID, c.session.ID, zap.Int("pending_calls", pending))
		}
		c.registry.Unregister(c.session)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	malformed := 0
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure, gorillaws.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.session.UserID, c.session.ID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != gorillaws.TextMessage {
			c.logger.Warn("binary frame received", c.session.UserID, c.session.ID)
			c.closeWith(gorillaws.CloseProtocolError, "text frames only")
			return
		}

		err = c.dispatcher.Handle(ctx, c.session, payload, c.rateLimiter)
		if !errors.Is(err, dealroom_errors.ErrMalformedFrame) {
			malformed = 0
			continue
		}
		malformed++
		c.logger.Warn("malformed frame", c.session.UserID, c.session.ID, zap.Int("consecutive", malformed), zap.Error(err))
		if malformed >= c.maxMalformed {
			c.closeWith(gorillaws.CloseProtocolError, "too many malformed frames")
			return
		}
	}
}

func (c *Client) closeWith(code int, text string) {
	msg := gorillaws.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Error("close frame failed", c.session.UserID, c.session.ID, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	outbound := c.session.Outbound()
	for {
		select {
		case frame, ok := <-outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorillaws.TextMessage, frame); err != nil {
				c.registry.Unregister(c.session)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				c.registry.Unregister(c.session)
				return
			}
		}
	}
}
