package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dealroom-chat/internal/events"
	"dealroom-chat/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const pushTimeout = 5 * time.Second

// PushSender forwards summaries to users with no live session.
type PushSender interface {
	Send(ctx context.Context, userID uuid.UUID, summary events.PushSummary) error
}

// Fanout delivers events to the live sessions of their targets.
type Fanout struct {
	registry *Registry
	push     PushSender
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewFanout(registry *Registry, push PushSender, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		registry: registry,
		push:     push,
		logger:   logger.With(zap.String("component", "fanout")),
	}
}

// Publish encodes the event once and enqueues it on every live session of
// every target. A session whose buffer is full is closed. Targets without a
// session get the push summary when the event has one. Delivery failures are
// logged, never returned.
func (f *Fanout) Publish(ctx context.Context, ev events.Event, targets []uuid.UUID) {
	frame, err := json.Marshal(events.Frame(ev))
	if err != nil {
		f.logger.Error("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(targets))
	for _, userID := range targets {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		sessions := f.registry.Sessions(userID)
		if len(sessions) == 0 {
			f.forwardPush(ctx, userID, ev)
			continue
		}
		for _, s := range sessions {
			f.deliver(s, ev.EventName(), frame)
		}
	}
}

func (f *Fanout) deliver(s *Session, name string, frame []byte) {
	if s.Enqueue(frame) {
		metrics.EventsDelivered.WithLabelValues(name).Inc()
		return
	}
	if s.Closed() {
		return
	}
	f.logger.Warn("outbound buffer full, closing session",
		zap.String("user_id", s.UserID.String()),
		zap.String("session_id", s.ID),
		zap.String("event", name),
	)
	metrics.SlowConsumersClosed.Inc()
	f.registry.Unregister(s)
}

func (f *Fanout) forwardPush(ctx context.Context, userID uuid.UUID, ev events.Event) {
	if f.push == nil {
		return
	}
	p, ok := ev.(events.Pushable)
	if !ok {
		return
	}
	summary := p.PushSummary()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()

		if err := f.push.Send(pctx, userID, summary); err != nil {
			metrics.PushForwarded.WithLabelValues("error").Inc()
			f.logger.Warn("push forward failed",
				zap.String("user_id", userID.String()),
				zap.String("event", summary.Kind),
				zap.Error(err),
			)
			return
		}
		metrics.PushForwarded.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until in-flight push forwards finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
