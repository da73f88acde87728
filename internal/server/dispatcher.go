package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"
	"dealroom-chat/internal/metrics"
	"dealroom-chat/internal/services"
	"dealroom-chat/internal/transport/wsdto"
	"dealroom-chat/internal/websocket"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notificationTimeout = 5 * time.Second

// RoomOperations is the part of the room service reachable over the socket.
type RoomOperations interface {
	CreateRoom(ctx context.Context, initiator uuid.UUID, dir room.Direction) (room.Room, bool, error)
	SendMessage(ctx context.Context, roomID, authorID uuid.UUID, draft message.Draft) (wsdto.Message, error)
	ListRooms(ctx context.Context, userID uuid.UUID) ([]wsdto.RoomSummary, error)
	QueryRoom(ctx context.Context, roomID, userID uuid.UUID, qty *int, before *int64) (wsdto.RoomView, error)
	UpdateLastSeen(ctx context.Context, roomID, userID uuid.UUID, seenTill int64) error
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// NotificationLimiter decides whether a notification is applied or dropped.
type NotificationLimiter interface {
	Allow(method string) bool
}

type callHandler func(ctx context.Context, userID uuid.UUID, data json.RawMessage) (any, error)

// Dispatcher routes decoded frames. Calls are correlated on the session and
// run on the worker pool; notifications are applied inline.
type Dispatcher struct {
	registry *websocket.Registry
	rooms    RoomOperations
	pool     *services.WorkerPool
	logger   *zap.Logger
	calls    map[string]callHandler
}

func NewDispatcher(registry *websocket.Registry, rooms RoomOperations, pool *services.WorkerPool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry: registry,
		rooms:    rooms,
		pool:     pool,
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
	d.calls = map[string]callHandler{
		wsdto.MethodCreateRoom:     d.createRoom,
		wsdto.MethodSendMessage:    d.sendMessage,
		wsdto.MethodListRooms:      d.listRooms,
		wsdto.MethodQueryRoom:      d.queryRoom,
		wsdto.MethodUpdateLastSeen: d.updateLastSeen,
	}
	return d
}

// Handle processes one text frame. A frame that cannot be decoded is answered
// with a local error and reported as ErrMalformedFrame so the caller can count
// it. Notifications over the limiter's budget are dropped silently.
func (d *Dispatcher) Handle(ctx context.Context, s *websocket.Session, raw []byte, limiter NotificationLimiter) error {
	frame, err := wsdto.DecodeFrame(raw)
	if err != nil {
		metrics.MalformedFrames.Inc()
		d.localError(s, services.CodeMalformedFrame, err.Error())
		return err
	}

	if wsdto.IsNotification(frame.Method) {
		if limiter != nil && !limiter.Allow(frame.Method) {
			d.logger.Debug("notification rate limited",
				zap.String("method", frame.Method),
				zap.String("user_id", s.UserID.String()),
			)
			return nil
		}
		d.notify(ctx, s, frame)
		return nil
	}
	d.call(s, frame)
	return nil
}

func (d *Dispatcher) call(s *websocket.Session, frame wsdto.InboundFrame) {
	nonce := *frame.Nonce
	method := frame.Method
	start := time.Now()

	err := d.registry.Correlate(s, nonce, func(res websocket.Result) {
		d.respond(s, method, nonce, res, start)
	})
	switch {
	case errors.Is(err, dealroom_errors.ErrDuplicateNonce):
		d.localError(s, services.CodeDuplicateNonce, fmt.Sprintf("nonce %d is already pending", nonce))
		return
	case err != nil:
		return
	}

	handler, ok := d.calls[method]
	if !ok {
		d.registry.Resolve(s, nonce, websocket.Result{Err: dealroom_errors.ErrUnknownMethod})
		return
	}

	userID := s.UserID
	job := func(ctx context.Context) {
		data, err := handler(ctx, userID, frame.Data)
		d.registry.Resolve(s, nonce, websocket.Result{Data: data, Err: err})
	}
	if err := d.pool.Submit(job); err != nil {
		d.registry.Resolve(s, nonce, websocket.Result{Err: err})
	}
}

func (d *Dispatcher) respond(s *websocket.Session, method string, nonce uint64, res websocket.Result, start time.Time) {
	var resp wsdto.ResponseFrame
	code := "OK"
	if res.Err != nil {
		code = services.ErrorCode(res.Err)
		resp = wsdto.NewFailure(method, nonce, code, services.PublicMessage(res.Err))
		if code == services.CodeInternal {
			d.logger.Error("call failed",
				zap.String("method", method),
				zap.String("user_id", s.UserID.String()),
				zap.Error(res.Err),
			)
		}
	} else {
		resp = wsdto.NewSuccess(method, nonce, res.Data)
	}

	metrics.RPCCalls.WithLabelValues(method, code).Inc()
	metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	d.enqueue(s, resp)
}

func (d *Dispatcher) notify(ctx context.Context, s *websocket.Session, frame wsdto.InboundFrame) {
	nctx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	var err error
	switch frame.Method {
	case wsdto.MethodCurrentlyViewing:
		var req wsdto.CurrentlyViewingRequest
		if err = wsdto.DecodeData(frame.Data, &req); err != nil {
			break
		}
		viewing := uuid.NullUUID{}
		if req.RoomID != nil {
			if err = d.requireMember(nctx, *req.RoomID, s.UserID); err != nil {
				break
			}
			viewing = uuid.NullUUID{UUID: *req.RoomID, Valid: true}
		}
		err = d.registry.SetViewing(s, viewing)

	case wsdto.MethodCurrentlyTyping:
		var req wsdto.CurrentlyTypingRequest
		if err = wsdto.DecodeData(frame.Data, &req); err != nil {
			break
		}
		if err = d.requireMember(nctx, req.RoomID, s.UserID); err != nil {
			break
		}
		err = d.registry.SetTyping(s, req.RoomID, req.Typing)
	}

	if err != nil && !errors.Is(err, dealroom_errors.ErrSessionClosed) {
		d.localError(s, services.ErrorCode(err), services.PublicMessage(err))
	}
}

func (d *Dispatcher) requireMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if roomID == uuid.Nil {
		return dealroom_errors.ErrInvalidInput
	}
	members, err := d.rooms.Members(ctx, roomID)
	if err != nil {
		if errors.Is(err, dealroom_errors.ErrNotFound) {
			return dealroom_errors.ErrNotAMember
		}
		return err
	}
	for _, id := range members {
		if id == userID {
			return nil
		}
	}
	return dealroom_errors.ErrNotAMember
}

func (d *Dispatcher) localError(s *websocket.Session, code, text string) {
	d.enqueue(s, wsdto.NewLocalError(code, text))
}

func (d *Dispatcher) enqueue(s *websocket.Session, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		d.logger.Error("failed to encode frame", zap.Error(err))
		return
	}
	if s.Enqueue(payload) || s.Closed() {
		return
	}
	d.logger.Warn("outbound buffer full, closing session",
		zap.String("user_id", s.UserID.String()),
		zap.String("session_id", s.ID),
	)
	metrics.SlowConsumersClosed.Inc()
	d.registry.Unregister(s)
}

func (d *Dispatcher) createRoom(ctx context.Context, userID uuid.UUID, data json.RawMessage) (any, error) {
	var req wsdto.CreateRoomRequest
	if err := wsdto.DecodeData(data, &req); err != nil {
		return nil, err
	}
	dir, err := req.Direction()
	if err != nil {
		return nil, err
	}
	r, created, err := d.rooms.CreateRoom(ctx, userID, dir)
	if err != nil {
		return nil, err
	}
	return wsdto.CreateRoomResponse{RoomID: r.ID, Created: created}, nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, userID uuid.UUID, data json.RawMessage) (any, error) {
	var req wsdto.SendMessageRequest
	if err := wsdto.DecodeData(data, &req); err != nil {
		return nil, err
	}
	if req.RoomID == uuid.Nil {
		return nil, dealroom_errors.ErrInvalidInput
	}
	msg, err := d.rooms.SendMessage(ctx, req.RoomID, userID, req.Draft())
	if err != nil {
		return nil, err
	}
	return wsdto.SendMessageResponse{Message: msg}, nil
}

func (d *Dispatcher) listRooms(ctx context.Context, userID uuid.UUID, _ json.RawMessage) (any, error) {
	rooms, err := d.rooms.ListRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	return wsdto.ListRoomsResponse{Rooms: rooms}, nil
}

func (d *Dispatcher) queryRoom(ctx context.Context, userID uuid.UUID, data json.RawMessage) (any, error) {
	var req wsdto.QueryRoomRequest
	if err := wsdto.DecodeData(data, &req); err != nil {
		return nil, err
	}
	if req.RoomID == uuid.Nil {
		return nil, dealroom_errors.ErrInvalidInput
	}
	return d.rooms.QueryRoom(ctx, req.RoomID, userID, req.MessageQty, req.MessageBefore)
}

func (d *Dispatcher) updateLastSeen(ctx context.Context, userID uuid.UUID, data json.RawMessage) (any, error) {
	var req wsdto.UpdateLastSeenRequest
	if err := wsdto.DecodeData(data, &req); err != nil {
		return nil, err
	}
	if req.RoomID == uuid.Nil {
		return nil, dealroom_errors.ErrInvalidInput
	}
	if err := d.rooms.UpdateLastSeen(ctx, req.RoomID, userID, req.SeenTill); err != nil {
		return nil, err
	}
	return wsdto.UpdateLastSeenResponse{RoomID: req.RoomID, SeenTill: req.SeenTill}, nil
}
