package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dealroom-chat/config"
	"dealroom-chat/internal/domain/user"
	"dealroom-chat/internal/events"
	"dealroom-chat/internal/repository"
	"dealroom-chat/internal/services"
	"dealroom-chat/internal/transport/wsdto"
	"dealroom-chat/internal/websocket"
	"dealroom-chat/pkg/logger"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
)

type harness struct {
	t        *testing.T
	server   *httptest.Server
	auth     *services.AuthService
	registry *websocket.Registry

	company  uuid.UUID
	member   uuid.UUID
	creator  uuid.UUID
	outsider uuid.UUID
}

func newHarness(t *testing.T, multiSession bool) *harness {
	t.Helper()
	cfg := &config.Config{AppMode: TestMode, AppPort: "0", JWTSecret: "test-secret", JWTAccessTTL: time.Hour}

	h := &harness{
		t:        t,
		company:  uuid.New(),
		member:   uuid.New(),
		creator:  uuid.New(),
		outsider: uuid.New(),
	}
	identity := repository.NewStaticIdentityProvider()
	identity.Put(user.Info{ID: h.member, DisplayName: "Morgan", CompanyIDs: []uuid.UUID{h.company}})
	identity.Put(user.Info{ID: h.creator, DisplayName: "Casey"})
	identity.Put(user.Info{ID: h.outsider, DisplayName: "Olly"})

	ctx, cancel := context.WithCancel(context.Background())

	h.registry = websocket.NewRegistry(websocket.RegistryConfig{AllowMultiSession: multiSession}, nil, nil)
	fanout := websocket.NewFanout(h.registry, nil, nil)
	rooms := services.NewRoomService(repository.NewMemoryRoomStore(), identity, fanout, h.registry, services.RoomServiceConfig{}, nil)
	notifier := services.NewPresenceNotifier(rooms, fanout, nil, nil)
	h.registry.SetListener(notifier)
	go notifier.Run(ctx)

	pool := services.NewWorkerPool(4, 64, nil)
	pool.Start(ctx)

	dispatcher := NewDispatcher(h.registry, rooms, pool, nil)
	h.auth = services.NewAuthService(cfg)

	srv := New(cfg, logger.NewNop())
	srv.SetupRoutes(&Handlers{
		Auth:      h.auth,
		WebSocket: NewWebSocketHandler(ctx, h.registry, dispatcher, 3, NewWebSocketLogger(nil)),
	})
	h.server = httptest.NewServer(srv.Engine())

	t.Cleanup(func() {
		h.server.Close()
		h.registry.CloseAll()
		cancel()
		pool.Stop()
		<-notifier.Done()
	})
	return h
}

func (h *harness) url(token string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/ws?token=" + token
}

func (h *harness) token(userID uuid.UUID) string {
	h.t.Helper()
	token, _, err := h.auth.IssueAccessToken(userID)
	if err != nil {
		h.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *harness) dial(userID uuid.UUID) *gorillaws.Conn {
	h.t.Helper()
	conn, resp, err := gorillaws.DefaultDialer.Dial(h.url(h.token(userID)), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		h.t.Fatalf("dial: %v (status %d)", err, status)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Method string           `json:"method"`
	Nonce  uint64           `json:"nonce"`
	Event  string           `json:"event"`
	Data   json.RawMessage  `json:"data"`
	Error  *wsdto.ErrorBody `json:"error"`
}

func call(t *testing.T, conn *gorillaws.Conn, method string, nonce uint64, data any) {
	t.Helper()
	payload := map[string]any{"method": method, "nonce": nonce}
	if data != nil {
		payload["data"] = data
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
}

// next reads frames until one matches.
func next(t *testing.T, conn *gorillaws.Conn, match func(frame) bool) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func response(nonce uint64) func(frame) bool {
	return func(f frame) bool { return f.Method != "" && f.Nonce == nonce }
}

func event(name string) func(frame) bool {
	return func(f frame) bool { return f.Event == name }
}

func localError(f frame) bool {
	return f.Method == "" && f.Event == "" && f.Error != nil
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t, false)

	resp, err := http.Get(h.server.URL + "/v1/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}

	_, resp, err = gorillaws.DefaultDialer.Dial(h.url("garbage"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token should be refused, got %v", err)
	}

	h.dial(h.creator)
	_, resp, err = gorillaws.DefaultDialer.Dial(h.url(h.token(h.creator)), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second session should be refused with 409, got %v", err)
	}
}

func TestCallsRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	creator := h.dial(h.creator)
	member := h.dial(h.member)

	call(t, creator, wsdto.MethodCreateRoom, 1, wsdto.CreateRoomRequest{Kind: "UserToCompany", CompanyID: h.company})
	resp := next(t, creator, response(1))
	if resp.Error != nil {
		t.Fatalf("create_room failed: %+v", resp.Error)
	}
	var created wsdto.CreateRoomResponse
	if err := json.Unmarshal(resp.Data, &created); err != nil || !created.Created {
		t.Fatalf("create_room data = %s, %v", resp.Data, err)
	}
	next(t, member, event(events.EventRoomCreatedWithYou))

	call(t, creator, wsdto.MethodSendMessage, 2, wsdto.SendMessageRequest{RoomID: created.RoomID, Content: "hello"})
	if resp := next(t, creator, response(2)); resp.Error != nil {
		t.Fatalf("send_message failed: %+v", resp.Error)
	}
	ev := next(t, member, event(events.EventRoomCreatedWithYou))
	var first events.RoomCreatedWithYou
	if err := json.Unmarshal(ev.Data, &first); err != nil || first.Message == nil || first.Message.Content != "hello" {
		t.Fatalf("first message event = %s", ev.Data)
	}

	call(t, member, wsdto.MethodSendMessage, 7, wsdto.SendMessageRequest{RoomID: created.RoomID, Content: "hi back"})
	ev = next(t, creator, event(events.EventNewMessage))
	var msg events.NewMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil || msg.Message.ID != 2 {
		t.Fatalf("new message event = %s", ev.Data)
	}
	next(t, member, response(7))

	call(t, creator, wsdto.MethodQueryRoom, 3, wsdto.QueryRoomRequest{RoomID: created.RoomID})
	resp = next(t, creator, response(3))
	var view wsdto.RoomView
	if err := json.Unmarshal(resp.Data, &view); err != nil || len(view.Messages) != 2 {
		t.Fatalf("query_room = %s, %v", resp.Data, err)
	}

	call(t, member, wsdto.MethodUpdateLastSeen, 8, wsdto.UpdateLastSeenRequest{RoomID: created.RoomID, SeenTill: 99})
	if resp := next(t, member, response(8)); resp.Error == nil || resp.Error.Code != services.CodeInvalidSeenID {
		t.Fatalf("seen past the end = %+v", resp.Error)
	}

	call(t, creator, wsdto.MethodListRooms, 4, nil)
	resp = next(t, creator, response(4))
	var list wsdto.ListRoomsResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil || len(list.Rooms) != 1 {
		t.Fatalf("list_rooms = %s, %v", resp.Data, err)
	}
}

func TestCallErrors(t *testing.T) {
	h := newHarness(t, true)
	conn := h.dial(h.outsider)

	call(t, conn, "delete_everything", 1, nil)
	if resp := next(t, conn, response(1)); resp.Error == nil || resp.Error.Code != services.CodeUnknownMethod {
		t.Fatalf("unknown method = %+v", resp)
	}

	call(t, conn, wsdto.MethodSendMessage, 2, "not an object")
	if resp := next(t, conn, response(2)); resp.Error == nil || resp.Error.Code != services.CodeInvalidInput {
		t.Fatalf("bad data = %+v", resp)
	}

	call(t, conn, wsdto.MethodQueryRoom, 3, wsdto.QueryRoomRequest{RoomID: uuid.New()})
	if resp := next(t, conn, response(3)); resp.Error == nil || resp.Error.Code != services.CodeNotAMember {
		t.Fatalf("unknown room = %+v", resp)
	}

	if err := conn.WriteJSON(map[string]any{"method": wsdto.MethodCurrentlyTyping, "data": map[string]any{"room_id": uuid.New(), "typing": true}}); err != nil {
		t.Fatal(err)
	}
	if f := next(t, conn, localError); f.Error.Code != services.CodeNotAMember {
		t.Fatalf("typing outside a room = %+v", f.Error)
	}
}

func TestTypingReachesOtherMembers(t *testing.T) {
	h := newHarness(t, true)
	creator := h.dial(h.creator)
	member := h.dial(h.member)

	call(t, creator, wsdto.MethodCreateRoom, 1, wsdto.CreateRoomRequest{Kind: "UserToCompany", CompanyID: h.company})
	var created wsdto.CreateRoomResponse
	if err := json.Unmarshal(next(t, creator, response(1)).Data, &created); err != nil {
		t.Fatal(err)
	}

	err := creator.WriteJSON(map[string]any{
		"method": wsdto.MethodCurrentlyTyping,
		"data":   wsdto.CurrentlyTypingRequest{RoomID: created.RoomID, Typing: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := next(t, member, event(events.EventTypingChange))
	var typing events.TypingChange
	if err := json.Unmarshal(ev.Data, &typing); err != nil || typing.UserID != h.creator || !typing.Typing {
		t.Fatalf("typing event = %s", ev.Data)
	}
	if !h.registry.Typing(h.creator, created.RoomID) {
		t.Fatal("registry should hold the typing flag")
	}
}

func TestMalformedFramesCloseConnection(t *testing.T) {
	h := newHarness(t, true)
	conn := h.dial(h.creator)

	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(gorillaws.TextMessage, []byte("{nope")); err != nil {
			t.Fatal(err)
		}
		if f := next(t, conn, localError); f.Error.Code != services.CodeMalformedFrame {
			t.Fatalf("malformed frame answer = %+v", f.Error)
		}
	}
	// a call without a nonce is malformed too
	if err := conn.WriteJSON(map[string]any{"method": wsdto.MethodListRooms}); err != nil {
		t.Fatal(err)
	}
	expectClose(t, conn, gorillaws.CloseProtocolError)
}

func TestValidFrameResetsMalformedCount(t *testing.T) {
	h := newHarness(t, true)
	conn := h.dial(h.creator)

	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(gorillaws.TextMessage, []byte("[]")); err != nil {
			t.Fatal(err)
		}
		next(t, conn, localError)
		if i%2 == 1 {
			call(t, conn, wsdto.MethodListRooms, uint64(i), nil)
			next(t, conn, response(uint64(i)))
		}
	}
}

func TestBinaryFrameClosesConnection(t *testing.T) {
	h := newHarness(t, true)
	conn := h.dial(h.creator)

	if err := conn.WriteMessage(gorillaws.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	expectClose(t, conn, gorillaws.CloseProtocolError)
}

func expectClose(t *testing.T, conn *gorillaws.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *gorillaws.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != code {
			t.Fatalf("expected close %d, got %v", code, err)
		}
		return
	}
}

func TestClientRateLimiter(t *testing.T) {
	rl := NewClientRateLimiter(RateLimits{MaxTypingEvents: 2, MaxViewingEvents: 1})
	if !rl.Allow(wsdto.MethodCurrentlyTyping) || !rl.Allow(wsdto.MethodCurrentlyTyping) {
		t.Fatal("budget should allow two typing events")
	}
	if rl.Allow(wsdto.MethodCurrentlyTyping) {
		t.Fatal("third typing event should be dropped")
	}
	if !rl.Allow(wsdto.MethodCurrentlyViewing) || rl.Allow(wsdto.MethodCurrentlyViewing) {
		t.Fatal("viewing budget is independent and holds one event")
	}
	if !rl.Allow(wsdto.MethodSendMessage) {
		t.Fatal("calls are never metered")
	}
}
