package websocket

import (
	"sync"
	"time"

	"dealroom-chat/internal/domain/presence"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const sendBufferSize = 256

// Result completes a correlated call.
type Result struct {
	Data any
	Err  error
}

// Session is one live connection of a user. The transport drains Outbound;
// everything else only enqueues.
type Session struct {
	ID          string // ulid, sortable by connect time
	UserID      uuid.UUID
	ConnectedAt time.Time

	send   chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	// guarded by the owning user entry's lock
	state   presence.State
	viewing uuid.NullUUID

	pendingMu sync.Mutex
	pending   map[uint64]func(Result)
}

func newSession(userID uuid.UUID, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = sendBufferSize
	}
	now := time.Now()
	return &Session{
		ID:          ulid.Make().String(),
		UserID:      userID,
		ConnectedAt: now,
		send:        make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		state:       presence.Online,
		pending:     make(map[uint64]func(Result)),
	}
}

// Outbound is closed when the session closes.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue appends a frame without blocking. It returns false when the session
// is closed or its buffer is full.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	close(s.done)

	s.pendingMu.Lock()
	s.pending = make(map[uint64]func(Result))
	s.pendingMu.Unlock()
	return true
}

func (s *Session) correlate(nonce uint64, callback func(Result)) error {
	if s.Closed() {
		return dealroom_errors.ErrSessionClosed
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[nonce]; ok {
		return dealroom_errors.ErrDuplicateNonce
	}
	s.pending[nonce] = callback
	return nil
}

func (s *Session) resolve(nonce uint64, result Result) bool {
	s.pendingMu.Lock()
	callback, ok := s.pending[nonce]
	if ok {
		delete(s.pending, nonce)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	callback(result)
	return true
}

// PendingCalls reports how many calls await a response.
func (s *Session) PendingCalls() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}
