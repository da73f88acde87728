package websocket

import (
	"sort"
	"sync"
	"time"

	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/metrics"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PresenceListener is told about user-level changes. Calls happen outside
// every registry lock.
type PresenceListener interface {
	PresenceChanged(userID uuid.UUID, state presence.State)
	TypingChanged(userID, roomID uuid.UUID, typing bool)
}

type RegistryConfig struct {
	AllowMultiSession bool
	PresenceGrace     time.Duration
	SendBuffer        int
}

type userEntry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	presence presence.State
	typing   map[uuid.UUID]bool

	offlineTimer *time.Timer
	generation   uint64
}

// Registry tracks live sessions per user along with presence, typing flags
// and the pending-call table of each session. Lock order is r.mu, then an
// entry's mu.
type Registry struct {
	cfg      RegistryConfig
	listener PresenceListener
	logger   *zap.Logger

	mu    sync.Mutex
	users map[uuid.UUID]*userEntry
}

func NewRegistry(cfg RegistryConfig, listener PresenceListener, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		listener: listener,
		logger:   logger.With(zap.String("component", "registry")),
		users:    make(map[uuid.UUID]*userEntry),
	}
}

// SetListener replaces the presence listener. It must be called before the
// first Register.
func (r *Registry) SetListener(l PresenceListener) {
	r.listener = l
}

// entry returns the user's entry with its lock held, or nil.
func (r *Registry) entry(userID uuid.UUID, create bool) *userEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		if !create {
			return nil
		}
		e = &userEntry{
			sessions: make(map[string]*Session),
			presence: presence.Offline,
			typing:   make(map[uuid.UUID]bool),
		}
		r.users[userID] = e
		metrics.OnlineUsers.Inc()
	}
	e.mu.Lock()
	return e
}

// Register opens a session for the user. A pending offline transition is
// cancelled.
func (r *Registry) Register(userID uuid.UUID) (*Session, error) {
	e := r.entry(userID, true)

	if len(e.sessions) > 0 && !r.cfg.AllowMultiSession {
		e.mu.Unlock()
		return nil, dealroom_errors.ErrAlreadyRegistered
	}
	if e.offlineTimer != nil {
		e.offlineTimer.Stop()
		e.offlineTimer = nil
	}
	e.generation++

	s := newSession(userID, r.cfg.SendBuffer)
	e.sessions[s.ID] = s
	before := e.presence
	e.presence = strongest(e.sessions)
	after := e.presence
	e.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.logger.Debug("session registered",
		zap.String("user_id", userID.String()),
		zap.String("session_id", s.ID),
	)
	if before != after {
		r.notifyPresence(userID, after)
	}
	return s, nil
}

// Unregister closes the session. When it was the user's last one the user
// goes Offline after the grace period unless a new session registers first.
func (r *Registry) Unregister(s *Session) {
	e := r.entry(s.UserID, false)
	if e == nil {
		s.close()
		return
	}
	if _, ok := e.sessions[s.ID]; !ok {
		e.mu.Unlock()
		s.close()
		return
	}
	delete(e.sessions, s.ID)
	s.close()
	metrics.ActiveSessions.Dec()

	if len(e.sessions) > 0 {
		before := e.presence
		e.presence = strongest(e.sessions)
		after := e.presence
		e.mu.Unlock()
		if before != after {
			r.notifyPresence(s.UserID, after)
		}
		return
	}

	e.generation++
	gen := e.generation
	userID := s.UserID
	if r.cfg.PresenceGrace <= 0 {
		e.mu.Unlock()
		r.expire(userID, gen)
		return
	}
	e.offlineTimer = time.AfterFunc(r.cfg.PresenceGrace, func() {
		r.expire(userID, gen)
	})
	e.mu.Unlock()
}

func (r *Registry) expire(userID uuid.UUID, gen uint64) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.mu.Lock()
	if e.generation != gen || len(e.sessions) > 0 {
		e.mu.Unlock()
		r.mu.Unlock()
		return
	}
	delete(r.users, userID)
	metrics.OnlineUsers.Dec()
	before := e.presence
	typing := make([]uuid.UUID, 0, len(e.typing))
	for roomID, on := range e.typing {
		if on {
			typing = append(typing, roomID)
		}
	}
	e.offlineTimer = nil
	e.mu.Unlock()
	r.mu.Unlock()

	for _, roomID := range typing {
		r.notifyTyping(userID, roomID, false)
	}
	if before != presence.Offline {
		r.notifyPresence(userID, presence.Offline)
	}
}

// SetPresence records the session's own state. The user's presence is the
// strongest state across their sessions.
func (r *Registry) SetPresence(s *Session, state presence.State) error {
	if !state.Valid() {
		return dealroom_errors.ErrInvalidInput
	}
	return r.update(s, func(e *userEntry) {
		s.state = state
	})
}

// SetViewing records the room the session has open. Viewing a room marks the
// session Online, viewing nothing marks it Away.
func (r *Registry) SetViewing(s *Session, roomID uuid.NullUUID) error {
	return r.update(s, func(e *userEntry) {
		s.viewing = roomID
		if roomID.Valid {
			s.state = presence.Online
		} else {
			s.state = presence.Away
		}
	})
}

func (r *Registry) update(s *Session, apply func(e *userEntry)) error {
	e := r.entry(s.UserID, false)
	if e == nil {
		return dealroom_errors.ErrSessionClosed
	}
	if _, ok := e.sessions[s.ID]; !ok {
		e.mu.Unlock()
		return dealroom_errors.ErrSessionClosed
	}
	apply(e)
	before := e.presence
	e.presence = strongest(e.sessions)
	after := e.presence
	e.mu.Unlock()

	if before != after {
		r.notifyPresence(s.UserID, after)
	}
	return nil
}

// SetTyping sets the user's typing flag for a room. Only changes are reported.
func (r *Registry) SetTyping(s *Session, roomID uuid.UUID, typing bool) error {
	e := r.entry(s.UserID, false)
	if e == nil {
		return dealroom_errors.ErrSessionClosed
	}
	if _, ok := e.sessions[s.ID]; !ok {
		e.mu.Unlock()
		return dealroom_errors.ErrSessionClosed
	}
	changed := e.typing[roomID] != typing
	if typing {
		e.typing[roomID] = true
	} else {
		delete(e.typing, roomID)
	}
	e.mu.Unlock()

	if changed {
		r.notifyTyping(s.UserID, roomID, typing)
	}
	return nil
}

// Viewing returns the room the session currently has open.
func (r *Registry) Viewing(s *Session) uuid.NullUUID {
	e := r.entry(s.UserID, false)
	if e == nil {
		return uuid.NullUUID{}
	}
	defer e.mu.Unlock()
	return s.viewing
}

// Correlate registers the callback that answers nonce on this session.
func (r *Registry) Correlate(s *Session, nonce uint64, callback func(Result)) error {
	return s.correlate(nonce, callback)
}

// Resolve answers a pending call. Unknown nonces are logged and ignored, so a
// nonce is answered at most once.
func (r *Registry) Resolve(s *Session, nonce uint64, result Result) bool {
	if s.resolve(nonce, result) {
		return true
	}
	r.logger.Debug("resolve for unknown nonce",
		zap.String("session_id", s.ID),
		zap.Uint64("nonce", nonce),
	)
	return false
}

// Sessions returns the user's live sessions in connect order.
func (r *Registry) Sessions(userID uuid.UUID) []*Session {
	e := r.entry(userID, false)
	if e == nil {
		return nil
	}
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	e := r.entry(userID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return len(e.sessions) > 0
}

// Presence reports the user's state. A user inside the grace period keeps
// the state they had before their last session closed.
func (r *Registry) Presence(userID uuid.UUID) presence.State {
	e := r.entry(userID, false)
	if e == nil {
		return presence.Offline
	}
	defer e.mu.Unlock()
	return e.presence
}

// Present returns every user whose presence is not Offline, grace period
// included.
func (r *Registry) Present() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, e := range r.users {
		e.mu.Lock()
		if e.presence != presence.Offline {
			out = append(out, id)
		}
		e.mu.Unlock()
	}
	return out
}

// Typing reports whether the user is typing in the room.
func (r *Registry) Typing(userID, roomID uuid.UUID) bool {
	e := r.entry(userID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return e.typing[roomID]
}

// CloseAll closes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*Session
	for _, e := range r.users {
		e.mu.Lock()
		for _, s := range e.sessions {
			all = append(all, s)
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	for _, s := range all {
		r.Unregister(s)
	}
}

func (r *Registry) notifyPresence(userID uuid.UUID, state presence.State) {
	r.logger.Debug("presence changed",
		zap.String("user_id", userID.String()),
		zap.String("state", string(state)),
	)
	if r.listener != nil {
		r.listener.PresenceChanged(userID, state)
	}
}

func (r *Registry) notifyTyping(userID, roomID uuid.UUID, typing bool) {
	if r.listener != nil {
		r.listener.TypingChanged(userID, roomID, typing)
	}
}

func strongest(sessions map[string]*Session) presence.State {
	states := make([]presence.State, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.state)
	}
	return presence.Strongest(states...)
}
