package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dealroom-chat/config"
	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/domain/user"
	"dealroom-chat/internal/events"
	"dealroom-chat/internal/repository"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex[string]()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("room")
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("%d holders at once", maxInside.Load())
	}
	if km.Len() != 0 {
		t.Fatalf("released keys should be forgotten, %d left", km.Len())
	}

	// distinct keys never block each other
	a := km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
	a()
}

func TestWorkerPoolRunsAndRejectsWhenFull(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(context.Background())

	if err := p.Submit(func(ctx context.Context) { close(started); <-release }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	var ran atomic.Bool
	if err := p.Submit(func(ctx context.Context) { ran.Store(true) }); err != nil {
		t.Fatalf("queued submit: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, dealroom_errors.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	p.Stop()
	if !ran.Load() {
		t.Fatal("queued job should run before Stop returns")
	}
	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, dealroom_errors.ErrQueueFull) {
		t.Fatalf("stopped pool should refuse jobs, got %v", err)
	}
}

func TestWorkerPoolSurvivesPanics(t *testing.T) {
	p := NewWorkerPool(1, 4, nil)
	p.Start(context.Background())
	var ran atomic.Bool
	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	_ = p.Submit(func(ctx context.Context) { ran.Store(true) })
	p.Stop()
	if !ran.Load() {
		t.Fatal("worker died with the panicking job")
	}
}

type recordingMirror struct {
	mu        sync.Mutex
	states    map[uuid.UUID]presence.State
	resets    int
	refreshed [][]uuid.UUID
}

func (m *recordingMirror) SetState(ctx context.Context, userID uuid.UUID, state presence.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = state
	return nil
}

func (m *recordingMirror) Refresh(ctx context.Context, userIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed = append(m.refreshed, userIDs)
	return nil
}

func (m *recordingMirror) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.states = map[uuid.UUID]presence.State{}
	return nil
}

func (m *recordingMirror) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshed)
}

type staticPresent []uuid.UUID

func (p staticPresent) Present() []uuid.UUID {
	return p
}

func TestPresenceNotifierTargetsCoMembers(t *testing.T) {
	f := newFixture(t)
	r := f.room(t)
	pub := &recordingPublisher{}
	mirror := &recordingMirror{states: map[uuid.UUID]presence.State{}}
	n := NewPresenceNotifier(f.svc, pub, mirror, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	n.PresenceChanged(f.creator, presence.Away)
	n.TypingChanged(f.companyA, r.ID, true)
	cancel()
	<-n.Done()

	activity := pub.named(events.EventActivityChange)
	if len(activity) != 1 {
		t.Fatalf("activity events = %d", len(activity))
	}
	if len(activity[0].targets) != 2 || containsID(activity[0].targets, f.creator) {
		t.Fatalf("activity targets = %v", activity[0].targets)
	}
	typing := pub.named(events.EventTypingChange)
	if len(typing) != 1 || containsID(typing[0].targets, f.companyA) || len(typing[0].targets) != 2 {
		t.Fatalf("typing events = %+v", typing)
	}
	if mirror.states[f.creator] != presence.Away {
		t.Fatal("presence not mirrored")
	}
}

func TestPresenceNotifierMaintainsMirror(t *testing.T) {
	f := newFixture(t)
	mirror := &recordingMirror{states: map[uuid.UUID]presence.State{uuid.New(): presence.Online}}
	n := NewPresenceNotifier(f.svc, &recordingPublisher{}, mirror, nil)
	n.RefreshMirror(staticPresent{f.creator}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	n.PresenceChanged(f.creator, presence.Online)

	deadline := time.Now().Add(2 * time.Second)
	for mirror.refreshCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("mirror was not refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-n.Done()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if mirror.resets != 1 {
		t.Fatalf("resets = %d", mirror.resets)
	}
	// the stale entry from before startup is gone, the live one survives
	if len(mirror.states) != 1 || mirror.states[f.creator] != presence.Online {
		t.Fatalf("mirrored states = %v", mirror.states)
	}
	if got := mirror.refreshed[0]; len(got) != 1 || got[0] != f.creator {
		t.Fatalf("refreshed = %v", got)
	}
}

type countingProvider struct {
	repository.IdentityProvider
	calls atomic.Int32
}

func (c *countingProvider) GetUser(ctx context.Context, id uuid.UUID) (user.Info, error) {
	c.calls.Add(1)
	return c.IdentityProvider.GetUser(ctx, id)
}

type mapCache struct {
	mu        sync.Mutex
	users     map[uuid.UUID]user.Info
	companies map[uuid.UUID][]uuid.UUID
}

func (m *mapCache) GetUser(ctx context.Context, id uuid.UUID) (*user.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *mapCache) SetUser(ctx context.Context, info user.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[info.ID] = info
	return nil
}

func (m *mapCache) GetCompanyMembers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.companies[id], nil
}

func (m *mapCache) SetCompanyMembers(ctx context.Context, id uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[id] = ids
	return nil
}

func TestIdentityServiceCaches(t *testing.T) {
	static := repository.NewStaticIdentityProvider()
	u := user.Info{ID: uuid.New(), DisplayName: "Dana", CompanyIDs: []uuid.UUID{uuid.New()}}
	static.Put(u)
	provider := &countingProvider{IdentityProvider: static}
	cache := &mapCache{users: map[uuid.UUID]user.Info{}, companies: map[uuid.UUID][]uuid.UUID{}}
	svc := NewIdentityService(provider, cache, nil)

	for i := 0; i < 3; i++ {
		got, err := svc.GetUser(context.Background(), u.ID)
		if err != nil || got.DisplayName != "Dana" {
			t.Fatalf("get user = %+v, %v", got, err)
		}
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("provider called %d times", provider.calls.Load())
	}

	members, err := svc.CompanyMembers(context.Background(), u.CompanyIDs[0])
	if err != nil || len(members) != 1 || members[0] != u.ID {
		t.Fatalf("company members = %v, %v", members, err)
	}
	if _, err := svc.GetUser(context.Background(), uuid.New()); !errors.Is(err, dealroom_errors.ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		dealroom_errors.ErrNotAMember:                                    CodeNotAMember,
		dealroom_errors.ErrIllegalContractTransition:                     CodeIllegalContractTransition,
		errors.Join(errors.New("ctx"), dealroom_errors.ErrInvalidSeenID): CodeInvalidSeenID,
		dealroom_errors.ErrAlreadyExists:                                 CodeConflict,
		errors.New("boom"):                                               CodeInternal,
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Errorf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
	if PublicMessage(errors.New("pq: password leaked")) != "internal error" {
		t.Fatal("internal errors must not be echoed")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "secret", JWTAccessTTL: time.Minute})
	userID := uuid.New()

	token, ttl, err := svc.IssueAccessToken(userID)
	if err != nil || ttl != 60 {
		t.Fatalf("issue = %d, %v", ttl, err)
	}
	got, err := svc.Authenticate(token)
	if err != nil || got != userID {
		t.Fatalf("authenticate = %v, %v", got, err)
	}

	other := NewAuthService(&config.Config{JWTSecret: "other"})
	if _, err := other.Authenticate(token); !errors.Is(err, dealroom_errors.ErrUnauthorized) {
		t.Fatalf("wrong secret: %v", err)
	}
	if _, err := svc.Authenticate(""); !errors.Is(err, dealroom_errors.ErrUnauthorized) {
		t.Fatalf("empty token: %v", err)
	}
}

var _ RoomDirectory = (*RoomService)(nil)
