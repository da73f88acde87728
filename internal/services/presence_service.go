package services

import (
	"context"
	"time"

	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/domain/room"
	"dealroom-chat/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomDirectory answers which rooms a user is in and who is in a room.
type RoomDirectory interface {
	RoomsOf(ctx context.Context, userID uuid.UUID) ([]room.Room, error)
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceMirror copies presence somewhere other processes can read it.
// Records expire unless refreshed.
type PresenceMirror interface {
	SetState(ctx context.Context, userID uuid.UUID, state presence.State) error
	Refresh(ctx context.Context, userIDs []uuid.UUID) error
	Reset(ctx context.Context) error
}

// PresentUsers lists the users currently not Offline.
type PresentUsers interface {
	Present() []uuid.UUID
}

const presenceQueueSize = 1024

// PresenceNotifier turns registry changes into ActivityChange and
// TypingChange events. Changes are handled one at a time, in the order the
// registry reported them.
type PresenceNotifier struct {
	rooms     RoomDirectory
	publisher EventPublisher
	mirror    PresenceMirror
	logger    *zap.Logger
	timeout   time.Duration

	present      PresentUsers
	refreshEvery time.Duration

	queue chan func(ctx context.Context)
	done  chan struct{}
}

func NewPresenceNotifier(rooms RoomDirectory, publisher EventPublisher, mirror PresenceMirror, logger *zap.Logger) *PresenceNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceNotifier{
		rooms:     rooms,
		publisher: publisher,
		mirror:    mirror,
		logger:    logger.With(zap.String("component", "presence")),
		timeout:   5 * time.Second,
		queue:     make(chan func(ctx context.Context), presenceQueueSize),
		done:      make(chan struct{}),
	}
}

// RefreshMirror makes Run re-extend the mirror records of present users
// every interval. It must be called before Run.
func (n *PresenceNotifier) RefreshMirror(present PresentUsers, every time.Duration) {
	n.present = present
	n.refreshEvery = every
}

// Run clears the mirror, then handles queued changes until ctx ends and
// drains what is left.
func (n *PresenceNotifier) Run(ctx context.Context) {
	defer close(n.done)

	var refresh <-chan time.Time
	if n.mirror != nil {
		n.execute(ctx, func(ctx context.Context) {
			if err := n.mirror.Reset(ctx); err != nil {
				n.logger.Warn("presence mirror reset failed", zap.Error(err))
			}
		})
		if n.present != nil && n.refreshEvery > 0 {
			ticker := time.NewTicker(n.refreshEvery)
			defer ticker.Stop()
			refresh = ticker.C
		}
	}

	for {
		select {
		case <-refresh:
			n.execute(ctx, n.refreshMirror)
		case <-ctx.Done():
			for {
				select {
				case task := <-n.queue:
					n.execute(context.WithoutCancel(ctx), task)
				default:
					return
				}
			}
		case task := <-n.queue:
			n.execute(ctx, task)
		}
	}
}

// Done is closed once Run has returned.
func (n *PresenceNotifier) Done() <-chan struct{} {
	return n.done
}

func (n *PresenceNotifier) refreshMirror(ctx context.Context) {
	ids := n.present.Present()
	if err := n.mirror.Refresh(ctx, ids); err != nil {
		n.logger.Warn("presence mirror refresh failed", zap.Int("users", len(ids)), zap.Error(err))
	}
}

func (n *PresenceNotifier) execute(ctx context.Context, task func(ctx context.Context)) {
	tctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	task(tctx)
}

func (n *PresenceNotifier) enqueue(kind string, userID uuid.UUID, task func(ctx context.Context)) {
	select {
	case n.queue <- task:
	default:
		n.logger.Warn("presence queue full, dropping change",
			zap.String("kind", kind),
			zap.String("user_id", userID.String()),
		)
	}
}

func (n *PresenceNotifier) PresenceChanged(userID uuid.UUID, state presence.State) {
	n.enqueue("activity", userID, func(ctx context.Context) {
		if n.mirror != nil {
			if err := n.mirror.SetState(ctx, userID, state); err != nil {
				n.logger.Warn("presence mirror write failed", zap.String("user_id", userID.String()), zap.Error(err))
			}
		}

		targets, err := n.coMembers(ctx, userID)
		if err != nil {
			n.logger.Warn("cannot resolve rooms for presence change", zap.String("user_id", userID.String()), zap.Error(err))
			return
		}
		if len(targets) == 0 {
			return
		}
		n.publisher.Publish(ctx, events.ActivityChange{UserID: userID, State: state}, targets)
	})
}

func (n *PresenceNotifier) TypingChanged(userID, roomID uuid.UUID, typing bool) {
	n.enqueue("typing", userID, func(ctx context.Context) {
		members, err := n.rooms.Members(ctx, roomID)
		if err != nil {
			n.logger.Warn("cannot resolve members for typing change", zap.String("room_id", roomID.String()), zap.Error(err))
			return
		}
		targets := make([]uuid.UUID, 0, len(members))
		for _, id := range members {
			if id != userID {
				targets = append(targets, id)
			}
		}
		n.publisher.Publish(ctx, events.TypingChange{RoomID: roomID, UserID: userID, Typing: typing}, targets)
	})
}

// coMembers returns everyone sharing at least one room with the user.
func (n *PresenceNotifier) coMembers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rooms, err := n.rooms.RoomsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]struct{}{userID: {}}
	var out []uuid.UUID
	for _, r := range rooms {
		members, err := n.rooms.Members(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}
