package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"
	"dealroom-chat/internal/domain/user"
)

// RoomStore is the durable side of the messaging core. Every method returns
// either a domain error from pkg/errors or one wrapping ErrStoreUnavailable.
type RoomStore interface {
	FindRoomByPair(ctx context.Context, companyID, userID uuid.UUID) (room.Room, error)
	// CreateRoom persists the room and its id allocator.
	// ErrAlreadyExists when the (company, user) pair is taken.
	CreateRoom(ctx context.Context, r room.Room) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (room.Room, error)
	// ListUserRooms returns the rooms whose user is userID or whose company
	// is one of companyIDs, newest first.
	ListUserRooms(ctx context.Context, userID uuid.UUID, companyIDs []uuid.UUID) ([]room.Room, error)

	// AppendMessage allocates the next id of the room and persists the
	// message together with its contract change in one atomic operation.
	AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error)
	// ListMessages returns up to limit messages with id < before, newest first.
	// before <= 0 means no upper bound.
	ListMessages(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]message.Message, error)
	MaxMessageID(ctx context.Context, roomID uuid.UUID) (int64, error)
	// LastActivity maps each author to the id of their latest message.
	LastActivity(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]int64, error)

	GetLastSeen(ctx context.Context, roomID, userID uuid.UUID) (int64, error)
	ListLastSeen(ctx context.Context, roomID uuid.UUID) ([]room.LastSeen, error)
	// AdvanceLastSeen moves the watermark. It returns false when seenTill
	// equals the stored value and ErrInvalidSeenID when it is lower or above
	// the room's highest id.
	AdvanceLastSeen(ctx context.Context, roomID, userID uuid.UUID, seenTill int64) (bool, error)

	ListTransitions(ctx context.Context, offerID int64) ([]contract.Transition, error)
}

// TransitionGuard adjudicates a contract transition against the offer's
// current state. Stores call it while the offer is locked and before anything
// is written; a non-nil error aborts the whole append.
type TransitionGuard func(offer contract.Offer, current contract.Status) error

type AppendInput struct {
	RoomID   uuid.UUID
	AuthorID uuid.UUID
	Draft    message.Draft
	Guard    TransitionGuard
	Now      time.Time
}

type AppendResult struct {
	Message    message.Message
	Offer      *contract.Offer
	Transition *contract.Transition
	// First is true when the message is the room's first one.
	First bool
}

// IdentityProvider is the read-only window on the profile subsystem.
type IdentityProvider interface {
	GetUser(ctx context.Context, userID uuid.UUID) (user.Info, error)
	CompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error)
}
