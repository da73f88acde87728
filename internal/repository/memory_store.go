package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
)

type pairKey struct {
	companyID uuid.UUID
	userID    uuid.UUID
}

type memoryRoom struct {
	mu          sync.Mutex
	room        room.Room
	messages    []message.Message
	lastSeen    map[uuid.UUID]room.LastSeen
	lastMessage int64
}

// MemoryRoomStore keeps everything in process memory. It backs tests and
// STORE_DRIVER=memory. Each room has its own mutex; the top-level lock only
// guards the indexes.
type MemoryRoomStore struct {
	mu          sync.RWMutex
	rooms       map[uuid.UUID]*memoryRoom
	pairs       map[pairKey]uuid.UUID
	offers      map[int64]contract.Offer
	transitions map[int64][]contract.Transition
	nextOffer   int64
	nextTrans   int64

	// FailReads, when set, is returned by read operations. Tests use it to
	// simulate an unreachable backend.
	FailReads func() error
}

var _ RoomStore = (*MemoryRoomStore)(nil)

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:       make(map[uuid.UUID]*memoryRoom),
		pairs:       make(map[pairKey]uuid.UUID),
		offers:      make(map[int64]contract.Offer),
		transitions: make(map[int64][]contract.Transition),
	}
}

func (s *MemoryRoomStore) readErr() error {
	if s.FailReads != nil {
		return s.FailReads()
	}
	return nil
}

func (s *MemoryRoomStore) get(roomID uuid.UUID) (*memoryRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, dealroom_errors.ErrNotFound
	}
	return r, nil
}

func (s *MemoryRoomStore) FindRoomByPair(ctx context.Context, companyID, userID uuid.UUID) (room.Room, error) {
	if err := s.readErr(); err != nil {
		return room.Room{}, err
	}
	s.mu.RLock()
	id, ok := s.pairs[pairKey{companyID, userID}]
	s.mu.RUnlock()
	if !ok {
		return room.Room{}, dealroom_errors.ErrNotFound
	}
	return s.GetRoom(ctx, id)
}

func (s *MemoryRoomStore) CreateRoom(ctx context.Context, r room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{r.CompanyID, r.UserID}
	if _, ok := s.pairs[key]; ok {
		return dealroom_errors.ErrAlreadyExists
	}
	if _, ok := s.rooms[r.ID]; ok {
		return dealroom_errors.ErrAlreadyExists
	}

	s.rooms[r.ID] = &memoryRoom{room: r, lastSeen: make(map[uuid.UUID]room.LastSeen)}
	s.pairs[key] = r.ID
	return nil
}

func (s *MemoryRoomStore) GetRoom(ctx context.Context, roomID uuid.UUID) (room.Room, error) {
	if err := s.readErr(); err != nil {
		return room.Room{}, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return room.Room{}, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.room, nil
}

func (s *MemoryRoomStore) ListUserRooms(ctx context.Context, userID uuid.UUID, companyIDs []uuid.UUID) ([]room.Room, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]*memoryRoom, 0, len(s.rooms))
	for _, mr := range s.rooms {
		all = append(all, mr)
	}
	s.mu.RUnlock()

	var rooms []room.Room
	for _, mr := range all {
		mr.mu.Lock()
		if mr.room.UserID == userID || slices.Contains(companyIDs, mr.room.CompanyID) {
			rooms = append(rooms, mr.room)
		}
		mr.mu.Unlock()
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// AppendMessage holds the room mutex for the whole operation, which makes
// allocation, adjudication and insertion a single step.
func (s *MemoryRoomStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	mr, err := s.get(in.RoomID)
	if err != nil {
		return AppendResult{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	nextID := mr.lastMessage + 1
	msg := in.Draft.Build(in.RoomID, in.AuthorID, nextID, now)
	var result AppendResult

	if change := in.Draft.Contract; change != nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		if change.Kind == contract.StatusProposedByCompany {
			s.nextOffer++
			offer := contract.Offer{
				ID:          s.nextOffer,
				RoomID:      in.RoomID,
				MessageID:   nextID,
				PayoutCents: change.PayoutCents,
				CreatedAt:   now,
			}
			s.offers[offer.ID] = offer
			msg.ContractOfferID = offer.ID
			result.Offer = &offer
		} else {
			offer, ok := s.offers[change.OfferID]
			if !ok || offer.RoomID != in.RoomID {
				return AppendResult{}, dealroom_errors.ErrNotFound
			}
			if in.Guard == nil {
				return AppendResult{}, dealroom_errors.ErrIllegalContractTransition
			}
			if err := in.Guard(offer, contract.State(s.transitions[offer.ID])); err != nil {
				return AppendResult{}, err
			}
			result.Offer = &offer
		}

		s.nextTrans++
		transition := contract.Transition{
			ID:        s.nextTrans,
			OfferID:   msg.ContractOfferID,
			RoomID:    in.RoomID,
			MessageID: nextID,
			Kind:      change.Kind,
			CreatedAt: now,
		}
		s.transitions[transition.OfferID] = append(s.transitions[transition.OfferID], transition)
		result.Transition = &transition
	}

	mr.messages = append(mr.messages, msg)
	mr.lastMessage = nextID
	if msg.CampaignID.Valid {
		mr.room.SelectedCampaignID = msg.CampaignID
	}

	result.Message = msg
	result.First = nextID == 1
	return result, nil
}

func (s *MemoryRoomStore) ListMessages(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]message.Message, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	var out []message.Message
	for i := len(mr.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := mr.messages[i]
		if before > 0 && m.ID >= before {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryRoomStore) MaxMessageID(ctx context.Context, roomID uuid.UUID) (int64, error) {
	if err := s.readErr(); err != nil {
		return 0, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return 0, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.lastMessage, nil
}

func (s *MemoryRoomStore) LastActivity(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]int64, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	activity := make(map[uuid.UUID]int64)
	for _, m := range mr.messages {
		activity[m.AuthorID] = m.ID
	}
	return activity, nil
}

func (s *MemoryRoomStore) GetLastSeen(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	if err := s.readErr(); err != nil {
		return 0, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return 0, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.lastSeen[userID].LastMessageSeenID, nil
}

func (s *MemoryRoomStore) ListLastSeen(ctx context.Context, roomID uuid.UUID) ([]room.LastSeen, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	mr, err := s.get(roomID)
	if err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	out := make([]room.LastSeen, 0, len(mr.lastSeen))
	for _, ls := range mr.lastSeen {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out, nil
}

func (s *MemoryRoomStore) AdvanceLastSeen(ctx context.Context, roomID, userID uuid.UUID, seenTill int64) (bool, error) {
	mr, err := s.get(roomID)
	if err != nil {
		return false, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if seenTill < 0 || seenTill > mr.lastMessage {
		return false, dealroom_errors.ErrInvalidSeenID
	}
	current := mr.lastSeen[userID].LastMessageSeenID
	if seenTill < current {
		return false, dealroom_errors.ErrInvalidSeenID
	}
	if seenTill == current {
		return false, nil
	}
	mr.lastSeen[userID] = room.LastSeen{
		RoomID:            roomID,
		UserID:            userID,
		LastMessageSeenID: seenTill,
		UpdatedAt:         time.Now().UTC(),
	}
	return true, nil
}

func (s *MemoryRoomStore) ListTransitions(ctx context.Context, offerID int64) ([]contract.Transition, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.transitions[offerID]
	out := make([]contract.Transition, len(history))
	copy(out, history)
	return out, nil
}
