package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/domain/room"
	"dealroom-chat/internal/domain/user"
	"dealroom-chat/internal/events"
	"dealroom-chat/internal/metrics"
	"dealroom-chat/internal/repository"
	"dealroom-chat/internal/transport/wsdto"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventPublisher delivers an event to the given users.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event, targets []uuid.UUID)
}

// PresenceReader reports a user's current state.
type PresenceReader interface {
	Presence(userID uuid.UUID) presence.State
}

// MessageLimiter throttles message authors.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AttachmentResolver turns an attachment key into a URL clients can fetch.
type AttachmentResolver interface {
	AttachmentURL(ctx context.Context, key string) (string, error)
}

type RoomServiceConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	ReadRetries     int
	RetryBackoff    time.Duration
}

func (c RoomServiceConfig) withDefaults() RoomServiceConfig {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 200
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.ReadRetries < 0 {
		c.ReadRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	return c
}

type pairKey struct {
	companyID uuid.UUID
	userID    uuid.UUID
}

// RoomService owns room membership, message insertion and unread
// bookkeeping. Appends to one room are serialized from allocation through
// publication so subscribers see ids in order.
type RoomService struct {
	store       repository.RoomStore
	identity    repository.IdentityProvider
	publisher   EventPublisher
	presence    PresenceReader
	limiter     MessageLimiter
	attachments AttachmentResolver
	cfg         RoomServiceConfig
	logger      *zap.Logger
	clock       func() time.Time

	roomLocks  *KeyedMutex[uuid.UUID]
	offerLocks *KeyedMutex[int64]
	pairLocks  *KeyedMutex[pairKey]
}

func NewRoomService(
	store repository.RoomStore,
	identity repository.IdentityProvider,
	publisher EventPublisher,
	presence PresenceReader,
	cfg RoomServiceConfig,
	logger *zap.Logger,
) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{
		store:      store,
		identity:   identity,
		publisher:  publisher,
		presence:   presence,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(zap.String("component", "room_service")),
		clock:      time.Now,
		roomLocks:  NewKeyedMutex[uuid.UUID](),
		offerLocks: NewKeyedMutex[int64](),
		pairLocks:  NewKeyedMutex[pairKey](),
	}
}

// SetRateLimiter enables per-author message throttling.
func (s *RoomService) SetRateLimiter(l MessageLimiter) {
	s.limiter = l
}

// SetAttachmentResolver enables attachment URLs on returned messages.
func (s *RoomService) SetAttachmentResolver(r AttachmentResolver) {
	s.attachments = r
}

// retryRead runs a read, retrying when the store reports it is unavailable.
func retryRead[T any](ctx context.Context, s *RoomService, op string, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt <= s.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreRetries.Inc()
			s.logger.Debug("retrying store read", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			}
		}
		out, err = fn()
		if err == nil || !errors.Is(err, dealroom_errors.ErrStoreUnavailable) {
			return out, err
		}
	}
	return out, err
}

// roomMembers resolves the room's members against the company's current
// member list.
func (s *RoomService) roomMembers(ctx context.Context, r room.Room) ([]uuid.UUID, error) {
	companyMembers, err := retryRead(ctx, s, "company_members", func() ([]uuid.UUID, error) {
		return s.identity.CompanyMembers(ctx, r.CompanyID)
	})
	if err != nil {
		return nil, err
	}
	return r.Members(companyMembers), nil
}

func (s *RoomService) loadRoom(ctx context.Context, roomID uuid.UUID) (room.Room, []uuid.UUID, error) {
	r, err := retryRead(ctx, s, "get_room", func() (room.Room, error) {
		return s.store.GetRoom(ctx, roomID)
	})
	if err != nil {
		return room.Room{}, nil, err
	}
	members, err := s.roomMembers(ctx, r)
	if err != nil {
		return room.Room{}, nil, err
	}
	return r, members, nil
}

// loadMemberRoom is loadRoom plus the membership check. Unknown rooms read
// as ErrNotAMember so room ids cannot be probed.
func (s *RoomService) loadMemberRoom(ctx context.Context, roomID, userID uuid.UUID) (room.Room, []uuid.UUID, error) {
	r, members, err := s.loadRoom(ctx, roomID)
	if errors.Is(err, dealroom_errors.ErrNotFound) {
		return room.Room{}, nil, dealroom_errors.ErrNotAMember
	}
	if err != nil {
		return room.Room{}, nil, err
	}
	if !containsID(members, userID) {
		return room.Room{}, nil, dealroom_errors.ErrNotAMember
	}
	return r, members, nil
}

// CreateRoom returns the room of the (company, user) pair the direction
// designates, creating it when missing. created is false when it existed.
func (s *RoomService) CreateRoom(ctx context.Context, initiator uuid.UUID, dir room.Direction) (room.Room, bool, error) {
	if dir.CompanyID == uuid.Nil {
		return room.Room{}, false, dealroom_errors.ErrInvalidInput
	}

	companyMembers, err := retryRead(ctx, s, "company_members", func() ([]uuid.UUID, error) {
		return s.identity.CompanyMembers(ctx, dir.CompanyID)
	})
	if err != nil {
		return room.Room{}, false, err
	}
	if len(companyMembers) == 0 {
		return room.Room{}, false, fmt.Errorf("company %s: %w", dir.CompanyID, dealroom_errors.ErrNotFound)
	}

	var userID uuid.UUID
	switch dir.Kind {
	case room.UserToCompany:
		userID = initiator
	case room.CompanyToUser:
		if !containsID(companyMembers, initiator) {
			return room.Room{}, false, fmt.Errorf("initiator is not in company %s: %w", dir.CompanyID, dealroom_errors.ErrForbidden)
		}
		if dir.ToUserID == uuid.Nil {
			return room.Room{}, false, dealroom_errors.ErrInvalidInput
		}
		if _, err := retryRead(ctx, s, "get_user", func() (user.Info, error) {
			return s.identity.GetUser(ctx, dir.ToUserID)
		}); err != nil {
			return room.Room{}, false, err
		}
		userID = dir.ToUserID
	default:
		return room.Room{}, false, dealroom_errors.ErrInvalidInput
	}

	if containsID(companyMembers, userID) {
		return room.Room{}, false, fmt.Errorf("%w: cannot open a room with a member of the same company", dealroom_errors.ErrInvalidInput)
	}

	unlock := s.pairLocks.Lock(pairKey{dir.CompanyID, userID})
	defer unlock()

	existing, err := retryRead(ctx, s, "find_room", func() (room.Room, error) {
		return s.store.FindRoomByPair(ctx, dir.CompanyID, userID)
	})
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, dealroom_errors.ErrNotFound) {
		return room.Room{}, false, err
	}

	r := room.Room{
		ID:        uuid.New(),
		CompanyID: dir.CompanyID,
		UserID:    userID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.CreateRoom(ctx, r); err != nil {
		if errors.Is(err, dealroom_errors.ErrAlreadyExists) {
			// lost the race against another process; the winner's room stands
			existing, ferr := retryRead(ctx, s, "find_room", func() (room.Room, error) {
				return s.store.FindRoomByPair(ctx, dir.CompanyID, userID)
			})
			if ferr != nil {
				return room.Room{}, false, ferr
			}
			return existing, false, nil
		}
		return room.Room{}, false, err
	}

	metrics.RoomsCreated.Inc()
	s.logger.Info("room created",
		zap.String("room_id", r.ID.String()),
		zap.String("company_id", r.CompanyID.String()),
		zap.String("user_id", r.UserID.String()),
		zap.String("initiator", initiator.String()),
	)
	s.publisher.Publish(ctx, events.RoomCreatedWithYou{
		RoomID:    r.ID,
		CompanyID: r.CompanyID,
		UserID:    r.UserID,
	}, r.Members(companyMembers))

	return r, true, nil
}

// SendMessage appends a message to the room and fans it out to every member.
// A contract change is adjudicated inside the same store operation; a
// rejection leaves nothing behind.
func (s *RoomService) SendMessage(ctx context.Context, roomID, authorID uuid.UUID, draft message.Draft) (wsdto.Message, error) {
	if err := draft.Validate(); err != nil {
		return wsdto.Message{}, err
	}

	r, members, err := s.loadMemberRoom(ctx, roomID, authorID)
	if err != nil {
		return wsdto.Message{}, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.AllowMessage(ctx, authorID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing message", zap.String("user_id", authorID.String()), zap.Error(err))
		} else if !allowed {
			return wsdto.Message{}, dealroom_errors.ErrRateLimited
		}
	}

	side := contract.SideCompany
	if authorID == r.UserID {
		side = contract.SideCreator
	}

	var guard repository.TransitionGuard
	if change := draft.Contract; change != nil {
		if change.Kind == contract.StatusProposedByCompany {
			if err := contract.ValidateProposal(change.PayoutCents, side); err != nil {
				metrics.ContractTransitions.WithLabelValues(string(change.Kind), "rejected").Inc()
				return wsdto.Message{}, err
			}
		} else {
			unlockOffer := s.offerLocks.Lock(change.OfferID)
			defer unlockOffer()
			kind := change.Kind
			guard = func(offer contract.Offer, current contract.Status) error {
				return contract.AdjudicateBy(current, kind, side)
			}
		}
	}

	unlock := s.roomLocks.Lock(roomID)
	defer unlock()

	res, err := s.store.AppendMessage(ctx, repository.AppendInput{
		RoomID:   roomID,
		AuthorID: authorID,
		Draft:    draft,
		Guard:    guard,
		Now:      s.clock().UTC(),
	})
	if err != nil {
		if draft.Contract != nil {
			metrics.ContractTransitions.WithLabelValues(string(draft.Contract.Kind), "rejected").Inc()
		}
		return wsdto.Message{}, err
	}

	if res.Transition != nil {
		metrics.ContractTransitions.WithLabelValues(string(res.Transition.Kind), "accepted").Inc()
		metrics.MessagesAppended.WithLabelValues("contract").Inc()
		s.logger.Info("contract transition recorded",
			zap.String("room_id", roomID.String()),
			zap.Int64("offer_id", res.Transition.OfferID),
			zap.String("kind", string(res.Transition.Kind)),
			zap.Int64("message_id", res.Message.ID),
		)
	} else {
		metrics.MessagesAppended.WithLabelValues("text").Inc()
	}

	dto := s.messageDTO(ctx, res.Message)
	if res.First {
		s.publisher.Publish(ctx, events.RoomCreatedWithYou{
			RoomID:    r.ID,
			CompanyID: r.CompanyID,
			UserID:    r.UserID,
			Message:   &dto,
		}, members)
	} else {
		s.publisher.Publish(ctx, events.NewMessage{RoomID: roomID, Message: dto}, members)
	}
	return dto, nil
}

// UpdateLastSeen advances the user's watermark. Repeating the stored value
// is a no-op without an event.
func (s *RoomService) UpdateLastSeen(ctx context.Context, roomID, userID uuid.UUID, seenTill int64) error {
	_, members, err := s.loadMemberRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}

	unlock := s.roomLocks.Lock(roomID)
	defer unlock()

	changed, err := s.store.AdvanceLastSeen(ctx, roomID, userID, seenTill)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.publisher.Publish(ctx, events.NewLastView{
		RoomID:            roomID,
		UserID:            userID,
		LastMessageSeenID: seenTill,
	}, otherMembers(members, userID))
	return nil
}

// ListRooms returns every room of the user, newest first.
func (s *RoomService) ListRooms(ctx context.Context, userID uuid.UUID) ([]wsdto.RoomSummary, error) {
	rooms, err := s.RoomsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]wsdto.RoomSummary, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, r := range rooms {
		i, r := i, r
		g.Go(func() error {
			summary, err := s.summarize(gctx, r, userID)
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *RoomService) summarize(ctx context.Context, r room.Room, userID uuid.UUID) (wsdto.RoomSummary, error) {
	members, err := s.roomMembers(ctx, r)
	if err != nil {
		return wsdto.RoomSummary{}, err
	}
	latest, err := retryRead(ctx, s, "list_messages", func() ([]message.Message, error) {
		return s.store.ListMessages(ctx, r.ID, 0, 1)
	})
	if err != nil {
		return wsdto.RoomSummary{}, err
	}
	lastSeen, err := retryRead(ctx, s, "get_last_seen", func() (int64, error) {
		return s.store.GetLastSeen(ctx, r.ID, userID)
	})
	if err != nil {
		return wsdto.RoomSummary{}, err
	}
	activity, err := retryRead(ctx, s, "last_activity", func() (map[uuid.UUID]int64, error) {
		return s.store.LastActivity(ctx, r.ID)
	})
	if err != nil {
		return wsdto.RoomSummary{}, err
	}

	summary := wsdto.RoomSummary{
		RoomID:             r.ID,
		CompanyID:          r.CompanyID,
		UserID:             r.UserID,
		SelectedCampaignID: wsdto.NullableUUID(r.SelectedCampaignID),
		Participants:       s.participants(ctx, members, activity),
	}
	var maxID int64
	if len(latest) > 0 {
		dto := s.messageDTO(ctx, latest[0])
		summary.LastMessage = &dto
		maxID = latest[0].ID
	}
	summary.Unread = room.Unread(maxID, lastSeen)
	return summary, nil
}

// QueryRoom returns the room's members, a page of messages in ascending id
// order, every member's watermark and the caller's unread count. qty nil
// means the default page size; before nil means the newest messages.
func (s *RoomService) QueryRoom(ctx context.Context, roomID, userID uuid.UUID, qty *int, before *int64) (wsdto.RoomView, error) {
	limit := s.cfg.DefaultPageSize
	if qty != nil {
		if *qty < 0 {
			return wsdto.RoomView{}, dealroom_errors.ErrInvalidInput
		}
		limit = min(*qty, s.cfg.MaxPageSize)
	}
	var beforeID int64
	if before != nil {
		if *before <= 0 {
			return wsdto.RoomView{}, dealroom_errors.ErrInvalidInput
		}
		beforeID = *before
	}

	r, members, err := s.loadMemberRoom(ctx, roomID, userID)
	if err != nil {
		return wsdto.RoomView{}, err
	}

	var (
		page     []message.Message
		seenRows []room.LastSeen
		maxID    int64
		activity map[uuid.UUID]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.Go(func() (err error) {
			page, err = retryRead(gctx, s, "list_messages", func() ([]message.Message, error) {
				return s.store.ListMessages(gctx, roomID, beforeID, limit)
			})
			return err
		})
	}
	g.Go(func() (err error) {
		seenRows, err = retryRead(gctx, s, "list_last_seen", func() ([]room.LastSeen, error) {
			return s.store.ListLastSeen(gctx, roomID)
		})
		return err
	})
	g.Go(func() (err error) {
		maxID, err = retryRead(gctx, s, "max_message_id", func() (int64, error) {
			return s.store.MaxMessageID(gctx, roomID)
		})
		return err
	})
	g.Go(func() (err error) {
		activity, err = retryRead(gctx, s, "last_activity", func() (map[uuid.UUID]int64, error) {
			return s.store.LastActivity(gctx, roomID)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return wsdto.RoomView{}, err
	}

	lastSeen := make(map[uuid.UUID]int64, len(members))
	for _, id := range members {
		lastSeen[id] = 0
	}
	for _, row := range seenRows {
		if _, ok := lastSeen[row.UserID]; ok {
			lastSeen[row.UserID] = row.LastMessageSeenID
		}
	}

	messages := make([]wsdto.Message, len(page))
	for i, m := range page {
		// store pages are newest first; display order is ascending
		messages[len(page)-1-i] = s.messageDTO(ctx, m)
	}

	return wsdto.RoomView{
		RoomID:             r.ID,
		Members:            s.participants(ctx, members, activity),
		Messages:           messages,
		LastSeen:           lastSeen,
		Unread:             room.Unread(maxID, lastSeen[userID]),
		SelectedCampaignID: wsdto.NullableUUID(r.SelectedCampaignID),
	}, nil
}

// RoomsOf returns every room the user belongs to: their own rooms and the
// rooms of each company they are currently in.
func (s *RoomService) RoomsOf(ctx context.Context, userID uuid.UUID) ([]room.Room, error) {
	info, err := retryRead(ctx, s, "get_user", func() (user.Info, error) {
		return s.identity.GetUser(ctx, userID)
	})
	if err != nil && !errors.Is(err, dealroom_errors.ErrNotFound) {
		return nil, err
	}
	return retryRead(ctx, s, "list_user_rooms", func() ([]room.Room, error) {
		return s.store.ListUserRooms(ctx, userID, info.CompanyIDs)
	})
}

// Members returns the member ids of a room.
func (s *RoomService) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	_, members, err := s.loadRoom(ctx, roomID)
	return members, err
}

// participants orders members by their latest authored message, newest
// first, ties broken by user id.
func (s *RoomService) participants(ctx context.Context, members []uuid.UUID, activity map[uuid.UUID]int64) []wsdto.Participant {
	out := make([]wsdto.Participant, 0, len(members))
	for _, id := range members {
		info, err := retryRead(ctx, s, "get_user", func() (user.Info, error) {
			return s.identity.GetUser(ctx, id)
		})
		if err != nil {
			s.logger.Warn("participant profile unavailable", zap.String("user_id", id.String()), zap.Error(err))
			info = user.Info{ID: id}
		}
		state := presence.Offline
		if s.presence != nil {
			state = s.presence.Presence(id)
		}
		out = append(out, wsdto.FromUser(info, state, activity[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActiveID != out[j].LastActiveID {
			return out[i].LastActiveID > out[j].LastActiveID
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *RoomService) messageDTO(ctx context.Context, m message.Message) wsdto.Message {
	url := ""
	if m.AttachmentKey != "" && s.attachments != nil {
		var err error
		url, err = s.attachments.AttachmentURL(ctx, m.AttachmentKey)
		if err != nil {
			s.logger.Warn("attachment url unavailable",
				zap.String("room_id", m.RoomID.String()),
				zap.Int64("message_id", m.ID),
				zap.Error(err),
			)
			url = ""
		}
	}
	return wsdto.FromMessage(m, url)
}

func otherMembers(members []uuid.UUID, userID uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(members))
	for _, id := range members {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
