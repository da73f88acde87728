package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
)

// roomStoreCases hold the guarantees every RoomStore implementation gives.
var roomStoreCases = []struct {
	name string
	run  func(t *testing.T, s RoomStore)
}{
	{"CreateRoomRejectsDuplicatePair", testCreateRoomRejectsDuplicatePair},
	{"ListUserRoomsFollowsCompanies", testListUserRoomsFollowsCompanies},
	{"ConcurrentAppendHasNoGaps", testConcurrentAppendHasNoGaps},
	{"RejectedTransitionLeavesNoTrace", testRejectedTransitionLeavesNoTrace},
	{"TransitionOnForeignOffer", testTransitionOnForeignOffer},
	{"AdvanceLastSeen", testAdvanceLastSeen},
	{"ListMessagesPaging", testListMessagesPaging},
}

func runRoomStoreCases(t *testing.T, open func(t *testing.T) RoomStore) {
	for _, tc := range roomStoreCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, open(t))
		})
	}
}

func createTestRoom(t *testing.T, s RoomStore, companyID, userID uuid.UUID, createdAt time.Time) room.Room {
	t.Helper()
	r := room.Room{ID: uuid.New(), CompanyID: companyID, UserID: userID, CreatedAt: createdAt.UTC()}
	if err := s.CreateRoom(context.Background(), r); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func newTestRoom(t *testing.T, s RoomStore, userID uuid.UUID) room.Room {
	t.Helper()
	return createTestRoom(t, s, uuid.New(), userID, time.Now())
}

func appendText(t *testing.T, s RoomStore, roomID, author uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.AppendMessage(context.Background(), AppendInput{RoomID: roomID, AuthorID: author, Draft: message.Draft{Content: "x"}})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func testCreateRoomRejectsDuplicatePair(t *testing.T, s RoomStore) {
	r := newTestRoom(t, s, uuid.New())

	dup := room.Room{ID: uuid.New(), CompanyID: r.CompanyID, UserID: r.UserID, CreatedAt: time.Now().UTC()}
	if err := s.CreateRoom(context.Background(), dup); !errors.Is(err, dealroom_errors.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	found, err := s.FindRoomByPair(context.Background(), r.CompanyID, r.UserID)
	if err != nil || found.ID != r.ID {
		t.Fatalf("find by pair = %v, %v", found.ID, err)
	}
}

func testListUserRoomsFollowsCompanies(t *testing.T, s RoomStore) {
	ctx := context.Background()
	companyA, companyB := uuid.New(), uuid.New()
	creator, other := uuid.New(), uuid.New()
	base := time.Now().Truncate(time.Second)

	older := createTestRoom(t, s, companyA, creator, base)
	newer := createTestRoom(t, s, companyA, other, base.Add(time.Second))
	elsewhere := createTestRoom(t, s, companyB, other, base.Add(2*time.Second))

	own, err := s.ListUserRooms(ctx, creator, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 1 || own[0].ID != older.ID {
		t.Fatalf("creator rooms = %+v", own)
	}

	staff, err := s.ListUserRooms(ctx, uuid.New(), []uuid.UUID{companyA})
	if err != nil {
		t.Fatal(err)
	}
	if len(staff) != 2 || staff[0].ID != newer.ID || staff[1].ID != older.ID {
		t.Fatalf("company rooms = %+v", staff)
	}

	both, err := s.ListUserRooms(ctx, other, []uuid.UUID{companyA})
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 3 || both[0].ID != elsewhere.ID {
		t.Fatalf("own and company rooms = %+v", both)
	}
}

func testConcurrentAppendHasNoGaps(t *testing.T, s RoomStore) {
	author := uuid.New()
	r := newTestRoom(t, s, author)

	const senders = 50
	ids := make([]int64, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.AppendMessage(context.Background(), AppendInput{
				RoomID:   r.ID,
				AuthorID: author,
				Draft:    message.Draft{Content: "hi"},
			})
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			ids[i] = res.Message.ID
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("ids are not gap free: %v", ids)
		}
	}
	maxID, err := s.MaxMessageID(context.Background(), r.ID)
	if err != nil || maxID != senders {
		t.Fatalf("max id = %d, %v", maxID, err)
	}
}

func testRejectedTransitionLeavesNoTrace(t *testing.T, s RoomStore) {
	author := uuid.New()
	r := newTestRoom(t, s, author)
	ctx := context.Background()

	proposed, err := s.AppendMessage(ctx, AppendInput{
		RoomID:   r.ID,
		AuthorID: author,
		Draft: message.Draft{Contract: &message.ContractChange{
			Kind:        contract.StatusProposedByCompany,
			PayoutCents: 5000,
		}},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if proposed.Offer == nil || proposed.Message.ContractOfferID != proposed.Offer.ID {
		t.Fatalf("offer not linked to message: %+v", proposed)
	}

	var seen contract.Status
	guard := func(offer contract.Offer, current contract.Status) error {
		seen = current
		return contract.Adjudicate(current, contract.StatusApprovedByCompany)
	}
	_, err = s.AppendMessage(ctx, AppendInput{
		RoomID:   r.ID,
		AuthorID: author,
		Draft: message.Draft{Contract: &message.ContractChange{
			Kind:    contract.StatusApprovedByCompany,
			OfferID: proposed.Offer.ID,
		}},
		Guard: guard,
	})
	if !errors.Is(err, dealroom_errors.ErrIllegalContractTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if seen != contract.StatusProposedByCompany {
		t.Fatalf("guard saw %q", seen)
	}

	maxID, _ := s.MaxMessageID(ctx, r.ID)
	if maxID != 1 {
		t.Fatalf("rejected change allocated an id: max=%d", maxID)
	}
	page, _ := s.ListMessages(ctx, r.ID, 0, 10)
	if len(page) != 1 {
		t.Fatalf("rejected change left a message: %+v", page)
	}
	history, _ := s.ListTransitions(ctx, proposed.Offer.ID)
	if len(history) != 1 || history[0].Kind != contract.StatusProposedByCompany {
		t.Fatalf("unexpected history %+v", history)
	}
}

func testTransitionOnForeignOffer(t *testing.T, s RoomStore) {
	author := uuid.New()
	r1 := newTestRoom(t, s, author)
	r2 := newTestRoom(t, s, author)
	ctx := context.Background()

	res, err := s.AppendMessage(ctx, AppendInput{
		RoomID:   r1.ID,
		AuthorID: author,
		Draft: message.Draft{Contract: &message.ContractChange{
			Kind:        contract.StatusProposedByCompany,
			PayoutCents: 100,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.AppendMessage(ctx, AppendInput{
		RoomID:   r2.ID,
		AuthorID: author,
		Draft: message.Draft{Contract: &message.ContractChange{
			Kind:    contract.StatusAcceptedByCreator,
			OfferID: res.Offer.ID,
		}},
		Guard: func(contract.Offer, contract.Status) error { return nil },
	})
	if !errors.Is(err, dealroom_errors.ErrNotFound) {
		t.Fatalf("offer from another room must not be found, got %v", err)
	}
	if maxID, _ := s.MaxMessageID(ctx, r2.ID); maxID != 0 {
		t.Fatalf("failed append allocated an id in the target room: %d", maxID)
	}
}

func testAdvanceLastSeen(t *testing.T, s RoomStore) {
	author := uuid.New()
	r := newTestRoom(t, s, author)
	ctx := context.Background()
	appendText(t, s, r.ID, author, 3)

	tests := []struct {
		name    string
		seen    int64
		changed bool
		err     error
	}{
		{"zero before any read", 0, false, nil},
		{"beyond max", 4, false, dealroom_errors.ErrInvalidSeenID},
		{"advance", 2, true, nil},
		{"same value", 2, false, nil},
		{"backwards", 1, false, dealroom_errors.ErrInvalidSeenID},
		{"to max", 3, true, nil},
	}
	for _, tt := range tests {
		changed, err := s.AdvanceLastSeen(ctx, r.ID, author, tt.seen)
		if !errors.Is(err, tt.err) || changed != tt.changed {
			t.Errorf("%s: changed=%v err=%v", tt.name, changed, err)
		}
	}

	got, _ := s.GetLastSeen(ctx, r.ID, author)
	if got != 3 {
		t.Fatalf("last seen = %d", got)
	}
	rows, _ := s.ListLastSeen(ctx, r.ID)
	if len(rows) != 1 || rows[0].UserID != author || rows[0].LastMessageSeenID != 3 {
		t.Fatalf("last seen rows = %+v", rows)
	}
}

func testListMessagesPaging(t *testing.T, s RoomStore) {
	author := uuid.New()
	r := newTestRoom(t, s, author)
	ctx := context.Background()
	appendText(t, s, r.ID, author, 10)

	page, err := s.ListMessages(ctx, r.ID, 8, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].ID != 7 || page[2].ID != 5 {
		t.Fatalf("unexpected page %+v", page)
	}

	latest, _ := s.ListMessages(ctx, r.ID, 0, 2)
	if len(latest) != 2 || latest[0].ID != 10 {
		t.Fatalf("unexpected latest page %+v", latest)
	}

	activity, _ := s.LastActivity(ctx, r.ID)
	if activity[author] != 10 {
		t.Fatalf("last activity = %v", activity)
	}
}
