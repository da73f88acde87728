package room

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Room represents the rooms table. One room exists per (company, user) pair.
type Room struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey"`
	CompanyID          uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_rooms_company_user"`
	UserID             uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_rooms_company_user"`
	SelectedCampaignID uuid.NullUUID `gorm:"type:uuid"`
	CreatedAt          time.Time
}

// Sequence represents the room_sequences table; LastMessageID is the
// allocator for per-room message ids.
type Sequence struct {
	RoomID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	LastMessageID int64
	UpdatedAt     time.Time
}

// LastSeen represents the room_last_seen table
type LastSeen struct {
	RoomID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	LastMessageSeenID int64
	UpdatedAt         time.Time
}

func (Room) TableName() string {
	return "rooms"
}

func (Sequence) TableName() string {
	return "room_sequences"
}

func (LastSeen) TableName() string {
	return "room_last_seen"
}

// Members is the room's user followed by the company's current members,
// without duplicates.
func (r Room) Members(companyMembers []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(companyMembers)+1)
	out = append(out, r.UserID)
	for _, id := range companyMembers {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Unread is the number of messages above lastSeen, floored at zero.
func Unread(maxMessageID, lastSeen int64) int64 {
	if maxMessageID <= lastSeen {
		return 0
	}
	return maxMessageID - lastSeen
}
