package message

import (
	"time"

	"dealroom-chat/internal/domain/contract"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
)

const MaxContentLength = 8192

// Message represents the messages table. (RoomID, ID) is the key; ID is
// allocated per room and never reused.
type Message struct {
	RoomID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ID              int64     `gorm:"primaryKey;autoIncrement:false"`
	AuthorID        uuid.UUID `gorm:"type:uuid;not null"`
	Content         string
	AttachmentKey   string
	CampaignID      uuid.NullUUID `gorm:"type:uuid"`
	ContractKind    contract.Status
	ContractOfferID int64
	ContractPayout  int64
	CreatedAt       time.Time
}

func (Message) TableName() string {
	return "messages"
}

// ContractChange is the contract directive embedded in a message. A
// ProposedByCompany kind opens a new offer with PayoutCents; every other
// kind moves the offer OfferID.
type ContractChange struct {
	Kind        contract.Status
	OfferID     int64
	PayoutCents int64
}

// Contract returns the embedded change, or nil.
func (m Message) Contract() *ContractChange {
	if m.ContractKind == contract.StatusNone {
		return nil
	}
	return &ContractChange{
		Kind:        m.ContractKind,
		OfferID:     m.ContractOfferID,
		PayoutCents: m.ContractPayout,
	}
}

// Draft is a message as submitted by its author, before an id is assigned.
type Draft struct {
	Content       string
	AttachmentKey string
	CampaignID    uuid.NullUUID
	Contract      *ContractChange
}

func (d Draft) Validate() error {
	if d.Content == "" && d.AttachmentKey == "" && d.Contract == nil && !d.CampaignID.Valid {
		return dealroom_errors.ErrInvalidInput
	}
	if len(d.Content) > MaxContentLength {
		return dealroom_errors.ErrInvalidInput
	}
	if c := d.Contract; c != nil {
		if !c.Kind.Valid() {
			return dealroom_errors.ErrInvalidInput
		}
		if c.Kind == contract.StatusProposedByCompany {
			if c.OfferID != 0 {
				return dealroom_errors.ErrInvalidInput
			}
		} else if c.OfferID <= 0 {
			return dealroom_errors.ErrInvalidInput
		}
	}
	return nil
}

// Build turns the draft into a message carrying the allocated id.
func (d Draft) Build(roomID, authorID uuid.UUID, id int64, now time.Time) Message {
	m := Message{
		RoomID:        roomID,
		ID:            id,
		AuthorID:      authorID,
		Content:       d.Content,
		AttachmentKey: d.AttachmentKey,
		CampaignID:    d.CampaignID,
		CreatedAt:     now,
	}
	if c := d.Contract; c != nil {
		m.ContractKind = c.Kind
		m.ContractOfferID = c.OfferID
		m.ContractPayout = c.PayoutCents
	}
	return m
}
