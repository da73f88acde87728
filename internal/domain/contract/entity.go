package contract

import (
	"time"

	"github.com/google/uuid"
)

// Status is the kind of a recorded offer transition.
type Status string

const (
	StatusNone               Status = ""
	StatusProposedByCompany  Status = "ProposedByCompany"
	StatusAcceptedByCreator  Status = "AcceptedByCreator"
	StatusWithdrawnByCompany Status = "WithdrawnByCompany"
	StatusCancelledByCreator Status = "CancelledByCreator"
	StatusFinishedByCreator  Status = "FinishedByCreator"
	StatusApprovedByCompany  Status = "ApprovedByCompany"
)

// Side identifies which party of a room may record a given status.
type Side string

const (
	SideCompany Side = "company"
	SideCreator Side = "creator"
)

// Offer represents the contract_offers table
type Offer struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	RoomID      uuid.UUID
	MessageID   int64
	PayoutCents int64
	CreatedAt   time.Time
}

// Transition represents the contract_transitions table
type Transition struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	OfferID   int64
	RoomID    uuid.UUID
	MessageID int64
	Kind      Status `gorm:"type:contract_status;not null"`
	CreatedAt time.Time
}

func (Offer) TableName() string {
	return "contract_offers"
}

func (Transition) TableName() string {
	return "contract_transitions"
}

// State reports the offer state implied by a transition history ordered by id.
func State(history []Transition) Status {
	if len(history) == 0 {
		return StatusNone
	}
	return history[len(history)-1].Kind
}
