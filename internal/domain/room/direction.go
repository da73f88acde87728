package room

import (
	"github.com/google/uuid"
)

type DirectionKind string

const (
	UserToCompany DirectionKind = "UserToCompany"
	CompanyToUser DirectionKind = "CompanyToUser"
)

// Direction says who opens a room with whom. For UserToCompany the initiator
// is the room's user; for CompanyToUser the initiator speaks for CompanyID and
// ToUserID becomes the room's user.
type Direction struct {
	Kind      DirectionKind
	CompanyID uuid.UUID
	ToUserID  uuid.UUID
}
