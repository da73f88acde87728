package wsdto

import (
	"time"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/domain/room"
	"dealroom-chat/internal/domain/user"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
)

type CreateRoomRequest struct {
	Kind      room.DirectionKind `json:"kind"`
	CompanyID uuid.UUID          `json:"company_id"`
	ToUserID  uuid.UUID          `json:"to_user_id,omitempty"`
}

func (r CreateRoomRequest) Direction() (room.Direction, error) {
	if r.CompanyID == uuid.Nil {
		return room.Direction{}, dealroom_errors.ErrInvalidInput
	}
	switch r.Kind {
	case room.UserToCompany:
		return room.Direction{Kind: r.Kind, CompanyID: r.CompanyID}, nil
	case room.CompanyToUser:
		if r.ToUserID == uuid.Nil {
			return room.Direction{}, dealroom_errors.ErrInvalidInput
		}
		return room.Direction{Kind: r.Kind, CompanyID: r.CompanyID, ToUserID: r.ToUserID}, nil
	default:
		return room.Direction{}, dealroom_errors.ErrInvalidInput
	}
}

type CreateRoomResponse struct {
	RoomID  uuid.UUID `json:"room_id"`
	Created bool      `json:"created"`
}

type ContractChange struct {
	NewStatus contract.Status `json:"new_status"`
	OfferID   int64           `json:"offer_id,omitempty"`
	Payout    int64           `json:"payout,omitempty"`
}

type SendMessageRequest struct {
	RoomID         uuid.UUID       `json:"room_id"`
	Content        string          `json:"content"`
	AttachmentKey  string          `json:"attachment_key,omitempty"`
	CampaignID     *uuid.UUID      `json:"campaign_id,omitempty"`
	ContractChange *ContractChange `json:"contract_change,omitempty"`
}

func (r SendMessageRequest) Draft() message.Draft {
	d := message.Draft{
		Content:       r.Content,
		AttachmentKey: r.AttachmentKey,
	}
	if r.CampaignID != nil {
		d.CampaignID = uuid.NullUUID{UUID: *r.CampaignID, Valid: true}
	}
	if c := r.ContractChange; c != nil {
		d.Contract = &message.ContractChange{
			Kind:        c.NewStatus,
			OfferID:     c.OfferID,
			PayoutCents: c.Payout,
		}
	}
	return d
}

type QueryRoomRequest struct {
	RoomID        uuid.UUID `json:"room_id"`
	MessageQty    *int      `json:"message_qty,omitempty"`
	MessageBefore *int64    `json:"message_before,omitempty"`
}

type UpdateLastSeenRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	SeenTill int64     `json:"seen_till"`
}

type CurrentlyViewingRequest struct {
	RoomID *uuid.UUID `json:"room_id"`
}

type CurrentlyTypingRequest struct {
	RoomID uuid.UUID `json:"room_id"`
	Typing bool      `json:"typing"`
}

type Message struct {
	ID             int64           `json:"id"`
	RoomID         uuid.UUID       `json:"room_id"`
	AuthorID       uuid.UUID       `json:"author_id"`
	Content        string          `json:"content"`
	AttachmentKey  string          `json:"attachment_key,omitempty"`
	AttachmentURL  string          `json:"attachment_url,omitempty"`
	CampaignID     *uuid.UUID      `json:"campaign_id,omitempty"`
	ContractChange *ContractChange `json:"contract_change,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func FromMessage(m message.Message, attachmentURL string) Message {
	out := Message{
		ID:            m.ID,
		RoomID:        m.RoomID,
		AuthorID:      m.AuthorID,
		Content:       m.Content,
		AttachmentKey: m.AttachmentKey,
		AttachmentURL: attachmentURL,
		CreatedAt:     m.CreatedAt,
	}
	if m.CampaignID.Valid {
		id := m.CampaignID.UUID
		out.CampaignID = &id
	}
	if c := m.Contract(); c != nil {
		out.ContractChange = &ContractChange{
			NewStatus: c.Kind,
			OfferID:   c.OfferID,
			Payout:    c.PayoutCents,
		}
	}
	return out
}

type Participant struct {
	ID           uuid.UUID      `json:"id"`
	DisplayName  string         `json:"display_name"`
	AvatarURL    string         `json:"avatar_url,omitempty"`
	Presence     presence.State `json:"presence"`
	LastActiveID int64          `json:"last_active_message_id"`
}

func FromUser(info user.Info, state presence.State, lastActive int64) Participant {
	return Participant{
		ID:           info.ID,
		DisplayName:  info.DisplayName,
		AvatarURL:    info.AvatarURL,
		Presence:     state,
		LastActiveID: lastActive,
	}
}

type RoomSummary struct {
	RoomID             uuid.UUID     `json:"room_id"`
	CompanyID          uuid.UUID     `json:"company_id"`
	UserID             uuid.UUID     `json:"user_id"`
	SelectedCampaignID *uuid.UUID    `json:"selected_campaign_id,omitempty"`
	LastMessage        *Message      `json:"last_message,omitempty"`
	Unread             int64         `json:"unread"`
	Participants       []Participant `json:"participants"`
}

type RoomView struct {
	RoomID             uuid.UUID           `json:"room_id"`
	Members            []Participant       `json:"members"`
	Messages           []Message           `json:"messages"`
	LastSeen           map[uuid.UUID]int64 `json:"last_seen"`
	Unread             int64               `json:"unread"`
	SelectedCampaignID *uuid.UUID          `json:"selected_campaign_id,omitempty"`
}

type SendMessageResponse struct {
	Message Message `json:"message"`
}

type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

type UpdateLastSeenResponse struct {
	RoomID   uuid.UUID `json:"room_id"`
	SeenTill int64     `json:"seen_till"`
}

func NullableUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
