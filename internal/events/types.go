package events

import (
	"dealroom-chat/internal/domain/presence"
	"dealroom-chat/internal/transport/wsdto"

	"github.com/google/uuid"
)

// Event names as they appear in the "event" field of outbound frames.
const (
	EventRoomCreatedWithYou = "RoomCreatedWithYou"
	EventNewMessage         = "NewMessage"
	EventActivityChange     = "ActivityChange"
	EventTypingChange       = "TypingChange"
	EventNewLastView        = "NewLastView"
)

// Event is anything the fan-out can deliver.
type Event interface {
	EventName() string
}

// Pushable events carry a summary for users with no live session.
type Pushable interface {
	PushSummary() PushSummary
}

// PushSummary is what the push collaborator receives for an offline user.
type PushSummary struct {
	Kind      string    `json:"kind"`
	RoomID    uuid.UUID `json:"room_id"`
	MessageID int64     `json:"message_id,omitempty"`
	AuthorID  uuid.UUID `json:"author_id,omitempty"`
	Preview   string    `json:"preview,omitempty"`
}

const previewLength = 120

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength]) + "…"
}

// RoomCreatedWithYou is sent to every member when a room appears. Message is
// set when the room's first message triggered the event.
type RoomCreatedWithYou struct {
	RoomID    uuid.UUID      `json:"room_id"`
	CompanyID uuid.UUID      `json:"company_id"`
	UserID    uuid.UUID      `json:"user_id"`
	Message   *wsdto.Message `json:"message,omitempty"`
}

func (RoomCreatedWithYou) EventName() string { return EventRoomCreatedWithYou }

func (e RoomCreatedWithYou) PushSummary() PushSummary {
	s := PushSummary{Kind: EventRoomCreatedWithYou, RoomID: e.RoomID}
	if e.Message != nil {
		s.MessageID = e.Message.ID
		s.AuthorID = e.Message.AuthorID
		s.Preview = preview(e.Message.Content)
	}
	return s
}

type NewMessage struct {
	RoomID  uuid.UUID     `json:"room_id"`
	Message wsdto.Message `json:"message"`
}

func (NewMessage) EventName() string { return EventNewMessage }

func (e NewMessage) PushSummary() PushSummary {
	return PushSummary{
		Kind:      EventNewMessage,
		RoomID:    e.RoomID,
		MessageID: e.Message.ID,
		AuthorID:  e.Message.AuthorID,
		Preview:   preview(e.Message.Content),
	}
}

type ActivityChange struct {
	UserID uuid.UUID      `json:"user_id"`
	State  presence.State `json:"state"`
}

func (ActivityChange) EventName() string { return EventActivityChange }

type TypingChange struct {
	RoomID uuid.UUID `json:"room_id"`
	UserID uuid.UUID `json:"user_id"`
	Typing bool      `json:"typing"`
}

func (TypingChange) EventName() string { return EventTypingChange }

type NewLastView struct {
	RoomID            uuid.UUID `json:"room_id"`
	UserID            uuid.UUID `json:"user_id"`
	LastMessageSeenID int64     `json:"last_message_seen_id"`
}

func (NewLastView) EventName() string { return EventNewLastView }

// Frame wraps an event for the wire.
func Frame(e Event) wsdto.EventFrame {
	return wsdto.EventFrame{Event: e.EventName(), Data: e}
}
