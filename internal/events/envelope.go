package events

import (
	"encoding/json"
	"time"
)

// Envelope is the record handed to the push collaborator.
type Envelope struct {
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	TargetUserID  string          `json:"target_user_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewPushEnvelope wraps a summary addressed to one offline user.
func NewPushEnvelope(targetUserID string, summary PushSummary, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:     summary.Kind,
		AggregateType: "room",
		AggregateID:   summary.RoomID.String(),
		TargetUserID:  targetUserID,
		OccurredAt:    at.UTC(),
		Payload:       payload,
	}, nil
}
