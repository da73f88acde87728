package redis

import (
	"context"
	"encoding/json"
	"time"

	"dealroom-chat/internal/domain/presence"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus is the mirrored view of a user's state. The registry stays
// authoritative; the mirror serves readers outside this process.
type PresenceStatus struct {
	UserID    string         `json:"user_id"`
	State     presence.State `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

const (
	presenceKeyPrefix = "presence:"       // JSON PresenceStatus per user
	presenceOnlineSet = "presence:online" // users not Offline
	offlineRetention  = 24 * time.Hour    // offline records back last-seen queries
)

type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// SetState writes the user's state and keeps the online set in step.
func (p *PresenceStore) SetState(ctx context.Context, userID uuid.UUID, state presence.State) error {
	id := userID.String()
	status := PresenceStatus{UserID: id, State: state, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	if state == presence.Offline {
		pipe.Set(ctx, presenceKeyPrefix+id, data, offlineRetention)
		pipe.SRem(ctx, presenceOnlineSet, id)
	} else {
		pipe.Set(ctx, presenceKeyPrefix+id, data, p.ttl)
		pipe.SAdd(ctx, presenceOnlineSet, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Refresh extends the records of users who are still present so they do not
// expire while the state stays unchanged.
func (p *PresenceStore) Refresh(ctx context.Context, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	members := make([]interface{}, 0, len(userIDs))
	for _, userID := range userIDs {
		id := userID.String()
		pipe.Expire(ctx, presenceKeyPrefix+id, p.ttl)
		members = append(members, id)
	}
	pipe.SAdd(ctx, presenceOnlineSet, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Reset clears the online set. Called at startup since no session survives a
// restart.
func (p *PresenceStore) Reset(ctx context.Context) error {
	return p.client.Del(ctx, presenceOnlineSet).Err()
}
