package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dealroom-chat/internal/domain/user"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - user:{user_id} - profile
// - company:{company_id}:members - member ids

type CacheConfig struct {
	UserTTL    time.Duration
	CompanyTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL:    5 * time.Minute,
		CompanyTTL: 5 * time.Minute,
	}
}

type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{client: client, config: config}
}

func userKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id.String())
}

func companyMembersKey(id uuid.UUID) string {
	return fmt.Sprintf("company:%s:members", id.String())
}

// GetUser returns nil on a cache miss.
func (c *CacheStore) GetUser(ctx context.Context, userID uuid.UUID) (*user.Info, error) {
	data, err := c.client.Get(ctx, userKey(userID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info user.Info
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *CacheStore) SetUser(ctx context.Context, info user.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, userKey(info.ID), data, c.config.UserTTL).Err()
}

// GetCompanyMembers returns nil on a cache miss.
func (c *CacheStore) GetCompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error) {
	data, err := c.client.Get(ctx, companyMembersKey(companyID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *CacheStore) SetCompanyMembers(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, companyMembersKey(companyID), data, c.config.CompanyTTL).Err()
}
