package redis

import (
	"context"
	"encoding/json"
	"time"

	"dealroom-chat/internal/metrics"

	goredis "github.com/redis/go-redis/v9"
)

type Publisher struct {
	client *goredis.Client
}

func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()
	return p.client.Publish(ctx, channel, payload).Err()
}

// PublishJSON encodes v and publishes it on channel.
func (p *Publisher) PublishJSON(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, channel, payload)
}
