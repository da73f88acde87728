package outbox

import (
	"context"
	"encoding/json"
	"time"

	"dealroom-chat/internal/events"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is the channel-based transport push envelopes leave on.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type item struct {
	env     events.Envelope
	retries int
}

// Processor buffers push summaries for offline users and publishes them in
// batches, retrying failed publishes up to maxRetries times.
type Processor struct {
	publisher  Publisher
	channel    string
	clock      func() time.Time
	batchSize  int
	interval   time.Duration
	maxRetries int
	logger     *zap.Logger

	queue chan item
	retry []item
}

func NewProcessor(publisher Publisher, channel string, queueSize, batchSize int, interval time.Duration, maxRetries int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		publisher:  publisher,
		channel:    channel,
		clock:      time.Now,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
		logger:     logger.With(zap.String("component", "push_outbox")),
		queue:      make(chan item, queueSize),
	}
}

// Send queues a summary for the user. It never blocks; a full queue is
// reported as ErrQueueFull.
func (p *Processor) Send(ctx context.Context, userID uuid.UUID, summary events.PushSummary) error {
	env, err := events.NewPushEnvelope(userID.String(), summary, p.clock())
	if err != nil {
		return err
	}
	select {
	case p.queue <- item{env: env}:
		return nil
	default:
		return dealroom_errors.ErrQueueFull
	}
}

// Pending reports queued plus awaiting-retry envelopes.
func (p *Processor) Pending() int {
	return len(p.queue) + len(p.retry)
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// last attempt for whatever is buffered
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			p.processBatch(flushCtx)
			cancel()
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) {
	batch := p.retry
	p.retry = nil
	for len(batch) < p.batchSize {
		select {
		case it := <-p.queue:
			batch = append(batch, it)
			continue
		default:
		}
		break
	}
	if len(batch) == 0 {
		return
	}

	for _, it := range batch {
		payload, err := json.Marshal(it.env)
		if err != nil {
			p.logger.Error("dropping unencodable envelope", zap.String("event_type", it.env.EventType), zap.Error(err))
			continue
		}
		if err := p.publisher.Publish(ctx, p.channel, payload); err != nil {
			it.retries++
			if it.retries >= p.maxRetries {
				p.logger.Warn("push envelope dropped after retries",
					zap.String("target_user_id", it.env.TargetUserID),
					zap.String("event_type", it.env.EventType),
					zap.Int("retries", it.retries),
					zap.Error(err),
				)
				continue
			}
			p.retry = append(p.retry, it)
		}
	}
}
