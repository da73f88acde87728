package outbox

import (
	"time"

	"go.uber.org/zap"
)

// DefaultProcessor batches up to 100 envelopes every 200ms and gives up on an
// envelope after 5 failed publishes.
func DefaultProcessor(publisher Publisher, channel string, logger *zap.Logger) *Processor {
	return NewProcessor(publisher, channel, 4096, 100, 200*time.Millisecond, 5, logger)
}
