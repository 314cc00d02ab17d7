package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DedupTTL is how long delivered message ids are remembered. The broker
// only redelivers within a session, so a day is comfortably past any
// realistic requeue window.
const DedupTTL = 24 * time.Hour

// Deduper discards broker redeliveries by remembering message ids.
// The message id on the wire payload is the idempotency key: the first
// Seen call for an id claims it, every later call reports a duplicate.
type Deduper struct {
	client *Client
	logger *zap.Logger
}

// NewDeduper creates a deduper backed by the given Redis client.
func NewDeduper(client *Client, logger *zap.Logger) *Deduper {
	return &Deduper{client: client, logger: logger}
}

func dedupKey(messageID string) string {
	return fmt.Sprintf("dedup:notification:%s", messageID)
}

// Seen atomically claims a message id. Returns true if the id was
// already claimed, false if this caller now owns it. On Redis failure
// it errs toward delivery: a rare duplicate send beats a dropped one.
func (d *Deduper) Seen(ctx context.Context, messageID string) bool {
	set, err := d.client.rdb.SetNX(ctx, dedupKey(messageID), 1, DedupTTL).Result()
	if err != nil {
		d.logger.Warn("dedup check failed, delivering anyway",
			zap.Error(err),
			zap.String("message_id", messageID),
		)
		return false
	}
	return !set
}

// Forget releases a claimed id so a failed delivery can be retried.
func (d *Deduper) Forget(ctx context.Context, messageID string) {
	if err := d.client.rdb.Del(ctx, dedupKey(messageID)).Err(); err != nil {
		d.logger.Warn("failed to release dedup key",
			zap.Error(err),
			zap.String("message_id", messageID),
		)
	}
}
