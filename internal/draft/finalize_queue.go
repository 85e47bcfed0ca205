package draft

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
)

// RedisFinalizeQueue queues terminal submissions that could not reach
// PostgreSQL (the EXPIRED_OFFLINE path). The finalize worker drains it.
type RedisFinalizeQueue struct {
	rdb *redis.Client
}

// NewRedisFinalizeQueue creates a Redis-backed finalize queue.
func NewRedisFinalizeQueue(rdb *redis.Client) *RedisFinalizeQueue {
	return &RedisFinalizeQueue{rdb: rdb}
}

// Enqueue pushes a finalize request for out-of-band delivery.
func (q *RedisFinalizeQueue) Enqueue(ctx context.Context, req engine.FinalizeRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode finalize request: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.FinalizeAttemptsQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue finalize request: %w", err)
	}
	return nil
}
