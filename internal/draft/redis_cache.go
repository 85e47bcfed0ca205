package draft

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
)

// RedisCache is the draft cache: a Redis hash per (assessment, student) that
// every answer edit hits synchronously before anything durable happens. Each
// write also queues the answer for asynchronous PostgreSQL persistence, so
// the store sync stays best-effort while the draft is the resilience backstop.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache creates a Redis-backed draft cache.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Read returns the full draft map for reconciliation on resume.
func (c *RedisCache) Read(ctx context.Context, assessmentID uuid.UUID, studentID int) (map[string]string, error) {
	key := config.CacheKey.AttemptDraftKey(assessmentID.String(), studentID)
	answers, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	return answers, nil
}

// Write stores one answer in the draft hash, then queues it for the answer
// sync worker. The HSet is the synchronous part; the queue push failing only
// delays persistence, it never loses the answer.
func (c *RedisCache) Write(ctx context.Context, assessmentID uuid.UUID, studentID int, questionID, answer string) error {
	key := config.CacheKey.AttemptDraftKey(assessmentID.String(), studentID)
	if err := c.rdb.HSet(ctx, key, questionID, answer).Err(); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"student_id":    studentID,
		"assessment_id": assessmentID.String(),
		"q_id":          questionID,
		"answer":        answer,
	})
	if err := c.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		// Draft already holds the answer; the next reconnect flush or the
		// finalizing submit delivers it.
		return nil
	}
	return nil
}

// Clear removes the draft hash after a confirmed submission.
func (c *RedisCache) Clear(ctx context.Context, assessmentID uuid.UUID, studentID int) error {
	key := config.CacheKey.AttemptDraftKey(assessmentID.String(), studentID)
	return c.rdb.Del(ctx, key).Err()
}
