package rca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey        = "aurora:rca:tasks"
	dequeueBlocking = 5 * time.Second
)

// queueClient is the slice of the Redis client the queue uses.
type queueClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Queue is the investigation task queue. The gateway enqueues on alert
// ingest; workers block on dequeue.
type Queue struct {
	rdb queueClient
}

// NewQueue wraps a Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue appends a task.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("rca: encode task: %w", err)
	}
	if err := q.rdb.RPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("rca: enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks briefly for the next task. A nil task with nil error means
// the wait timed out; callers loop.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	res, err := q.rdb.BLPop(ctx, dequeueBlocking, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rca: dequeue task: %w", err)
	}
	// BLPop returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("rca: decode task: %w", err)
	}
	return &task, nil
}
