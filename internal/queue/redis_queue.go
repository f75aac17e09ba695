package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"incident-agent/internal/config"
	"incident-agent/internal/models"
)

// IncidentQueue is a FIFO list of incident jobs in Redis, shared between the
// webhook receiver (producer) and the investigation worker (consumer).
//
// Dequeue moves the head into a per-worker processing list instead of
// discarding it; the entry is removed only on Ack. Anything left in the
// processing list after a crash is pushed back onto the queue head at the
// next startup, so delivery is at-least-once.
type IncidentQueue struct {
	client        *redis.Client
	queueKey      string
	processingKey string
}

// New builds a queue client from config. workerID namespaces the processing
// list; producers that never dequeue can pass an empty string.
func New(cfg config.Config, workerID string) *IncidentQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewWithClient(client, cfg.QueueName, workerID)
}

// NewWithClient wraps an existing Redis client, mainly for tests.
func NewWithClient(client *redis.Client, queueKey, workerID string) *IncidentQueue {
	if workerID == "" {
		workerID = "worker"
	}
	return &IncidentQueue{
		client:        client,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing:" + workerID,
	}
}

// Enqueue appends a job to the tail of the queue.
func (q *IncidentQueue) Enqueue(ctx context.Context, job models.IncidentJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal incident job: %w", err)
	}
	if err := q.client.RPush(ctx, q.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue incident: %w", err)
	}
	return nil
}

// DequeueBlocking blocks until a job is available, moves it from the queue
// head into the processing list, and returns it along with the raw entry
// needed to Ack it later.
//
// A job whose payload does not decode is still returned (with zero-valued
// fields) together with the decode error; the caller records a failed run
// for it rather than dropping it.
func (q *IncidentQueue) DequeueBlocking(ctx context.Context) (models.IncidentJob, string, error) {
	raw, err := q.client.BLMove(ctx, q.queueKey, q.processingKey, "LEFT", "RIGHT", 0).Result()
	if err != nil {
		return models.IncidentJob{}, "", fmt.Errorf("blocking dequeue: %w", err)
	}
	var job models.IncidentJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return models.IncidentJob{}, raw, fmt.Errorf("decode incident job: %w", err)
	}
	return job, raw, nil
}

// Ack removes a previously dequeued entry from the processing list.
func (q *IncidentQueue) Ack(ctx context.Context, raw string) error {
	return q.client.LRem(ctx, q.processingKey, 1, raw).Err()
}

// ReclaimProcessing pushes any entries stranded in the processing list by a
// previous crash back onto the queue head, preserving their original order.
// It returns how many entries were reclaimed.
func (q *IncidentQueue) ReclaimProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey, q.queueKey, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("reclaim processing list: %w", err)
		}
		moved++
	}
}

// Depth returns the number of pending jobs.
func (q *IncidentQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueKey).Result()
}

// Ping checks queue backend connectivity.
func (q *IncidentQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
