// Package queue implements the Queue boundary: a single named Redis
// Stream with one consumer group, the durable hand-off between
// IngestAPI and WorkerPipeline.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamKey is the single named stream carrying logs_stream entries.
	StreamKey = "logs_stream"
	// DeadLetterKey receives messages that exceeded MaxDeliveries.
	DeadLetterKey = "logs_stream:deadletter"
	// GroupName is the consumer group both IngestAPI writers and
	// WorkerPipeline readers share.
	GroupName = "ingest_group"
	// MaxDeliveries bounds redelivery before a message is dead-lettered,
	// the hardening spec.md §9 asks implementations to add.
	MaxDeliveries = 5
)

// Message is one delivered queue entry.
type Message struct {
	ID         string
	Data       string
	Deliveries int64
}

// Queue is the boundary WorkerPipeline and IngestAPI depend on.
type Queue interface {
	Push(ctx context.Context, data []byte) error
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, msg Message) error
}

// RedisQueue implements Queue against a Redis Stream, using XADD /
// XGROUP CREATE / XREADGROUP / XACK, the same primitives the teacher's
// Redis store uses for sets and keys but applied to streams.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing client so the queue shares the
// StateStore's connection pool rather than opening a second one.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Push appends a single-field map {"data": json} entry, auto-ID'd by
// Redis, per spec.md §4.2/§6.
func (q *RedisQueue) Push(ctx context.Context, data []byte) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if absent. Creating an
// existing group is not an error (spec.md §4.2's idempotence
// requirement): Redis's BUSYGROUP error is swallowed.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, StreamKey, GroupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: ensure group: %w", err)
	}
	return nil
}

// Read pulls up to count new entries (ID ">") for consumer, blocking up
// to block. Entries that were delivered before and left unacknowledged
// stay in the group's pending list; Read does not return them again,
// and nothing in this package claims them. Each entry's delivery count
// is read back via XPENDING so the caller can apply the dead-letter
// bound.
func (q *RedisQueue) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupName,
		Consumer: consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read: %w", err)
	}

	var msgs []Message
	for _, stream := range res {
		for _, x := range stream.Messages {
			data, _ := x.Values["data"].(string)
			msgs = append(msgs, Message{ID: x.ID, Data: data, Deliveries: q.deliveries(ctx, x.ID)})
		}
	}
	return msgs, nil
}

func (q *RedisQueue) deliveries(ctx context.Context, id string) int64 {
	ext, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  GroupName,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(ext) == 0 {
		return 1
	}
	return ext[0].RetryCount
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, StreamKey, GroupName, id).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	return nil
}

// DeadLetter writes msg to the dead-letter stream and acks the
// original so it stops redelivering, per the bounded-redelivery
// hardening spec.md §9 calls for.
func (q *RedisQueue) DeadLetter(ctx context.Context, msg Message) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterKey,
		Values: map[string]any{"data": msg.Data, "original_id": msg.ID},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", msg.ID, err)
	}
	slog.Warn("message dead-lettered after max deliveries", "id", msg.ID, "deliveries", msg.Deliveries)
	return q.Ack(ctx, msg.ID)
}

// Encode marshals an arbitrary event payload to the wire form Push expects.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("queue: encode: %w", err)
	}
	return b, nil
}
