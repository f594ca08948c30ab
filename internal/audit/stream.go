package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ppiankov/callguard/internal/model"
)

// StreamPrefix is prepended to the task id to form the stream key.
const StreamPrefix = "callguard:violations:"

// StreamStore records violations as entries of one Redis stream per task.
// XADD is atomic and streams are never trimmed.
type StreamStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewStreamStore wraps an existing client.
func NewStreamStore(client *redis.Client) *StreamStore {
	return &StreamStore{client: client, now: time.Now}
}

// DialStream parses a redis:// URL, connects and pings.
func DialStream(ctx context.Context, url string) (*StreamStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("audit: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("audit: connect redis: %w", err)
	}
	return NewStreamStore(client), nil
}

// Record appends one violation to the task's stream.
func (s *StreamStore) Record(ctx context.Context, taskID string, kind model.Kind, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamPrefix + taskID,
		Values: map[string]interface{}{
			"id":     uuid.NewString(),
			"ts":     s.now().UTC().Format(TimestampFormat),
			"kind":   string(kind),
			"detail": string(raw),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit: xadd: %w", err)
	}
	return nil
}

// Replay reads back a task's stream.
func (s *StreamStore) Replay(ctx context.Context, filter ReplayFilter) (*ReplayResult, error) {
	msgs, err := s.client.XRange(ctx, StreamPrefix+filter.TaskID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("audit: xrange: %w", err)
	}

	result := newReplayResult(filter.TaskID)
	for _, m := range msgs {
		e := Entry{
			ID:        str(m.Values["id"]),
			Timestamp: str(m.Values["ts"]),
			TaskID:    filter.TaskID,
			Kind:      model.Kind(str(m.Values["kind"])),
		}
		if err := json.Unmarshal([]byte(str(m.Values["detail"])), &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: decode detail of %s: %w", m.ID, err)
		}
		result.add(e, filter)
	}
	return result, nil
}

// Close closes the Redis client.
func (s *StreamStore) Close() error {
	return s.client.Close()
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
