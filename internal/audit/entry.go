package audit

import (
	"context"

	"github.com/ppiankov/callguard/internal/model"
)

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one persisted violation. Entries are append-only.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"ts"`
	TaskID     string         `json:"task_id"`
	Kind       model.Kind     `json:"kind"`
	Detail     map[string]any `json:"detail"`
	PolicyHash string         `json:"policy_hash,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
}

// Recorder persists violations for audit. Implementations must be safe for
// concurrent use and must never overwrite or delete earlier records.
type Recorder interface {
	Record(ctx context.Context, taskID string, kind model.Kind, detail map[string]any) error
}

// Replayer reads back the violations recorded for one task.
type Replayer interface {
	Replay(ctx context.Context, filter ReplayFilter) (*ReplayResult, error)
}

// Nop discards every record. Used in hermetic mode and CI.
type Nop struct{}

func (Nop) Record(context.Context, string, model.Kind, map[string]any) error { return nil }
