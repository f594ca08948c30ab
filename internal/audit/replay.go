package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects the entries of one task, optionally within a time range.
type ReplayFilter struct {
	TaskID string
	From   time.Time // zero value = no lower bound
	To     time.Time // zero value = no upper bound
}

// ReplaySummary counts violations per kind family for a replayed task.
type ReplaySummary struct {
	Total          int            `json:"total"`
	ByFamily       map[string]int `json:"by_family"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and summary for one task.
type ReplayResult struct {
	TaskID  string        `json:"task_id"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

func newReplayResult(taskID string) *ReplayResult {
	return &ReplayResult{TaskID: taskID, Summary: ReplaySummary{ByFamily: map[string]int{}}}
}

// Replay reads a JSONL log and returns the entries matching filter.
// Malformed lines are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	result := newReplayResult(filter.TaskID)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		result.add(entry, filter)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return result, nil
}

// Tail returns the last n entries of a JSONL log, oldest first.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return entries, nil
}

func (r *ReplayResult) add(entry Entry, filter ReplayFilter) {
	if entry.TaskID != filter.TaskID {
		return
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, entry.Timestamp)
		if err != nil {
			return
		}
		if !filter.From.IsZero() && ts.Before(filter.From) {
			return
		}
		if !filter.To.IsZero() && ts.After(filter.To) {
			return
		}
	}

	r.Entries = append(r.Entries, entry)
	r.Summary.Total++
	r.Summary.ByFamily[entry.Kind.Family()]++
	if r.Summary.FirstTimestamp == "" {
		r.Summary.FirstTimestamp = entry.Timestamp
	}
	r.Summary.LastTimestamp = entry.Timestamp
}
