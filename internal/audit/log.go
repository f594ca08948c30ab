package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/callguard/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL violation log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous JSON line.
type Log struct {
	path       string
	file       *os.File
	prevHash   string
	policyHash string
	mu         sync.Mutex
}

// Open opens (or creates) a log for appending, recovering the chain tail
// from the last line of an existing file.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

// maxLineSize bounds a single JSONL entry when scanning.
const maxLineSize = 1 << 20

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// SetPolicyHash stamps subsequent entries with the active policy hash.
func (l *Log) SetPolicyHash(hash string) {
	l.mu.Lock()
	l.policyHash = hash
	l.mu.Unlock()
}

// Record appends one violation. It implements Recorder. An expired ctx
// fails the write before the file is touched.
func (l *Log) Record(ctx context.Context, taskID string, kind model.Kind, detail map[string]any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return l.Append(Entry{TaskID: taskID, Kind: kind, Detail: detail})
}

// Append writes an entry with hash chaining and syncs to disk. ID, Timestamp
// and PolicyHash are filled in when empty.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	if entry.PolicyHash == "" {
		entry.PolicyHash = l.policyHash
	}
	if entry.Detail == nil {
		entry.Detail = map[string]any{}
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Replay implements Replayer over the log file.
func (l *Log) Replay(_ context.Context, filter ReplayFilter) (*ReplayResult, error) {
	return Replay(l.path, filter)
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
