package callguard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/callguard/internal/audit"
)

const testPolicy = `tools:
  "search":
    ring: 1
    required_args: [query]
    schema: search
  "7":
    ring: 2
    required_args: []
schemas:
  search:
    type: object
    properties:
      query:
        type: string
`

func writePolicy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(testPolicy), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithPolicy(writePolicy(t))}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(WithPolicy(writePolicy(t)), WithMode("loose")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCheckCleanCall(t *testing.T) {
	c := newTestClient(t)
	sess, err := c.Begin(SessionInput{TaskID: "task-42", AllowedToolIDs: []any{"search"}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Check(context.Background(), sess, Call{
		ToolID:   "search",
		Ring:     1,
		Args:     map[string]any{"query": "status"},
		PorToken: *sess.PorToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Executed || len(res.Violations) != 0 {
		t.Errorf("expected executed, got %+v", res)
	}
}

func TestCheckNumericToolID(t *testing.T) {
	c := newTestClient(t)
	sess, err := c.Begin(SessionInput{TaskID: "task-7", AllowedToolIDs: []any{7}, NoReadback: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Check(context.Background(), sess, Call{ToolID: 7, Ring: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Executed {
		t.Errorf("expected executed, got %+v", res.Violations)
	}
}

func TestBeginRejectsBadToolID(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Begin(SessionInput{TaskID: "t1", AllowedToolIDs: []any{1.5}})
	if !errors.Is(err, ErrContract) {
		t.Errorf("expected contract error, got %v", err)
	}
}

func TestBeginTwiceFails(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Begin(SessionInput{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Begin(SessionInput{TaskID: "t1"}); err == nil {
		t.Fatal("expected error for a second session on the same task")
	}

	s, _ := c.sessions.Get("t1")
	c.End(s)
	if _, err := c.Begin(SessionInput{TaskID: "t1"}); err != nil {
		t.Errorf("expected new session after End, got %v", err)
	}
}

func TestAuditLogRecordsViolations(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	c := newTestClient(t, WithAuditLog(logPath))
	sess, err := c.Begin(SessionInput{TaskID: "task-9"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Check(context.Background(), sess, Call{
		ToolID:   "search",
		Ring:     1,
		Args:     map[string]any{"query": "x"},
		PorToken: *sess.PorToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Executed {
		t.Fatal("expected forbidden tool to be blocked")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	replay, err := audit.Replay(logPath, audit.ReplayFilter{TaskID: "task-9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(replay.Entries) != 1 || replay.Entries[0].Kind != "forbidden.tool" {
		t.Errorf("expected one forbidden.tool entry, got %+v", replay.Entries)
	}
}
