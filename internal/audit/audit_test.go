package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/callguard/internal/model"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "violations.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func record(t *testing.T, l *Log, taskID string, kind model.Kind) {
	t.Helper()
	if err := l.Record(context.Background(), taskID, kind, map[string]any{"tool_id": "7"}); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), "t1", model.KindForbiddenTool, nil); err != nil {
		t.Fatalf("nop must never fail, got %v", err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		record(t, l, "t1", model.KindForbiddenTool)
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestRecordHonorsExpiredContext(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, "t1", model.KindForbiddenTool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Record(ctx, "t1", model.KindRingViolation, nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 1 {
		t.Fatalf("expected one valid line, got %+v", result)
	}
}

func TestEntryFieldsArePersisted(t *testing.T) {
	l, path := newTestLog(t)
	l.SetPolicyHash("sha256:abc")
	record(t, l, "t1", model.ArgsMissing("query"))
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &e); err != nil {
		t.Fatal(err)
	}
	if e.TaskID != "t1" || e.Kind != model.ArgsMissing("query") {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.ID == "" || e.Timestamp == "" {
		t.Error("expected id and timestamp to be set")
	}
	if e.PolicyHash != "sha256:abc" {
		t.Errorf("expected policy hash stamp, got %q", e.PolicyHash)
	}
	if e.PrevHash != GenesisHash {
		t.Errorf("first entry must chain from genesis, got %s", e.PrevHash)
	}
	if e.Detail["tool_id"] != "7" {
		t.Errorf("detail not preserved: %v", e.Detail)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		record(t, l, "t1", model.KindForbiddenTool)
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"forbidden.tool"`, `"ring.violation"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		record(t, l, "t1", model.KindForbiddenTool)
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0600)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected break at line 2, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, "t1", model.KindForbiddenTool)
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	record(t, l2, "t1", model.KindRingViolation)
	l2.Close()

	if result := Verify(path); !result.Valid || result.Lines != 2 {
		t.Fatalf("expected valid 2-line chain after reopen, got %+v", result)
	}
}

func TestConcurrentWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Record(context.Background(), "t1", model.KindMissingPoR, nil); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 20 {
		t.Fatalf("expected valid 20-line chain, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	if result := Verify(filepath.Join(t.TempDir(), "nope.jsonl")); result.Valid {
		t.Fatal("expected missing file to be invalid")
	}
}
