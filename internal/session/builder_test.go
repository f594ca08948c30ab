package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/ppiankov/callguard/internal/model"
)

func TestBuildDerivesToken(t *testing.T) {
	b := NewBuilder()
	s, err := b.Build(Input{ProjectID: "p1", TaskID: "abcdef12-3456"})
	if err != nil {
		t.Fatal(err)
	}
	if s.PorToken == nil || *s.PorToken != "por-abcdef12" {
		t.Fatalf("expected por-abcdef12, got %v", s.PorToken)
	}
	if s.PorStatus.OK {
		t.Error("status must not be ok before the agent echoes")
	}
	if len(s.AllowedToolIDs) != 0 {
		t.Errorf("allowlist must default to empty, got %v", s.AllowedToolIDs)
	}
	if s.Allows(model.IntID(1)) {
		t.Error("fresh session must deny every tool")
	}
}

func TestBuildRejectsSecondSessionForTask(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Build(Input{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	_, err := b.Build(Input{TaskID: "t1", AllowedToolIDs: []model.ToolID{model.IntID(1)}})
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	s, _ := b.Get("t1")
	if s.Allows(model.IntID(1)) {
		t.Error("rejected build must not merge into the existing session")
	}
}

func TestBuildMissingTaskID(t *testing.T) {
	_, err := NewBuilder().Build(Input{ProjectID: "p1"})
	if !errors.Is(err, model.ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
}

func TestBuildUnusableTaskIDForToken(t *testing.T) {
	_, err := NewBuilder().Build(Input{TaskID: "---"})
	if !errors.Is(err, model.ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	s, err := NewBuilder().Build(Input{TaskID: "---", SkipReadback: true})
	if err != nil {
		t.Fatal(err)
	}
	if s.PorToken != nil {
		t.Error("expected no token")
	}
}

func TestBuildCopiesInput(t *testing.T) {
	ids := []model.ToolID{model.IntID(1)}
	s, err := NewBuilder().Build(Input{TaskID: "t1", AllowedToolIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	ids[0] = model.IntID(9)
	if !s.Allows(model.IntID(1)) {
		t.Error("session must not alias caller's slice")
	}
}

func TestAcknowledgeStoresStatus(t *testing.T) {
	b := NewBuilder()
	orig, _ := b.Build(Input{TaskID: "t1"})

	updated, v, err := b.Acknowledge("t1", "por-t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 0 || !updated.PorStatus.OK {
		t.Errorf("expected ok ack, got %+v %v", updated.PorStatus, v)
	}
	if orig.PorStatus.OK {
		t.Error("original session must not be mutated")
	}
	held, _ := b.Get("t1")
	if !held.PorStatus.OK {
		t.Error("expected held session to carry the new status")
	}

	_, v, _ = b.Acknowledge("t1", "wrong")
	if len(v) != 1 || v[0].Kind != model.KindPoRMismatch {
		t.Errorf("expected por.mismatch, got %v", v)
	}

	if _, _, err := b.Acknowledge("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseAllowsNewSession(t *testing.T) {
	b := NewBuilder()
	b.Build(Input{TaskID: "t1"})
	b.Release("t1")
	if b.Len() != 0 {
		t.Fatalf("expected empty builder, got %d", b.Len())
	}
	if _, err := b.Build(Input{TaskID: "t1"}); err != nil {
		t.Fatalf("expected build after release, got %v", err)
	}
}

func TestConcurrentBuildOneWinner(t *testing.T) {
	b := NewBuilder()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Build(Input{TaskID: "race"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one session, got %d", wins)
	}
}
