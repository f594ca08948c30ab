package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/config"
	"github.com/ppiankov/callguard/internal/engine"
	"github.com/ppiankov/callguard/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	policy := "tools:\n  \"1\":\n    ring: 1\n    required_args: [query]\n"
	if err := os.WriteFile(policyPath, []byte(policy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cfg := config.Default()
	cfg.PolicyPath = policyPath
	e, err := engine.Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return New(e, Config{Version: "test"})
}

func openSession(t *testing.T, s *Server, taskID string) SessionOutput {
	t.Helper()
	_, out, err := s.handleSession(context.Background(), &mcpsdk.CallToolRequest{}, SessionInput{
		TaskID:         taskID,
		AllowedToolIDs: []any{float64(1)},
	})
	if err != nil {
		t.Fatalf("handleSession: %v", err)
	}
	return out
}

func TestSessionReturnsToken(t *testing.T) {
	s := newTestServer(t)
	out := openSession(t, s, "cafe0001-x")
	if out.PorToken != "por-cafe0001" {
		t.Errorf("expected por-cafe0001, got %q", out.PorToken)
	}
	if len(out.AllowedToolIDs) != 1 || out.AllowedToolIDs[0] != "1" {
		t.Errorf("unexpected allowlist %v", out.AllowedToolIDs)
	}
}

func TestSessionRejectsBadToolID(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.handleSession(context.Background(), &mcpsdk.CallToolRequest{}, SessionInput{
		TaskID:         "t1",
		AllowedToolIDs: []any{map[string]any{"x": 1}},
	})
	if !errors.Is(err, model.ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
}

func TestEvaluateAllowed(t *testing.T) {
	s := newTestServer(t)
	sess := openSession(t, s, "cafe0002")

	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		TaskID:   "cafe0002",
		ToolID:   float64(1),
		Ring:     model.RingOf(1),
		Args:     map[string]any{"query": "q"},
		PorToken: model.Token(sess.PorToken),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("expected success, got violations %v", out.Violations)
	}
	if !out.Executed || !out.PorOK {
		t.Errorf("expected executed with readback ok, got %+v", out)
	}
}

func TestEvaluateBlocked(t *testing.T) {
	s := newTestServer(t)
	openSession(t, s, "cafe0003")

	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		TaskID: "cafe0003",
		ToolID: "1",
		Ring:   model.RingOf(1),
		Args:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for blocked call")
	}
	if out.Executed {
		t.Fatal("expected executed=false")
	}
	if len(out.Violations) != 2 || out.Violations[0].Kind != "MISSING_POR" || out.Violations[1].Kind != "args.missing:query" {
		t.Errorf("unexpected violations %+v", out.Violations)
	}
}

func TestEvaluateContractError(t *testing.T) {
	s := newTestServer(t)
	openSession(t, s, "cafe0004")

	_, _, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		TaskID: "cafe0004",
		ToolID: float64(1),
		Args:   map[string]any{},
	})
	if !errors.Is(err, model.ErrContract) {
		t.Fatalf("expected contract error for missing ring, got %v", err)
	}

	_, _, err = s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		TaskID: "nobody",
		ToolID: float64(1),
		Ring:   model.RingOf(1),
		Args:   map[string]any{},
	})
	if !errors.Is(err, model.ErrContract) {
		t.Fatalf("expected contract error for unknown task, got %v", err)
	}
}

func TestAck(t *testing.T) {
	s := newTestServer(t)
	openSession(t, s, "cafe0005")

	result, out, err := s.handleAck(context.Background(), &mcpsdk.CallToolRequest{}, AckInput{TaskID: "cafe0005", Token: "por-nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError || out.OK || len(out.Violations) != 1 {
		t.Errorf("expected failed ack with one violation, got %+v", out)
	}

	result, out, err = s.handleAck(context.Background(), &mcpsdk.CallToolRequest{}, AckInput{TaskID: "cafe0005", Token: "por-cafe0005"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil || !out.OK {
		t.Errorf("expected ok ack, got %+v", out)
	}
}

func TestCatalog(t *testing.T) {
	s := newTestServer(t)
	_, out, err := s.handleCatalog(context.Background(), &mcpsdk.CallToolRequest{}, CatalogInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 3 || out.Tools[2].Name != "deploy" || out.Tools[2].Ring != 3 {
		t.Errorf("unexpected catalog %+v", out.Tools)
	}
}
