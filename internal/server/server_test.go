package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/callguard/internal/config"
	"github.com/ppiankov/callguard/internal/engine"
)

const testPolicy = `tools:
  "1":
    ring: 1
    required_args: [query]
  "2":
    ring: 2
`

// testServer spins up an in-process gRPC server over bufconn and returns a client.
func testServer(t *testing.T, policyPath string) (*Client, *Server) {
	t.Helper()

	cfg := config.Default()
	cfg.PolicyPath = policyPath
	e, err := engine.Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}

	srv := New(e, Config{}, zerolog.Nop())
	lis := bufconn.Listen(1 << 20)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		e.Close()
	})
	return NewClient(conn), srv
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func evalRequest(toolID any, ring int, args map[string]any, allowed ...any) map[string]any {
	return map[string]any{
		"session": map[string]any{"task_id": "t1", "allowed_tool_ids": allowed},
		"call":    map[string]any{"tool_id": toolID, "ring": ring, "args": args},
	}
}

func kinds(resp *structpb.Struct) []string {
	var out []string
	for _, v := range resp.Fields["violations"].GetListValue().GetValues() {
		out = append(out, v.GetStructValue().Fields["kind"].GetStringValue())
	}
	return out
}

func TestEvaluateAllowsCleanCall(t *testing.T) {
	client, _ := testServer(t, writeTempFile(t, "policy.yaml", testPolicy))

	resp, err := client.Evaluate(context.Background(), mustStruct(t,
		evalRequest(1, 1, map[string]any{"query": "q"}, 1)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !resp.Fields["executed"].GetBoolValue() {
		t.Errorf("expected executed, got violations %v", kinds(resp))
	}
	if got := resp.Fields["call"].GetStructValue().Fields["tool_id"].GetNumberValue(); got != 1 {
		t.Errorf("expected tool_id echoed as 1, got %v", got)
	}
}

func TestEvaluateBlocksForbiddenTool(t *testing.T) {
	client, _ := testServer(t, writeTempFile(t, "policy.yaml", testPolicy))

	resp, err := client.Evaluate(context.Background(), mustStruct(t,
		evalRequest(2, 1, map[string]any{}, 1)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Fields["executed"].GetBoolValue() {
		t.Fatal("expected blocked call")
	}
	got := kinds(resp)
	if len(got) != 2 || got[0] != "forbidden.tool" || got[1] != "ring.violation" {
		t.Errorf("expected [forbidden.tool ring.violation], got %v", got)
	}
}

func TestEvaluateContractErrorIsInvalidArgument(t *testing.T) {
	client, _ := testServer(t, "")

	_, err := client.Evaluate(context.Background(), mustStruct(t, map[string]any{
		"session": map[string]any{"task_id": "t1"},
		"call":    map[string]any{"ring": 1, "args": map[string]any{}},
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCreateSessionThenEvaluateByTaskID(t *testing.T) {
	client, _ := testServer(t, writeTempFile(t, "policy.yaml", testPolicy))
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, mustStruct(t, map[string]any{
		"task_id":          "deadbeef-01",
		"allowed_tool_ids": []any{1},
	}))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	token := sess.Fields["por_token"].GetStringValue()
	if token != "por-deadbeef" {
		t.Fatalf("expected por-deadbeef, got %q", token)
	}

	_, err = client.CreateSession(ctx, mustStruct(t, map[string]any{"task_id": "deadbeef-01"}))
	if status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists for duplicate task, got %v", err)
	}

	resp, err := client.Evaluate(ctx, mustStruct(t, map[string]any{
		"task_id": "deadbeef-01",
		"call":    map[string]any{"tool_id": 1, "ring": 1, "args": map[string]any{"query": "q"}},
	}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := kinds(resp); len(got) != 1 || got[0] != "MISSING_POR" {
		t.Errorf("expected MISSING_POR without echo, got %v", got)
	}
}

func TestListTools(t *testing.T) {
	client, _ := testServer(t, "")

	resp, err := client.ListTools(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if n := len(resp.Fields["tools"].GetListValue().GetValues()); n != 3 {
		t.Errorf("expected 3 stub tools, got %d", n)
	}
}

func TestConcurrentEvaluations(t *testing.T) {
	client, _ := testServer(t, writeTempFile(t, "policy.yaml", testPolicy))

	req := mustStruct(t, evalRequest(1, 1, map[string]any{"query": "q"}, 1))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Evaluate(context.Background(), req)
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent eval error: %v", err)
	}
}

func TestHotReloadPolicyChange(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", testPolicy)
	client, srv := testServer(t, policyPath)
	ctx := context.Background()

	resp, err := client.Evaluate(ctx, mustStruct(t, evalRequest(1, 1, map[string]any{"query": "q"}, 1)))
	if err != nil {
		t.Fatalf("Evaluate before reload: %v", err)
	}
	if !resp.Fields["executed"].GetBoolValue() {
		t.Fatalf("expected executed before reload, got %v", kinds(resp))
	}

	if err := os.WriteFile(policyPath, []byte("tools:\n  \"1\":\n    ring: 1\n    required_args: [query, limit]\n"), 0644); err != nil {
		t.Fatalf("write new policy: %v", err)
	}
	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}

	resp, err = client.Evaluate(ctx, mustStruct(t, evalRequest(1, 1, map[string]any{"query": "q"}, 1)))
	if err != nil {
		t.Fatalf("Evaluate after reload: %v", err)
	}
	if got := kinds(resp); len(got) != 1 || got[0] != "args.missing:limit" {
		t.Errorf("expected args.missing:limit after reload, got %v", got)
	}
}

type countingReloader struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReloader) ReloadPolicy() error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

func (c *countingReloader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestReloaderDebouncesWrites(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", testPolicy)
	target := &countingReloader{}

	r, err := NewReloader(target, []string{policyPath, "", filepath.Join(t.TempDir(), "absent.yaml")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.Paths()) != 1 {
		t.Fatalf("expected only the existing file watched, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 3; i++ {
		os.WriteFile(policyPath, []byte(testPolicy), 0644)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(reloadDebounce + 400*time.Millisecond)

	if n := target.count(); n != 1 {
		t.Errorf("expected one debounced reload, got %d", n)
	}
}
