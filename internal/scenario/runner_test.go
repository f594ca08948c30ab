package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/policy"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func boolp(b bool) *bool { return &b }

func TestBundledScenariosPass(t *testing.T) {
	files, err := Expand([]string{filepath.Join("..", "..", "testdata", "scenarios")})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 5 {
		t.Fatalf("expected at least 5 scenario files, got %d", len(files))
	}
	for _, f := range files {
		result, err := LoadAndRun(f, filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		for _, c := range result.Cases {
			if !c.Passed {
				t.Errorf("%s case %d (%s): expected %s, got %s: %s", filepath.Base(f), c.Index, c.Name, c.Expected, c.Actual, c.Reason)
			}
		}
	}
}

func TestFailedAssertionDetected(t *testing.T) {
	s := &Scenario{
		Name: "wrong expectation",
		Cases: []Case{{
			Name:    "clean call expected to block",
			Session: map[string]any{"task_id": "t1", "allowed_tool_ids": []any{1}},
			Call:    map[string]any{"tool_id": 1, "ring": 1, "args": map[string]any{}},
			Policy:  &model.ToolPolicy{Ring: 1},
			Expect:  Expect{Executed: boolp(false)},
		}},
	}

	result := Run(s, nil)
	if result.Failed != 1 || result.Passed != 0 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
	if !strings.Contains(result.Cases[0].Reason, "executed: expected false, got true") {
		t.Errorf("unexpected reason %q", result.Cases[0].Reason)
	}
}

func TestPolicyFromFileWhenCaseHasNone(t *testing.T) {
	cfg, err := policy.Parse([]byte("tools:\n  \"1\":\n    ring: 1\n    required_args: [query]\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := &Scenario{
		Name: "policy lookup",
		Cases: []Case{
			{
				Name:    "known tool",
				Session: map[string]any{"task_id": "t1", "allowed_tool_ids": []any{1, 2}},
				Call:    map[string]any{"tool_id": 1, "ring": 1, "args": map[string]any{}},
				Expect:  Expect{Kinds: []string{"args.missing:query"}},
			},
			{
				Name:    "unknown tool is denied",
				Session: map[string]any{"task_id": "t1", "allowed_tool_ids": []any{1, 2}},
				Call:    map[string]any{"tool_id": 2, "ring": 1, "args": map[string]any{}},
				Expect:  Expect{Executed: boolp(false), Kinds: []string{"forbidden.tool"}},
			},
		},
	}

	result := Run(s, cfg)
	if result.Failed != 0 {
		t.Errorf("expected all cases to pass, got %s", FormatText([]*RunResult{result}))
	}
}

func TestContractErrorUnexpected(t *testing.T) {
	s := &Scenario{
		Cases: []Case{{
			Name:    "no ring",
			Session: map[string]any{"task_id": "t1"},
			Call:    map[string]any{"tool_id": 1, "args": map[string]any{}},
			Expect:  Expect{Executed: boolp(false)},
		}},
	}
	result := Run(s, nil)
	if result.Passed != 0 || result.Cases[0].Actual != "contract_error" {
		t.Errorf("expected contract error to fail the case, got %+v", result.Cases[0])
	}
}

func TestLoadDefaultsNameToFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "unnamed.yaml", `
cases:
  - session: {task_id: t1, allowed_tool_ids: ["x"]}
    call: {tool_id: "x", ring: 0, args: {}}
    policy: {ring: 0}
    expect: {executed: true}
`)
	result, err := LoadAndRun(path, filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Name != "unnamed" || result.File != path {
		t.Errorf("unexpected name/file %q %q", result.Name, result.File)
	}
	if result.Failed != 0 {
		t.Errorf("expected pass, got %+v", result.Cases)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", "cases: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExpandMissingPath(t *testing.T) {
	if _, err := Expand([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatText(t *testing.T) {
	results := []*RunResult{
		{Name: "ok", Total: 1, Passed: 1, Cases: []CaseResult{{Index: 1, Passed: true}}},
		{Name: "bad", Total: 1, Failed: 1, Cases: []CaseResult{{Index: 1, Name: "c", ToolID: "7", Expected: "executed=true", Actual: "executed=false [forbidden.tool]", Reason: "executed: expected true, got false"}}},
	}
	out := FormatText(results)
	for _, want := range []string{"Checking 2 scenario files", "PASS  ok (1/1)", "FAIL  bad (0/1)", "tool=7", "1 of 2 cases passed. 1 of 2 scenarios failed."} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON([]*RunResult{{Name: "x", Total: 0}})
	if err != nil {
		t.Fatal(err)
	}
	var back []RunResult
	if err := json.Unmarshal([]byte(out), &back); err != nil || len(back) != 1 || back[0].Name != "x" {
		t.Errorf("unexpected JSON %s (%v)", out, err)
	}
}
