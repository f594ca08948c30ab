package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/callguard/internal/catalog"
	"github.com/ppiankov/callguard/internal/guard"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/policy"
	"github.com/ppiankov/callguard/internal/schema"
)

// Run evaluates all cases in a scenario against the given policy set.
// Each case gets a fresh coordinator with the stub catalog; cases are independent.
func Run(s *Scenario, cfg *policy.PolicyConfig) *RunResult {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	mode, err := model.ParseMode(string(s.Mode))
	if err != nil {
		mode = model.Hermetic
	}

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		cr := runCase(context.Background(), c, cfg, mode)
		cr.Index = i + 1
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

func runCase(ctx context.Context, c Case, cfg *policy.PolicyConfig, mode model.Mode) CaseResult {
	cr := CaseResult{Name: c.Name, Expected: describeExpect(c.Expect)}

	sess, call, err := decodeCase(c)
	if err != nil {
		cr.Actual = "invalid case"
		cr.Reason = err.Error()
		return cr
	}
	cr.ToolID = call.ToolID.String()

	docs, err := cfg.SchemaDocuments()
	if err != nil {
		cr.Actual = "invalid policy"
		cr.Reason = err.Error()
		return cr
	}
	if c.Schema != nil {
		raw, err := json.Marshal(c.Schema)
		if err != nil {
			cr.Actual = "invalid case"
			cr.Reason = fmt.Sprintf("encode schema: %v", err)
			return cr
		}
		ref := call.ToolID.String()
		if c.Policy != nil && c.Policy.Schema != "" {
			ref = c.Policy.Schema
		}
		docs[ref] = raw
	}

	g := guard.New(guard.Config{
		Mode:     mode,
		Catalog:  catalog.NewStub(),
		Schemas:  schema.NewValidator(schema.Config{Store: schema.NewMemory(docs), Mode: mode, Logger: zerolog.Nop()}),
		Policies: cfg,
		Logger:   zerolog.Nop(),
	})

	var res model.ExecutionResult
	if c.Policy != nil {
		res, err = g.Authorize(ctx, call, sess, *c.Policy)
	} else {
		res, err = g.AuthorizeByTool(ctx, call, sess)
	}

	if err != nil {
		if !errors.Is(err, model.ErrContract) {
			cr.Actual = "error"
			cr.Reason = err.Error()
			return cr
		}
		cr.Actual = "contract_error"
		if c.Expect.ContractError {
			cr.Passed = true
		} else {
			cr.Reason = err.Error()
		}
		return cr
	}

	cr.Actual = describeResult(res)
	if c.Expect.ContractError {
		cr.Reason = "expected contract error"
		return cr
	}
	if reason := check(c.Expect, res); reason != "" {
		cr.Reason = reason
		return cr
	}
	cr.Passed = true
	return cr
}

// decodeCase converts the YAML session and call into model values through
// their JSON encoding, so tool ids keep their string or integer form.
func decodeCase(c Case) (*model.CapabilitySession, model.ToolCall, error) {
	var call model.ToolCall
	if err := viaJSON(c.Call, &call); err != nil {
		return nil, call, fmt.Errorf("call: %w", err)
	}
	if c.Session == nil {
		return nil, call, nil
	}
	var sess model.CapabilitySession
	if err := viaJSON(c.Session, &sess); err != nil {
		return nil, call, fmt.Errorf("session: %w", err)
	}
	return &sess, call, nil
}

func viaJSON(in map[string]any, out any) error {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func check(e Expect, res model.ExecutionResult) string {
	var problems []string
	flag := func(name string, want *bool, got bool) {
		if want != nil && *want != got {
			problems = append(problems, fmt.Sprintf("%s: expected %v, got %v", name, *want, got))
		}
	}
	flag("executed", e.Executed, res.Executed)
	flag("por_ok", e.PorOK, res.PorOK)
	flag("schema_ok", e.SchemaOK, res.SchemaOK)
	flag("provenance_ok", e.ProvenanceOK, res.ProvenanceOK)

	got := kinds(res.Violations)
	if e.Kinds != nil && !slices.Equal(e.Kinds, got) {
		problems = append(problems, fmt.Sprintf("kinds: expected %v, got %v", e.Kinds, got))
	}
	for _, k := range e.Contains {
		if !slices.Contains(got, k) {
			problems = append(problems, fmt.Sprintf("missing violation %s", k))
		}
	}
	return strings.Join(problems, "; ")
}

func kinds(violations []model.Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = string(v.Kind)
	}
	return out
}

func describeResult(res model.ExecutionResult) string {
	return fmt.Sprintf("executed=%v %v", res.Executed, kinds(res.Violations))
}

func describeExpect(e Expect) string {
	if e.ContractError {
		return "contract_error"
	}
	var parts []string
	if e.Executed != nil {
		parts = append(parts, fmt.Sprintf("executed=%v", *e.Executed))
	}
	if e.Kinds != nil {
		parts = append(parts, fmt.Sprintf("%v", e.Kinds))
	}
	for _, k := range e.Contains {
		parts = append(parts, "+"+k)
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// Load reads a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &s, nil
}

// LoadAndRun loads a scenario YAML file and the policy file, and runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	result := Run(s, cfg)
	result.File = path

	return result, nil
}

// Expand resolves files and directories into a sorted list of scenario
// files. Directories contribute their *.yaml and *.yml entries.
func Expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	sort.Strings(files)
	return files, nil
}
