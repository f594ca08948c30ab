package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/callguard/internal/engine"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/session"
)

// --- Input/Output types ---

// SessionInput defines parameters for the callguard_session tool.
type SessionInput struct {
	ProjectID      string `json:"project_id,omitempty" jsonschema:"project the task belongs to"`
	TaskID         string `json:"task_id" jsonschema:"task identifier"`
	Intent         string `json:"intent,omitempty" jsonschema:"what the task is for"`
	AllowedToolIDs []any  `json:"allowed_tool_ids" jsonschema:"tool ids (string or integer) the task may call"`
}

// SessionOutput describes the created session.
type SessionOutput struct {
	TaskID         string   `json:"task_id"`
	PorToken       string   `json:"por_token,omitempty"`
	AllowedToolIDs []string `json:"allowed_tool_ids"`
}

// AckInput defines parameters for the callguard_ack tool.
type AckInput struct {
	TaskID string `json:"task_id" jsonschema:"task identifier"`
	Token  string `json:"token" jsonschema:"readback token as echoed by the agent"`
}

// AckOutput reports the readback status.
type AckOutput struct {
	OK         bool            `json:"ok"`
	Violations []ViolationItem `json:"violations,omitempty"`
}

// EvaluateInput defines parameters for the callguard_evaluate tool.
type EvaluateInput struct {
	TaskID   string  `json:"task_id" jsonschema:"task whose session authorizes the call"`
	ToolID   any     `json:"tool_id" jsonschema:"tool id (string or integer)"`
	Ring     *int    `json:"ring" jsonschema:"privilege ring the call runs at"`
	Args     any     `json:"args" jsonschema:"call arguments object"`
	PorToken *string `json:"por_token,omitempty" jsonschema:"readback token echoed with the call"`
}

// EvaluateOutput contains the decision.
type EvaluateOutput struct {
	Executed     bool            `json:"executed"`
	PorOK        bool            `json:"por_ok"`
	SchemaOK     bool            `json:"schema_ok"`
	ProvenanceOK bool            `json:"provenance_ok"`
	Violations   []ViolationItem `json:"violations,omitempty"`
}

// ViolationItem is one violation in tool output.
type ViolationItem struct {
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// CatalogInput is empty; no parameters needed.
type CatalogInput struct{}

// CatalogOutput lists catalog tools.
type CatalogOutput struct {
	Tools []CatalogItem `json:"tools"`
}

// CatalogItem describes one catalog tool.
type CatalogItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Ring int    `json:"ring"`
}

// --- Handlers ---

func (s *Server) handleSession(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionInput) (*mcpsdk.CallToolResult, SessionOutput, error) {
	ids, err := parseIDs(input.AllowedToolIDs)
	if err != nil {
		return nil, SessionOutput{}, err
	}
	sess, err := s.engine.CreateSession(session.Input{
		ProjectID:      input.ProjectID,
		TaskID:         input.TaskID,
		Intent:         input.Intent,
		AllowedToolIDs: ids,
	})
	if err != nil {
		return nil, SessionOutput{}, err
	}

	out := SessionOutput{TaskID: sess.TaskID, AllowedToolIDs: make([]string, len(sess.AllowedToolIDs))}
	if sess.PorToken != nil {
		out.PorToken = *sess.PorToken
	}
	for i, id := range sess.AllowedToolIDs {
		out.AllowedToolIDs[i] = id.String()
	}
	return nil, out, nil
}

func (s *Server) handleAck(ctx context.Context, req *mcpsdk.CallToolRequest, input AckInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	sess, violations, err := s.engine.AcknowledgeSession(ctx, input.TaskID, input.Token)
	if err != nil {
		return nil, AckOutput{}, err
	}
	out := AckOutput{OK: sess.PorStatus.OK, Violations: toItems(violations)}
	if !out.OK {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	id, err := model.ParseToolID(input.ToolID)
	if err != nil {
		return nil, EvaluateOutput{}, &model.ContractError{Code: model.KindCallInvalid, Field: "tool_id", Message: err.Error()}
	}
	res, err := s.engine.Evaluate(ctx, engine.EvaluateRequest{
		TaskID: input.TaskID,
		Call: model.ToolCall{
			ToolID:   id,
			Ring:     input.Ring,
			Args:     model.RawArgs(input.Args),
			PorToken: input.PorToken,
		},
	})
	if err != nil {
		return nil, EvaluateOutput{}, err
	}

	out := EvaluateOutput{
		Executed:     res.Executed,
		PorOK:        res.PorOK,
		SchemaOK:     res.SchemaOK,
		ProvenanceOK: res.ProvenanceOK,
		Violations:   toItems(res.Violations),
	}
	if !res.Executed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleCatalog(ctx context.Context, req *mcpsdk.CallToolRequest, input CatalogInput) (*mcpsdk.CallToolResult, CatalogOutput, error) {
	tools, err := s.engine.Catalog().ListTools(ctx)
	if err != nil {
		return nil, CatalogOutput{}, fmt.Errorf("catalog unavailable: %w", err)
	}
	out := CatalogOutput{Tools: make([]CatalogItem, len(tools))}
	for i, t := range tools {
		out.Tools[i] = CatalogItem{ID: t.ID.String(), Name: t.Name, Ring: t.Ring}
	}
	return nil, out, nil
}

func parseIDs(raw []any) ([]model.ToolID, error) {
	ids := make([]model.ToolID, 0, len(raw))
	for _, v := range raw {
		id, err := model.ParseToolID(v)
		if err != nil {
			return nil, &model.ContractError{Code: model.KindCallInvalid, Field: "allowed_tool_ids", Message: err.Error()}
		}
		if !id.IsZero() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func toItems(violations []model.Violation) []ViolationItem {
	if len(violations) == 0 {
		return nil
	}
	out := make([]ViolationItem, len(violations))
	for i, v := range violations {
		out[i] = ViolationItem{Kind: string(v.Kind), Detail: v.Detail}
	}
	return out
}
