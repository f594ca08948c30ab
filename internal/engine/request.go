package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/session"
)

// EvaluateRequest is the transport-neutral evaluate payload. The session is
// given inline or referenced by task id; the policy is given inline or
// looked up by tool id.
type EvaluateRequest struct {
	TaskID  string                   `json:"task_id,omitempty"`
	Session *model.CapabilitySession `json:"session,omitempty"`
	Call    model.ToolCall           `json:"call"`
	Policy  *model.ToolPolicy        `json:"policy,omitempty"`
}

// DecodeEvaluateRequest parses a JSON evaluate payload. Unknown fields are ignored.
func DecodeEvaluateRequest(data []byte) (EvaluateRequest, error) {
	var req EvaluateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return EvaluateRequest{}, &model.ContractError{
			Code:    model.KindCallInvalid,
			Message: fmt.Sprintf("malformed request: %v", err),
		}
	}
	return req, nil
}

// Evaluate authorizes one call: violations are recorded and counted.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (model.ExecutionResult, error) {
	s, err := e.resolveSession(req)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	if req.Policy != nil {
		return e.guard.Authorize(ctx, req.Call, s, *req.Policy)
	}
	return e.guard.AuthorizeByTool(ctx, req.Call, s)
}

func (e *Engine) resolveSession(req EvaluateRequest) (*model.CapabilitySession, error) {
	if req.Session != nil {
		return req.Session, nil
	}
	if req.TaskID == "" {
		return nil, model.MissingField("session")
	}
	s, ok := e.sessions.Get(req.TaskID)
	if !ok {
		return nil, &model.ContractError{Code: model.KindCallInvalid, Field: "task_id", Message: "no session for task"}
	}
	return s, nil
}

// CreateSession builds and holds the session for a task.
func (e *Engine) CreateSession(in session.Input) (*model.CapabilitySession, error) {
	s, err := e.sessions.Build(in)
	if err != nil {
		return nil, err
	}
	e.log.Debug().Str("task_id", s.TaskID).Int("allowed", len(s.AllowedToolIDs)).Msg("session created")
	return s, nil
}

// AcknowledgeSession checks the readback token an agent echoed for a held
// session. A mismatch is recorded and returned as a violation.
func (e *Engine) AcknowledgeSession(ctx context.Context, taskID, echoed string) (*model.CapabilitySession, []model.Violation, error) {
	s, violations, err := e.sessions.Acknowledge(taskID, echoed)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil, &model.ContractError{Code: model.KindCallInvalid, Field: "task_id", Message: "no session for task"}
		}
		return nil, nil, err
	}
	for _, v := range violations {
		rctx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Recorder)
		if err := e.recorder.Record(rctx, taskID, v.Kind, v.Detail); err != nil {
			e.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to record violation")
		}
		cancel()
	}
	return s, violations, nil
}
