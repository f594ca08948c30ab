package callguard

import (
	"fmt"
	"strings"

	"github.com/ppiankov/callguard/internal/model"
)

// Session is a task's capability session.
type Session = model.CapabilitySession

// Violation is one failed check.
type Violation = model.Violation

// Result is the guard decision for one call.
type Result = model.ExecutionResult

// ErrContract is matched by errors for malformed calls or sessions.
var ErrContract = model.ErrContract

// SessionInput describes the task a session is opened for.
type SessionInput struct {
	ProjectID string
	TaskID    string
	Intent    string
	// AllowedToolIDs holds string or integer tool ids.
	AllowedToolIDs []any
	// NoReadback opens the session without a readback token.
	NoReadback bool
}

// Call describes a proposed tool invocation.
type Call struct {
	ToolID   any // string or integer
	Ring     int
	Args     map[string]any
	PorToken string // empty means not echoed
}

// BlockedError is returned when the guard refuses a call.
type BlockedError struct {
	Call       Call
	Violations []Violation
}

func (e *BlockedError) Error() string {
	kinds := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		kinds[i] = string(v.Kind)
	}
	return fmt.Sprintf("callguard blocked tool %v: %s", e.Call.ToolID, strings.Join(kinds, ", "))
}

// toToolCall maps an SDK Call to the internal call shape.
func toToolCall(c Call) (model.ToolCall, error) {
	id, err := model.ParseToolID(c.ToolID)
	if err != nil {
		return model.ToolCall{}, &model.ContractError{Code: model.KindCallInvalid, Field: "tool_id", Message: err.Error()}
	}
	call := model.ToolCall{
		ToolID: id,
		Ring:   model.RingOf(c.Ring),
		Args:   model.NewArgs(c.Args),
	}
	if c.PorToken != "" {
		call.PorToken = model.Token(c.PorToken)
	}
	return call, nil
}
