package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable violation code.
type Kind string

const (
	KindMissingPoR       Kind = "MISSING_POR"
	KindPoRMismatch      Kind = "por.mismatch"
	KindCallInvalid      Kind = "call.invalid"
	KindForbiddenTool    Kind = "forbidden.tool"
	KindRingViolation    Kind = "ring.violation"
	KindArgsInvalidType  Kind = "args.invalid-type"
	KindArgsSchema       Kind = "args.schema"
	KindInfraUnavailable Kind = "infra.unavailable"

	argsMissingPrefix = "args.missing:"
)

// ArgsMissing returns the kind for a missing required argument.
func ArgsMissing(name string) Kind {
	return Kind(argsMissingPrefix + name)
}

// MissingArg returns the argument name for an args.missing kind.
func (k Kind) MissingArg() (string, bool) {
	if !strings.HasPrefix(string(k), argsMissingPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(k), argsMissingPrefix), true
}

// Family collapses parameterized kinds, e.g. args.missing:query -> args.missing.
func (k Kind) Family() string {
	if _, ok := k.MissingArg(); ok {
		return strings.TrimSuffix(argsMissingPrefix, ":")
	}
	return string(k)
}

// Violation is one policy violation detected for a call.
type Violation struct {
	Kind   Kind           `json:"kind"`
	Detail map[string]any `json:"detail"`
}

// NewViolation builds a violation with a non-nil detail map.
func NewViolation(kind Kind, detail map[string]any) Violation {
	if detail == nil {
		detail = map[string]any{}
	}
	return Violation{Kind: kind, Detail: detail}
}

// GuardResult is the outcome of running every validator on one call.
type GuardResult struct {
	PorOK        bool        `json:"por_ok"`
	SchemaOK     bool        `json:"schema_ok"`
	ProvenanceOK bool        `json:"provenance_ok"`
	Violations   []Violation `json:"violations"`
	Call         ToolCall    `json:"call"`
}

// Allowed reports whether the call may execute.
func (r GuardResult) Allowed() bool {
	return len(r.Violations) == 0
}

// HasKind reports whether any violation has the given kind.
func (r GuardResult) HasKind(kind Kind) bool {
	for _, v := range r.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// ExecutionResult is a GuardResult plus the authoritative execute flag.
type ExecutionResult struct {
	GuardResult
	Executed bool `json:"executed"`
}

// Decide derives the execution result from a guard result.
func Decide(r GuardResult) ExecutionResult {
	return ExecutionResult{GuardResult: r, Executed: r.Allowed()}
}

// ErrContract is matched by every ContractError via errors.Is.
var ErrContract = errors.New("contract violation")

// ContractError reports a malformed call or session. It indicates a bug in
// the calling harness, not a security decision.
type ContractError struct {
	Code    Kind
	Field   string
	Message string
}

func (e *ContractError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// MissingField returns a call.invalid contract error for field.
func MissingField(field string) *ContractError {
	return &ContractError{Code: KindCallInvalid, Field: field, Message: "required field is missing"}
}

// CheckSession returns a ContractError when the session is absent or has no task id.
func CheckSession(s *CapabilitySession) error {
	switch {
	case s == nil:
		return MissingField("session")
	case s.TaskID == "":
		return MissingField("session.task_id")
	}
	return nil
}
