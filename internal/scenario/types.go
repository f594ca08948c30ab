package scenario

import (
	"github.com/ppiankov/callguard/internal/model"
)

// Expect lists the assertions for a case. Unset fields are not checked.
type Expect struct {
	Executed     *bool `yaml:"executed,omitempty" json:"executed,omitempty"`
	PorOK        *bool `yaml:"por_ok,omitempty" json:"por_ok,omitempty"`
	SchemaOK     *bool `yaml:"schema_ok,omitempty" json:"schema_ok,omitempty"`
	ProvenanceOK *bool `yaml:"provenance_ok,omitempty" json:"provenance_ok,omitempty"`
	// Kinds is the exact ordered violation list. An empty list means none.
	Kinds []string `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	// Contains lists kinds that must appear, in any order.
	Contains []string `yaml:"contains,omitempty" json:"contains,omitempty"`
	// ContractError expects the call to be rejected as malformed.
	ContractError bool `yaml:"contract_error,omitempty" json:"contract_error,omitempty"`
}

// Case is one tool call evaluated against its own session.
// Session and call use the JSON field names of the wire format.
type Case struct {
	Name    string            `yaml:"name"`
	Session map[string]any    `yaml:"session"`
	Call    map[string]any    `yaml:"call"`
	Policy  *model.ToolPolicy `yaml:"policy,omitempty"`
	Schema  map[string]any    `yaml:"schema,omitempty"`
	Expect  Expect            `yaml:"expect"`
}

// Scenario is a named collection of guard test cases.
type Scenario struct {
	Name  string     `yaml:"name"`
	Mode  model.Mode `yaml:"mode,omitempty"`
	Cases []Case     `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	ToolID   string `json:"tool_id"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
