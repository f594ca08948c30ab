package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToolID identifies a tool in the catalog. Catalogs use both string and
// integer identifiers, so ToolID keeps the textual form plus whether it was
// numeric, and re-encodes in the form it was given.
// Two ToolIDs are equal when their textual forms are equal.
type ToolID struct {
	text    string
	numeric bool
}

// StringID returns a string-form ToolID.
func StringID(s string) ToolID {
	return ToolID{text: s}
}

// IntID returns an integer-form ToolID.
func IntID(n int64) ToolID {
	return ToolID{text: strconv.FormatInt(n, 10), numeric: true}
}

// ParseToolID builds a ToolID from a scalar value (string or number).
func ParseToolID(v any) (ToolID, error) {
	switch n := v.(type) {
	case nil:
		return ToolID{}, nil
	case ToolID:
		return n, nil
	case string:
		return StringID(n), nil
	case int:
		return IntID(int64(n)), nil
	case int64:
		return IntID(n), nil
	case float64:
		if n != float64(int64(n)) {
			return ToolID{}, fmt.Errorf("tool id %v is not an integer", n)
		}
		return IntID(int64(n)), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return ToolID{}, fmt.Errorf("tool id %s is not an integer", n)
		}
		return IntID(i), nil
	default:
		return ToolID{}, fmt.Errorf("tool id must be a string or integer, got %T", v)
	}
}

// IsZero reports whether the id is absent.
func (id ToolID) IsZero() bool { return id.text == "" }

// String returns the textual form.
func (id ToolID) String() string { return id.text }

// Numeric reports whether the id was supplied as an integer.
func (id ToolID) Numeric() bool { return id.numeric }

// Equal compares two ids by textual form.
func (id ToolID) Equal(other ToolID) bool { return id.text == other.text }

func (id ToolID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.numeric {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

func (id *ToolID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	parsed, err := ParseToolID(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Args carries call arguments exactly as supplied. A non-object payload is
// preserved so the structural check can report it instead of a decode failure.
type Args struct {
	value any
	set   bool
}

// NewArgs wraps an argument map. A nil map still counts as supplied.
func NewArgs(m map[string]any) Args {
	if m == nil {
		m = map[string]any{}
	}
	return Args{value: m, set: true}
}

// RawArgs wraps an arbitrary argument payload.
func RawArgs(v any) Args {
	return Args{value: v, set: v != nil}
}

// IsSet reports whether args were supplied at all.
func (a Args) IsSet() bool { return a.set }

// Map returns the argument mapping, or false if the payload is not an object.
func (a Args) Map() (map[string]any, bool) {
	m, ok := a.value.(map[string]any)
	return m, ok
}

// Value returns the raw payload.
func (a Args) Value() any { return a.value }

func (a Args) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("null"), nil
	}
	return json.Marshal(a.value)
}

// UnmarshalJSON keeps numbers as json.Number so large integers survive
// the echo in GuardResult.call unchanged.
func (a *Args) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*a = RawArgs(v)
	return nil
}

// Mode selects how infrastructure failures and stores are treated.
type Mode string

const (
	// Hermetic runs with deterministic stubs and no network or DB dependency.
	Hermetic Mode = "hermetic"
	// Strict enables real catalog/audit access and fails closed on infra errors.
	Strict Mode = "strict"
)

// ParseMode maps a string to a Mode. Empty means hermetic.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Hermetic:
		return Hermetic, nil
	case Strict, "tracked":
		return Strict, nil
	default:
		return "", fmt.Errorf("invalid mode %q (allowed: %s|%s)", s, Hermetic, Strict)
	}
}

// ChecklistItem is one step the agent must acknowledge for its task.
type ChecklistItem struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// PorStatus records whether the agent echoed the readback token.
type PorStatus struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
}

// CapabilitySession is the bounded authorization context of one task.
// It is treated as immutable after creation; WithAllowedTools returns a copy.
type CapabilitySession struct {
	ProjectID      string          `json:"project_id"`
	TaskID         string          `json:"task_id"`
	Intent         string          `json:"intent,omitempty"`
	AllowedToolIDs []ToolID        `json:"allowed_tool_ids"`
	Checklist      []ChecklistItem `json:"checklist"`
	PorStatus      PorStatus       `json:"por_status"`
	PorToken       *string         `json:"por_token,omitempty"`
}

// Allows reports whether id is in the session allowlist. Empty allowlist denies all.
func (s *CapabilitySession) Allows(id ToolID) bool {
	if s == nil || id.IsZero() {
		return false
	}
	for _, allowed := range s.AllowedToolIDs {
		if allowed.Equal(id) {
			return true
		}
	}
	return false
}

// WithAllowedTools returns a copy of the session with the allowlist replaced.
// The PoR token and checklist carry over unchanged.
func (s *CapabilitySession) WithAllowedTools(ids ...ToolID) *CapabilitySession {
	cp := s.clone()
	cp.AllowedToolIDs = append([]ToolID{}, ids...)
	return cp
}

// WithPorStatus returns a copy of the session carrying status.
func (s *CapabilitySession) WithPorStatus(status PorStatus) *CapabilitySession {
	cp := s.clone()
	cp.PorStatus = status
	return cp
}

func (s *CapabilitySession) clone() *CapabilitySession {
	cp := *s
	cp.AllowedToolIDs = append([]ToolID{}, s.AllowedToolIDs...)
	cp.Checklist = append([]ChecklistItem{}, s.Checklist...)
	if s.PorToken != nil {
		tok := *s.PorToken
		cp.PorToken = &tok
	}
	return &cp
}

// ToolCall is one proposed tool invocation.
type ToolCall struct {
	ToolID   ToolID  `json:"tool_id"`
	Ring     *int    `json:"ring"`
	Args     Args    `json:"args"`
	PorToken *string `json:"por_token,omitempty"`
}

// ToolPolicy is the per-tool authorization policy.
type ToolPolicy struct {
	RequiredArgs []string `json:"required_args" yaml:"required_args"`
	Schema       string   `json:"schema,omitempty" yaml:"schema,omitempty"`
	Ring         int      `json:"ring" yaml:"ring"`
}

// CatalogTool is one entry of the external tool catalog.
type CatalogTool struct {
	ID   ToolID `json:"id"`
	Name string `json:"name"`
	Ring int    `json:"ring"`
}

// RingOf returns a pointer to n, for building calls.
func RingOf(n int) *int { return &n }

// Token returns a pointer to s, for optional PoR tokens.
func Token(s string) *string { return &s }
