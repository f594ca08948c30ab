// Package session creates capability sessions, one per task.
package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/readback"
)

// ErrSessionExists is returned when a task already has a session.
var ErrSessionExists = errors.New("session: already exists for task")

// ErrNotFound is returned when no session is held for a task.
var ErrNotFound = errors.New("session: not found")

// Input describes the task a session is built for.
type Input struct {
	ProjectID string                `json:"project_id" yaml:"project_id"`
	TaskID    string                `json:"task_id" yaml:"task_id"`
	Intent    string                `json:"intent,omitempty" yaml:"intent,omitempty"`
	Checklist []model.ChecklistItem `json:"checklist,omitempty" yaml:"checklist,omitempty"`
	// AllowedToolIDs is the explicit allowlist. Empty denies every tool.
	AllowedToolIDs []model.ToolID `json:"allowed_tool_ids,omitempty" yaml:"-"`
	// SkipReadback builds a session without a PoR token.
	SkipReadback bool `json:"skip_readback,omitempty" yaml:"skip_readback,omitempty"`
}

// Builder creates sessions and holds them until the task ends.
// Safe for concurrent use.
type Builder struct {
	mu       sync.Mutex
	sessions map[string]*model.CapabilitySession
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{sessions: make(map[string]*model.CapabilitySession)}
}

// Build creates the session for a task. A task gets exactly one session;
// a second Build for the same task id returns ErrSessionExists.
func (b *Builder) Build(in Input) (*model.CapabilitySession, error) {
	taskID := strings.TrimSpace(in.TaskID)
	if taskID == "" {
		return nil, &model.ContractError{Code: model.KindCallInvalid, Field: "task_id", Message: "required field is missing"}
	}

	s := &model.CapabilitySession{
		ProjectID:      in.ProjectID,
		TaskID:         taskID,
		Intent:         in.Intent,
		AllowedToolIDs: append([]model.ToolID{}, in.AllowedToolIDs...),
		Checklist:      append([]model.ChecklistItem{}, in.Checklist...),
	}
	if !in.SkipReadback {
		token := readback.Derive(taskID)
		if token == "" {
			return nil, &model.ContractError{
				Code:    model.KindCallInvalid,
				Field:   "task_id",
				Message: "no characters usable for a readback token",
			}
		}
		s.PorToken = &token
		s.PorStatus = model.PorStatus{Token: token}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sessions[taskID]; exists {
		return nil, ErrSessionExists
	}
	b.sessions[taskID] = s
	return s, nil
}

// Get returns the session held for a task.
func (b *Builder) Get(taskID string) (*model.CapabilitySession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[taskID]
	return s, ok
}

// Acknowledge checks the agent's first-response echo and replaces the held
// session with a copy carrying the resulting PoR status.
func (b *Builder) Acknowledge(taskID, echoed string) (*model.CapabilitySession, []model.Violation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[taskID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	status, violations := readback.Acknowledge(s, echoed)
	updated := s.WithPorStatus(status)
	b.sessions[taskID] = updated
	return updated, violations, nil
}

// Release discards the session of a finished task.
func (b *Builder) Release(taskID string) {
	b.mu.Lock()
	delete(b.sessions, taskID)
	b.mu.Unlock()
}

// Len returns the number of held sessions.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
