package callguard

import (
	"context"
	"fmt"

	"github.com/ppiankov/callguard/internal/audit"
	"github.com/ppiankov/callguard/internal/catalog"
	"github.com/ppiankov/callguard/internal/guard"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/policy"
	"github.com/ppiankov/callguard/internal/schema"
	"github.com/ppiankov/callguard/internal/session"
	"github.com/rs/zerolog"
)

// Client holds the guard pipeline for in-process enforcement.
// Safe for concurrent tool calls.
type Client struct {
	cfg      clientConfig
	guard    *guard.Coordinator
	sessions *session.Builder
	auditLog *audit.Log
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{logger: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}

	mode, err := model.ParseMode(cfg.mode)
	if err != nil {
		return nil, fmt.Errorf("callguard: %w", err)
	}

	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.policyPath)
	if err != nil {
		return nil, fmt.Errorf("callguard: failed to load policy config: %w", err)
	}
	docs, err := policyCfg.SchemaDocuments()
	if err != nil {
		return nil, fmt.Errorf("callguard: %w", err)
	}

	c := &Client{cfg: cfg, sessions: session.NewBuilder()}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.auditPath != "" {
		l, err := audit.Open(cfg.auditPath)
		if err != nil {
			return nil, fmt.Errorf("callguard: %w", err)
		}
		l.SetPolicyHash(policyHash)
		c.auditLog = l
		recorder = l
	}

	c.guard = guard.New(guard.Config{
		Mode:    mode,
		Catalog: catalog.NewStub(),
		Schemas: schema.NewValidator(schema.Config{
			Store:  schema.NewMemory(docs),
			Mode:   mode,
			Logger: cfg.logger,
		}),
		Policies: policyCfg,
		Recorder: recorder,
		Logger:   cfg.logger,
	})
	return c, nil
}

// Begin opens the capability session of a task.
func (c *Client) Begin(in SessionInput) (*Session, error) {
	ids := make([]model.ToolID, 0, len(in.AllowedToolIDs))
	for _, raw := range in.AllowedToolIDs {
		id, err := model.ParseToolID(raw)
		if err != nil {
			return nil, &model.ContractError{Code: model.KindCallInvalid, Field: "allowed_tool_ids", Message: err.Error()}
		}
		ids = append(ids, id)
	}
	return c.sessions.Build(session.Input{
		ProjectID:      in.ProjectID,
		TaskID:         in.TaskID,
		Intent:         in.Intent,
		AllowedToolIDs: ids,
		SkipReadback:   in.NoReadback,
	})
}

// End releases the session of a finished task.
func (c *Client) End(s *Session) {
	if s != nil {
		c.sessions.Release(s.TaskID)
	}
}

// Check decides a call without running anything.
func (c *Client) Check(ctx context.Context, s *Session, call Call) (Result, error) {
	tc, err := toToolCall(call)
	if err != nil {
		return Result{}, err
	}
	return c.guard.AuthorizeByTool(ctx, tc, s)
}

// Close flushes and closes the audit log, if any.
func (c *Client) Close() error {
	if c.auditLog != nil {
		return c.auditLog.Close()
	}
	return nil
}
