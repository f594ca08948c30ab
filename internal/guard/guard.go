// Package guard runs every validator on a proposed tool call and turns the
// aggregated violations into an execute/deny decision.
package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/audit"
	"github.com/ppiankov/callguard/internal/catalog"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/policy"
	"github.com/ppiankov/callguard/internal/readback"
	"github.com/ppiankov/callguard/internal/schema"
)

// DefaultTimeout bounds catalog lookups and each recorder write.
const DefaultTimeout = 2 * time.Second

// PolicyLookup resolves the policy for a tool.
type PolicyLookup interface {
	Lookup(id model.ToolID) (model.ToolPolicy, bool)
}

// PolicyLookupFunc adapts a function to PolicyLookup.
type PolicyLookupFunc func(id model.ToolID) (model.ToolPolicy, bool)

func (f PolicyLookupFunc) Lookup(id model.ToolID) (model.ToolPolicy, bool) { return f(id) }

// Observer is notified of every authorized or denied decision.
type Observer interface {
	Observe(res model.ExecutionResult)
}

// Config wires a Coordinator. Nil collaborators fall back to no-ops:
// no catalog cross-check, no schemas, no policies, Nop recorder.
type Config struct {
	Mode           model.Mode
	Catalog        catalog.Adapter
	Schemas        *schema.Validator
	Policies       PolicyLookup
	Recorder       audit.Recorder
	Observer       Observer
	CatalogTimeout time.Duration
	RecordTimeout  time.Duration
	Logger         zerolog.Logger
}

// Coordinator holds no per-call state and is safe for concurrent use.
type Coordinator struct {
	mode           model.Mode
	catalog        catalog.Adapter
	schemas        *schema.Validator
	policies       PolicyLookup
	recorder       audit.Recorder
	observer       Observer
	catalogTimeout time.Duration
	recordTimeout  time.Duration
	log            zerolog.Logger
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	if cfg.Mode == "" {
		cfg.Mode = model.Hermetic
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.Nop{}
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = DefaultTimeout
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultTimeout
	}
	return &Coordinator{
		mode:           cfg.Mode,
		catalog:        cfg.Catalog,
		schemas:        cfg.Schemas,
		policies:       cfg.Policies,
		recorder:       cfg.Recorder,
		observer:       cfg.Observer,
		catalogTimeout: cfg.CatalogTimeout,
		recordTimeout:  cfg.RecordTimeout,
		log:            cfg.Logger.With().Str("component", "guard").Logger(),
	}
}

// Mode returns the coordinator's mode.
func (c *Coordinator) Mode() model.Mode { return c.mode }

// Evaluate runs the readback, structural, catalog (strict only) and schema
// checks, in that order, and aggregates every violation. It never executes
// or records anything. The only error is a *model.ContractError.
func (c *Coordinator) Evaluate(ctx context.Context, call model.ToolCall, session *model.CapabilitySession, p model.ToolPolicy) (model.GuardResult, error) {
	if err := model.CheckSession(session); err != nil {
		return model.GuardResult{}, err
	}

	// RECEIVED -> POR_CHECKED
	porViolations := readback.Validate(call, session)

	// POR_CHECKED -> STRUCTURE_CHECKED
	structural, err := policy.ValidateToolCall(call, session, p)
	if err != nil {
		return model.GuardResult{}, err
	}
	structural = append(structural, c.crossCheckCatalog(ctx, call, p)...)

	// STRUCTURE_CHECKED -> SCHEMA_CHECKED
	schemaRes := c.schemas.Validate(ctx, call.ToolID, p.Schema, call.Args)

	// SCHEMA_CHECKED -> DECIDED
	violations := make([]model.Violation, 0, len(porViolations)+len(structural)+len(schemaRes.Violations))
	violations = append(violations, porViolations...)
	violations = append(violations, structural...)
	violations = append(violations, schemaRes.Violations...)

	return model.GuardResult{
		PorOK:        len(porViolations) == 0,
		SchemaOK:     schemaRes.OK,
		ProvenanceOK: provenanceOK(structural),
		Violations:   violations,
		Call:         call,
	}, nil
}

// EvaluateByTool resolves the tool's policy and evaluates the call. A tool
// without a policy is denied with forbidden.tool.
func (c *Coordinator) EvaluateByTool(ctx context.Context, call model.ToolCall, session *model.CapabilitySession) (model.GuardResult, error) {
	if err := model.CheckSession(session); err != nil {
		return model.GuardResult{}, err
	}
	if err := policy.CheckCallContract(call); err != nil {
		return model.GuardResult{}, err
	}

	var (
		p  model.ToolPolicy
		ok bool
	)
	if c.policies != nil {
		p, ok = c.policies.Lookup(call.ToolID)
	}
	if ok {
		return c.Evaluate(ctx, call, session, p)
	}

	porViolations := readback.Validate(call, session)
	violations := append([]model.Violation{}, porViolations...)
	violations = append(violations, model.NewViolation(model.KindForbiddenTool, map[string]any{
		"tool_id": call.ToolID.String(),
		"reason":  "no policy",
	}))
	return model.GuardResult{
		PorOK:        len(porViolations) == 0,
		SchemaOK:     true,
		ProvenanceOK: false,
		Violations:   violations,
		Call:         call,
	}, nil
}

// Authorize evaluates the call with the given policy, records every
// violation and notifies the observer.
func (c *Coordinator) Authorize(ctx context.Context, call model.ToolCall, session *model.CapabilitySession, p model.ToolPolicy) (model.ExecutionResult, error) {
	res, err := c.Evaluate(ctx, call, session, p)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return c.finish(ctx, session, res), nil
}

// AuthorizeByTool is Authorize with the policy resolved by EvaluateByTool.
func (c *Coordinator) AuthorizeByTool(ctx context.Context, call model.ToolCall, session *model.CapabilitySession) (model.ExecutionResult, error) {
	res, err := c.EvaluateByTool(ctx, call, session)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return c.finish(ctx, session, res), nil
}

func (c *Coordinator) finish(ctx context.Context, session *model.CapabilitySession, res model.GuardResult) model.ExecutionResult {
	out := model.Decide(res)

	c.recordAll(ctx, session.TaskID, out.Violations)
	if c.observer != nil {
		c.observer.Observe(out)
	}

	c.log.Debug().
		Str("task_id", session.TaskID).
		Str("tool_id", res.Call.ToolID.String()).
		Bool("executed", out.Executed).
		Int("violations", len(out.Violations)).
		Msg("decision")
	return out
}

// recordAll writes the violations of one decision under a single
// recordTimeout. A sink that outlives the deadline is left to finish in the
// background; the decision is returned either way.
func (c *Coordinator) recordAll(ctx context.Context, taskID string, violations []model.Violation) {
	if len(violations) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.recordTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, v := range violations {
			if rctx.Err() != nil {
				return
			}
			c.record(rctx, taskID, v)
		}
	}()

	select {
	case <-done:
	case <-rctx.Done():
		c.log.Warn().Err(rctx.Err()).
			Str("task_id", taskID).
			Int("violations", len(violations)).
			Msg("recording violations timed out")
	}
}

// record writes one violation. Recorder failures are logged and never
// change the decision.
func (c *Coordinator) record(ctx context.Context, taskID string, v model.Violation) {
	if err := c.recorder.Record(ctx, taskID, v.Kind, v.Detail); err != nil {
		c.log.Warn().Err(err).
			Str("task_id", taskID).
			Str("kind", string(v.Kind)).
			Msg("failed to record violation")
	}
}

func (c *Coordinator) crossCheckCatalog(ctx context.Context, call model.ToolCall, p model.ToolPolicy) []model.Violation {
	if c.mode != model.Strict || c.catalog == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.catalogTimeout)
	defer cancel()

	tools, err := c.catalog.ListTools(cctx)
	if err != nil {
		c.log.Error().Err(err).Msg("catalog unavailable")
		return []model.Violation{model.NewViolation(model.KindInfraUnavailable, map[string]any{
			"source": "catalog",
			"error":  err.Error(),
		})}
	}

	tool, ok := catalog.Find(tools, call.ToolID)
	if !ok {
		return []model.Violation{model.NewViolation(model.KindForbiddenTool, map[string]any{
			"tool_id": call.ToolID.String(),
			"source":  "catalog",
		})}
	}
	if tool.Ring != p.Ring {
		return []model.Violation{model.NewViolation(model.KindRingViolation, map[string]any{
			"source":       "catalog",
			"catalog_ring": tool.Ring,
			"policy_ring":  p.Ring,
		})}
	}
	return nil
}

// provenanceOK reports whether the call came from an allowed tool at the
// right ring. Argument problems do not affect provenance.
func provenanceOK(structural []model.Violation) bool {
	for _, v := range structural {
		switch v.Kind {
		case model.KindForbiddenTool, model.KindRingViolation, model.KindInfraUnavailable:
			return false
		}
	}
	return true
}
