// Package schema validates tool-call arguments against JSON Schemas
// resolved by reference from a Store.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/model"
)

// DefaultTimeout bounds a single store lookup.
const DefaultTimeout = 2 * time.Second

// Config configures a Validator.
type Config struct {
	Store   Store
	Mode    model.Mode
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Result is the outcome of validating one call's arguments.
type Result struct {
	OK         bool
	Violations []model.Violation
}

// Validator checks arguments against stored schemas. Compiled schemas are
// cached by document content, so a changed document is recompiled.
type Validator struct {
	store   Store
	mode    model.Mode
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]*compiled
}

// NewValidator builds a Validator. A nil store means no call has a schema.
func NewValidator(cfg Config) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = model.Hermetic
	}
	return &Validator{
		store:   cfg.Store,
		mode:    cfg.Mode,
		timeout: cfg.Timeout,
		log:     cfg.Logger.With().Str("component", "schema").Logger(),
		cache:   map[string]*compiled{},
	}
}

// Validate resolves the schema for a call (ref, else the tool id) and checks
// args against it. Missing schemas pass. Store failures pass in hermetic
// mode and yield infra.unavailable in strict mode. A stored schema that does
// not compile is an args.schema violation in every mode.
func (v *Validator) Validate(ctx context.Context, toolID model.ToolID, ref string, args model.Args) Result {
	if v == nil || v.store == nil {
		return Result{OK: true}
	}
	if ref == "" {
		ref = toolID.String()
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	doc, err := v.store.Get(lookupCtx, ref)
	switch {
	case errors.Is(err, ErrNotFound):
		return Result{OK: true}
	case err != nil:
		return v.unavailable(ref, err)
	}

	c, err := v.compile(doc)
	if err != nil {
		v.log.Error().Err(err).Str("schema", ref).Msg("invalid schema")
		return Result{
			OK: false,
			Violations: []model.Violation{model.NewViolation(model.KindArgsSchema, map[string]any{
				"schema":  ref,
				"keyword": "$schema",
				"error":   err.Error(),
			})},
		}
	}

	violations := c.check(normalize(args.Value()))
	return Result{OK: len(violations) == 0, Violations: violations}
}

func (v *Validator) unavailable(ref string, err error) Result {
	if v.mode != model.Strict {
		v.log.Warn().Err(err).Str("schema", ref).Msg("schema unavailable, skipping validation")
		return Result{OK: true}
	}
	v.log.Error().Err(err).Str("schema", ref).Msg("schema unavailable")
	return Result{
		OK: false,
		Violations: []model.Violation{model.NewViolation(model.KindInfraUnavailable, map[string]any{
			"source": "schema",
			"schema": ref,
			"error":  err.Error(),
		})},
	}
}

// Compile reports whether doc is a usable schema.
func Compile(doc []byte) error {
	_, err := parse(doc)
	return err
}

func (v *Validator) compile(doc []byte) (*compiled, error) {
	key := string(doc)
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.cache[key]; ok {
		return c, nil
	}
	c, err := parse(doc)
	if err != nil {
		return nil, err
	}
	v.cache[key] = c
	return c, nil
}

// compiled is a resolved schema plus the per-property pieces used to report
// one violation per failing top-level keyword.
type compiled struct {
	root     *jsonschema.Resolved
	required []string
	known    map[string]bool
	props    map[string]*jsonschema.Resolved
	names    []string
	closed   bool
}

func parse(doc []byte) (*compiled, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	root, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("schema: resolve: %w", err)
	}

	c := &compiled{
		root:     root,
		required: s.Required,
		known:    map[string]bool{},
		props:    map[string]*jsonschema.Resolved{},
		closed:   isFalse(s.AdditionalProperties),
	}
	for name, sub := range s.Properties {
		c.known[name] = true
		// $ref subschemas only resolve against the root, which checks them.
		if sub == nil || sub.Ref != "" {
			continue
		}
		rs, err := sub.Resolve(nil)
		if err != nil {
			continue
		}
		c.props[name] = rs
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

func (c *compiled) check(instance any) (out []model.Violation) {
	defer func() {
		if r := recover(); r != nil {
			out = []model.Violation{schemaViolation("", fmt.Errorf("validator panic: %v", r))}
		}
	}()

	err := c.root.Validate(instance)
	if err == nil {
		return nil
	}

	obj, ok := instance.(map[string]any)
	if !ok {
		return []model.Violation{schemaViolation("", err)}
	}

	for _, name := range c.required {
		if _, present := obj[name]; !present {
			out = append(out, model.NewViolation(model.KindArgsSchema, map[string]any{
				"path":    "/" + name,
				"keyword": "required",
				"error":   fmt.Sprintf("missing required property %q", name),
			}))
		}
	}
	for _, name := range c.names {
		val, present := obj[name]
		if !present {
			continue
		}
		if perr := c.props[name].Validate(val); perr != nil {
			out = append(out, schemaViolation("/"+name, perr))
		}
	}
	if c.closed {
		extras := make([]string, 0)
		for name := range obj {
			if !c.known[name] {
				extras = append(extras, name)
			}
		}
		sort.Strings(extras)
		for _, name := range extras {
			out = append(out, model.NewViolation(model.KindArgsSchema, map[string]any{
				"path":    "/" + name,
				"keyword": "additionalProperties",
				"error":   fmt.Sprintf("unexpected property %q", name),
			}))
		}
	}

	// Failure outside the decomposed keywords (enum on root, minProperties...).
	if len(out) == 0 {
		out = append(out, schemaViolation("", err))
	}
	return out
}

// normalize turns json.Number into int64 or float64 so the validator sees
// the numeric kinds it checks types against.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func schemaViolation(path string, err error) model.Violation {
	return model.NewViolation(model.KindArgsSchema, map[string]any{
		"path":  path,
		"error": err.Error(),
	})
}

// isFalse reports whether s is the boolean schema false, which
// jsonschema-go decodes as {"not": {}}.
func isFalse(s *jsonschema.Schema) bool {
	if s == nil || s.Not == nil {
		return false
	}
	return reflect.ValueOf(*s.Not).IsZero()
}
