// Package engine assembles a guard coordinator and its collaborators from
// configuration. Every transport (CLI, HTTP, gRPC, MCP) shares one Engine.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/audit"
	"github.com/ppiankov/callguard/internal/catalog"
	"github.com/ppiankov/callguard/internal/config"
	"github.com/ppiankov/callguard/internal/guard"
	"github.com/ppiankov/callguard/internal/infra/sqlite"
	"github.com/ppiankov/callguard/internal/metrics"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/policy"
	"github.com/ppiankov/callguard/internal/schema"
	"github.com/ppiankov/callguard/internal/session"
)

// Engine owns the coordinator, the session builder and the open stores.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	guard    *guard.Coordinator
	sessions *session.Builder
	catalog  catalog.Adapter
	metrics  *metrics.Metrics
	replayer audit.Replayer
	recorder audit.Recorder

	mu         sync.RWMutex
	policy     *policy.PolicyConfig
	policyHash string

	policySchemas *schema.Memory
	auditLog      *audit.Log
	dbs           map[string]*sql.DB
	closers       []func() error
}

// Open loads the policy file and opens the configured catalog, schema store
// and audit sink. Close releases them.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
		sessions: session.NewBuilder(),
		metrics:  metrics.New(),
		dbs:      map[string]*sql.DB{},
	}

	pcfg, hash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	e.policy, e.policyHash = pcfg, hash

	if err := e.openCatalog(); err != nil {
		e.Close()
		return nil, err
	}
	store, err := e.openSchemas(pcfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	recorder, err := e.openRecorder(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.recorder = recorder

	e.guard = guard.New(guard.Config{
		Mode:    cfg.Mode,
		Catalog: e.catalog,
		Schemas: schema.NewValidator(schema.Config{
			Store:   store,
			Mode:    cfg.Mode,
			Timeout: cfg.Timeouts.Schema,
			Logger:  log,
		}),
		Policies:       e,
		Recorder:       recorder,
		Observer:       e.metrics,
		CatalogTimeout: cfg.Timeouts.Catalog,
		RecordTimeout:  cfg.Timeouts.Recorder,
		Logger:         log,
	})

	e.log.Info().
		Str("mode", string(cfg.Mode)).
		Str("catalog", cfg.Catalog.Source).
		Str("schemas", cfg.Schemas.Source).
		Str("audit", cfg.Audit.Sink).
		Str("policy_hash", hash).
		Int("tools", len(pcfg.Tools)).
		Msg("engine ready")
	return e, nil
}

func (e *Engine) db(path string) (*sql.DB, error) {
	if db, ok := e.dbs[path]; ok {
		return db, nil
	}
	db, err := sqlite.OpenMigrated(path)
	if err != nil {
		return nil, err
	}
	e.dbs[path] = db
	e.closers = append(e.closers, db.Close)
	return db, nil
}

func (e *Engine) openCatalog() error {
	switch e.cfg.Catalog.Source {
	case config.CatalogSQLite:
		db, err := e.db(e.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("engine: open catalog: %w", err)
		}
		e.catalog = catalog.NewSQLCatalog(db, e.cfg.Timeouts.Catalog)
	default:
		e.catalog = catalog.NewStub()
	}
	return nil
}

func (e *Engine) openSchemas(pcfg *policy.PolicyConfig) (schema.Store, error) {
	if e.cfg.Schemas.Source == "sqlite" {
		db, err := e.db(e.cfg.Schemas.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: open schema store: %w", err)
		}
		return schema.NewSQLStore(db), nil
	}
	docs, err := pcfg.SchemaDocuments()
	if err != nil {
		return nil, err
	}
	e.policySchemas = schema.NewMemory(docs)
	return e.policySchemas, nil
}

func (e *Engine) openRecorder(ctx context.Context) (audit.Recorder, error) {
	switch e.cfg.Audit.Sink {
	case config.SinkJSONL:
		l, err := audit.Open(e.cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		l.SetPolicyHash(e.policyHash)
		e.auditLog = l
		e.replayer = l
		e.closers = append(e.closers, l.Close)
		return l, nil
	case config.SinkSQLite:
		db, err := e.db(e.cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: open audit store: %w", err)
		}
		s := audit.NewSQLStore(db)
		e.replayer = s
		return s, nil
	case config.SinkRedis:
		dctx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Recorder)
		defer cancel()
		s, err := audit.DialStream(dctx, e.cfg.Audit.RedisURL)
		if err != nil {
			return nil, err
		}
		e.replayer = s
		e.closers = append(e.closers, s.Close)
		return s, nil
	default:
		return audit.Nop{}, nil
	}
}

// Guard returns the coordinator.
func (e *Engine) Guard() *guard.Coordinator { return e.guard }

// Sessions returns the session builder.
func (e *Engine) Sessions() *session.Builder { return e.sessions }

// Catalog returns the catalog adapter.
func (e *Engine) Catalog() catalog.Adapter { return e.catalog }

// Metrics returns the decision counters.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Replayer returns the audit reader, or nil when the sink is none.
func (e *Engine) Replayer() audit.Replayer { return e.replayer }

// Mode returns the configured mode.
func (e *Engine) Mode() model.Mode { return e.cfg.Mode }

// Lookup implements guard.PolicyLookup against the current policy.
func (e *Engine) Lookup(id model.ToolID) (model.ToolPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Lookup(id)
}

// PolicyHash returns the hash of the loaded policy file.
func (e *Engine) PolicyHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policyHash
}

// PolicyPath returns the configured policy file path.
func (e *Engine) PolicyPath() string { return e.cfg.PolicyPath }

// ReloadPolicy re-reads the policy file and swaps it in. On error the
// previous policy stays active.
func (e *Engine) ReloadPolicy() error {
	pcfg, hash, err := policy.LoadConfigWithHash(e.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("engine: reload policy: %w", err)
	}
	docs, err := pcfg.SchemaDocuments()
	if err != nil {
		return fmt.Errorf("engine: reload policy: %w", err)
	}

	e.mu.Lock()
	e.policy, e.policyHash = pcfg, hash
	e.mu.Unlock()

	if e.policySchemas != nil {
		e.policySchemas.Replace(docs)
	}
	if e.auditLog != nil {
		e.auditLog.SetPolicyHash(hash)
	}
	e.log.Info().Str("policy_hash", hash).Int("tools", len(pcfg.Tools)).Msg("policy reloaded")
	return nil
}

// Close releases every open store.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
