package callguard

import (
	"github.com/rs/zerolog"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	policyPath string
	mode       string
	auditPath  string
	logger     zerolog.Logger
}

// WithPolicy sets the path to a tool policy YAML file.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithMode sets the guard mode ("hermetic" or "strict").
func WithMode(mode string) Option {
	return func(c *clientConfig) { c.mode = mode }
}

// WithAuditLog records violations to a hash-chained JSONL file.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditPath = path }
}

// WithLogger sets the logger for guard diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
