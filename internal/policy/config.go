package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/schema"
)

// PolicyConfig holds per-tool policies and the schemas they reference.
type PolicyConfig struct {
	Tools   map[string]model.ToolPolicy `yaml:"tools"`
	Schemas map[string]map[string]any   `yaml:"schemas"`
}

// DefaultConfig returns an empty policy set. Every tool is unknown and
// therefore denied until a policy file grants it.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		Tools:   map[string]model.ToolPolicy{},
		Schemas: map[string]map[string]any{},
	}
}

// Lookup returns the policy for a tool id.
func (c *PolicyConfig) Lookup(id model.ToolID) (model.ToolPolicy, bool) {
	if c == nil || id.IsZero() {
		return model.ToolPolicy{}, false
	}
	p, ok := c.Tools[id.String()]
	return p, ok
}

// SchemaDocuments returns every schema encoded as JSON, keyed by reference.
func (c *PolicyConfig) SchemaDocuments() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.Schemas))
	for ref, doc := range c.Schemas {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("policy: encode schema %q: %w", ref, err)
		}
		out[ref] = raw
	}
	return out, nil
}

// Validate checks the config for internal consistency.
func (c *PolicyConfig) Validate() error {
	ids := make([]string, 0, len(c.Tools))
	for id := range c.Tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := c.Tools[id]
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("policy: tool with empty id")
		}
		if p.Ring < 0 {
			return fmt.Errorf("policy: tool %s: ring must be >= 0, got %d", id, p.Ring)
		}
		for _, arg := range p.RequiredArgs {
			if strings.TrimSpace(arg) == "" {
				return fmt.Errorf("policy: tool %s: empty required arg name", id)
			}
		}
		if p.Schema != "" {
			if _, ok := c.Schemas[p.Schema]; !ok {
				return fmt.Errorf("policy: tool %s: unknown schema %q", id, p.Schema)
			}
		}
	}

	docs, err := c.SchemaDocuments()
	if err != nil {
		return err
	}
	refs := make([]string, 0, len(docs))
	for ref := range docs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err := schema.Compile(docs[ref]); err != nil {
			return fmt.Errorf("policy: schema %q: %w", ref, err)
		}
	}
	return nil
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.callguard/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), hashBytes(nil), nil
		}
		path = filepath.Join(home, ".callguard", "policy.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

// Parse decodes and validates policy YAML.
func Parse(data []byte) (*PolicyConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]model.ToolPolicy{}
	}
	if cfg.Schemas == nil {
		cfg.Schemas = map[string]map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# callguard tool policy
# Generated by: callguard init-policy
#
# Every tool call is checked in this order (all checks always run):
#   1. Proof-of-readback token echoed by the agent
#   2. Allowlist membership (session), ring match, required args
#   3. Catalog cross-check (strict mode only)
#   4. JSON Schema validation of args (when a schema is referenced)
#
# Tools without an entry here are denied. Keys are catalog tool ids; the ids
# and rings below match the built-in stub catalog.

tools:
  "1": # search
    ring: 1
    required_args: [query]
    schema: search
  "2": # read_file
    ring: 1
    required_args: [path]
  "3": # deploy
    ring: 3
    required_args: [service, version]

# JSON Schemas (written as YAML) referenced by tools[*].schema.
schemas:
  search:
    type: object
    required: [query]
    additionalProperties: false
    properties:
      query:
        type: string
      limit:
        type: integer
`
}
