// Package catalog reads the external tool catalog. The guard only reads it;
// Import exists for seeding from tooling.
package catalog

import (
	"context"

	"github.com/ppiankov/callguard/internal/model"
)

// Adapter lists the tools known to the catalog.
type Adapter interface {
	ListTools(ctx context.Context) ([]model.CatalogTool, error)
}

// Stub is a fixed, deterministic catalog for hermetic runs.
type Stub struct {
	Tools []model.CatalogTool
}

// DefaultTools is the catalog served by NewStub.
func DefaultTools() []model.CatalogTool {
	return []model.CatalogTool{
		{ID: model.IntID(1), Name: "search", Ring: 1},
		{ID: model.IntID(2), Name: "read_file", Ring: 1},
		{ID: model.IntID(3), Name: "deploy", Ring: 3},
	}
}

// NewStub returns a Stub serving DefaultTools.
func NewStub() *Stub {
	return &Stub{Tools: DefaultTools()}
}

func (s *Stub) ListTools(context.Context) ([]model.CatalogTool, error) {
	return append([]model.CatalogTool(nil), s.Tools...), nil
}

// Find returns the tool with the given id.
func Find(tools []model.CatalogTool, id model.ToolID) (model.CatalogTool, bool) {
	for _, t := range tools {
		if t.ID.Equal(id) {
			return t, true
		}
	}
	return model.CatalogTool{}, false
}
