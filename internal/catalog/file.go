package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/callguard/internal/model"
)

type fileTool struct {
	ID   any    `yaml:"id"`
	Name string `yaml:"name"`
	Ring int    `yaml:"ring"`
}

type file struct {
	Tools []fileTool `yaml:"tools"`
}

// LoadFile reads a YAML catalog seed:
//
//	tools:
//	  - id: 1
//	    name: search
//	    ring: 1
func LoadFile(path string) ([]model.CatalogTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog seed. Duplicate ids are rejected.
func Parse(data []byte) ([]model.CatalogTool, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	seen := map[string]bool{}
	tools := make([]model.CatalogTool, 0, len(f.Tools))
	for i, ft := range f.Tools {
		id, err := model.ParseToolID(ft.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: tools[%d]: %w", i, err)
		}
		if id.IsZero() {
			return nil, fmt.Errorf("catalog: tools[%d]: missing id", i)
		}
		if seen[id.String()] {
			return nil, fmt.Errorf("catalog: duplicate tool id %s", id)
		}
		if ft.Ring < 0 {
			return nil, fmt.Errorf("catalog: tool %s: ring must be >= 0", id)
		}
		seen[id.String()] = true
		tools = append(tools, model.CatalogTool{ID: id, Name: ft.Name, Ring: ft.Ring})
	}
	return tools, nil
}
