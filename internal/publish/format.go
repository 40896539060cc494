package publish

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"megadata-go/internal/megadata"
)

// ModuleSchema is a module with its declared property set and compiled schema.
type ModuleSchema struct {
	ID         string
	Properties []string
	schema     *gojsonschema.Schema
}

// ParseModule reads the top-level "properties" of a module schema and
// compiles it for validation.
func ParseModule(m megadata.Module) (*ModuleSchema, error) {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(m.Schema, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema of module %s: %w", m.ID, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(m.Schema))
	if err != nil {
		return nil, fmt.Errorf("compiling schema of module %s: %w", m.ID, err)
	}

	props := make([]string, 0, len(doc.Properties))
	for p := range doc.Properties {
		props = append(props, p)
	}
	sort.Strings(props)

	return &ModuleSchema{ID: m.ID, Properties: props, schema: schema}, nil
}

// FormatForLedger projects data onto one nested object per module, keyed by
// module id. Each object holds only the keys the module declares; a module
// with none of its keys present contributes nothing.
func FormatForLedger(data map[string]any, modules []*ModuleSchema) map[string]any {
	out := make(map[string]any, len(modules))
	for _, m := range modules {
		section := make(map[string]any)
		for _, p := range m.Properties {
			if v, ok := data[p]; ok {
				section[p] = v
			}
		}
		if len(section) > 0 {
			out[m.ID] = section
		}
	}
	return out
}
