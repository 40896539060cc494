package publish

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validate checks one formatted section against the module schema.
func (m *ModuleSchema) Validate(section any) error {
	result, err := m.schema.Validate(gojsonschema.NewGoLoader(section))
	if err != nil {
		return fmt.Errorf("validating %s: %w", m.ID, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("module %s: %s", m.ID, strings.Join(msgs, "; "))
}

// ValidateFormatted validates every section of a FormatForLedger result.
// The first failing module is reported.
func ValidateFormatted(formatted map[string]any, modules []*ModuleSchema) error {
	for _, m := range modules {
		section, ok := formatted[m.ID]
		if !ok {
			continue
		}
		if err := m.Validate(section); err != nil {
			return err
		}
	}
	return nil
}
