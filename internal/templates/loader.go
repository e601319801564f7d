package templates

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadTemplate decodes one YAML template. The decoder runs strict:
// unknown keys are rejected so a typo in a step field surfaces at load
// time instead of silently producing a different workflow.
func LoadTemplate(r io.Reader) (*Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var tpl Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &tpl, nil
}
