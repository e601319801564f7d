package agentdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParamSpec declares one parameter of a function or tool schema.
type ParamSpec struct {
	Name     string
	Type     Kind
	Required bool
	Default  *Value
	Enum     []string
}

// paramSpecJSON is the wire shape; Kind travels as its tag name.
type paramSpecJSON struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Enum     []string    `json:"enum,omitempty"`
}

func (p ParamSpec) MarshalJSON() ([]byte, error) {
	out := paramSpecJSON{
		Name:     p.Name,
		Type:     p.Type.String(),
		Required: p.Required,
		Enum:     p.Enum,
	}
	if p.Default != nil {
		var buf bytes.Buffer
		if err := appendValue(&buf, *p.Default); err != nil {
			return nil, fmt.Errorf("default for %q: %w", p.Name, err)
		}
		out.Default = json.RawMessage(buf.Bytes())
	}
	return json.Marshal(out)
}

func (p *ParamSpec) UnmarshalJSON(b []byte) error {
	var raw paramSpecJSON
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	kind, ok := ParseKind(raw.Type)
	if !ok {
		return fmt.Errorf("unknown parameter type %q", raw.Type)
	}
	p.Name = raw.Name
	p.Type = kind
	p.Required = raw.Required
	p.Enum = raw.Enum
	if raw.Default != nil {
		v, err := valueFromInterface(raw.Default)
		if err != nil {
			return fmt.Errorf("default for %q: %w", raw.Name, err)
		}
		p.Default = &v
	}
	return nil
}

// ValidateParams checks params against the declared schema. It reports the
// first violation: a missing required parameter, a type-tag mismatch, or an
// enum violation. Int satisfies a float-typed parameter (numeric widening);
// nothing else is coerced.
func ValidateParams(specs []ParamSpec, params *Data) error {
	for _, spec := range specs {
		v, ok := params.Get(spec.Name)
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", spec.Name)
			}
			continue
		}
		if !kindMatches(spec.Type, v) {
			return fmt.Errorf("parameter %q expects %s, got %s", spec.Name, spec.Type, v.Kind())
		}
		if len(spec.Enum) > 0 {
			s, _ := v.AsString()
			if !enumContains(spec.Enum, s) {
				return fmt.Errorf("parameter %q must be one of [%s]", spec.Name, strings.Join(spec.Enum, ", "))
			}
		}
	}
	return nil
}

func kindMatches(want Kind, v Value) bool {
	if want == KindFloat && v.Kind() == KindInt {
		return true
	}
	return v.Kind() == want
}

func enumContains(enum []string, s string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

// ApplyDefaults returns a copy of params with declared defaults filled in
// for absent optional parameters. The input is not mutated.
func ApplyDefaults(specs []ParamSpec, params *Data) *Data {
	out := params.Clone()
	for _, spec := range specs {
		if spec.Default == nil || out.Has(spec.Name) {
			continue
		}
		out.Set(spec.Name, spec.Default.Clone())
	}
	return out
}
