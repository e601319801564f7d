// Package templates loads declarative workflow definitions from YAML
// files. A template names its steps (agent, function, parameters,
// dependencies) plus shared defaults; compiling one yields an
// orchestrator.WorkflowDefinition ready for registration.
package templates

// Template captures the raw user-defined workflow structure.
type Template struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	Defaults    Defaults       `yaml:"defaults"`
	Steps       []Step         `yaml:"steps"`
	Context     map[string]any `yaml:"context"`
}

// Defaults define shared knobs applied to steps when individual values
// are absent.
type Defaults struct {
	Agent     string `yaml:"agent"`
	Retries   *int   `yaml:"retries"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Step defines one unit of work within a template. Agent falls back to
// Defaults.Agent; Parallel defaults to true so independent branches of
// the dependency graph fan out unless the author opts a step out.
type Step struct {
	ID         string         `yaml:"id"`
	Agent      string         `yaml:"agent"`
	Function   string         `yaml:"function"`
	Parameters map[string]any `yaml:"parameters"`
	DependsOn  []string       `yaml:"depends_on"`
	Parallel   *bool          `yaml:"parallel"`
	Retries    *int           `yaml:"retries"`
	TimeoutMs  int            `yaml:"timeout_ms"`
	Optional   bool           `yaml:"optional"`
}

// StepByID returns a pointer to the step with the supplied ID, if present.
func (t *Template) StepByID(id string) *Step {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i]
		}
	}
	return nil
}
