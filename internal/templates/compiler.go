package templates

import (
	"fmt"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/orchestrator"
)

// Compile converts a validated template into a workflow definition.
// Step-level values win over defaults; a step with no explicit timeout
// inherits defaults.timeout_ms, and Parallel defaults to true. The
// returned definition carries no WorkflowID; registration assigns one.
func Compile(tpl *Template) (*orchestrator.WorkflowDefinition, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is nil")
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}

	wfType := orchestrator.WorkflowSequential
	if tpl.Type != "" {
		parsed, err := orchestrator.ParseWorkflowType(tpl.Type)
		if err != nil {
			return nil, err
		}
		wfType = parsed
	}

	globalCtx, err := dataFromMap(tpl.Context)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	def := &orchestrator.WorkflowDefinition{
		Name:        tpl.Name,
		Description: tpl.Description,
		Type:        wfType,
		Steps:       make([]orchestrator.WorkflowStep, 0, len(tpl.Steps)),
		Context:     globalCtx,
	}

	for i := range tpl.Steps {
		step := &tpl.Steps[i]

		agentID := step.Agent
		if agentID == "" {
			agentID = tpl.Defaults.Agent
		}
		retries := 0
		if tpl.Defaults.Retries != nil {
			retries = *tpl.Defaults.Retries
		}
		if step.Retries != nil {
			retries = *step.Retries
		}
		timeout := step.TimeoutMs
		if timeout == 0 {
			timeout = tpl.Defaults.TimeoutMs
		}
		parallel := true
		if step.Parallel != nil {
			parallel = *step.Parallel
		}

		params, err := dataFromMap(step.Parameters)
		if err != nil {
			return nil, fmt.Errorf("step '%s' parameters: %w", step.ID, err)
		}

		def.Steps = append(def.Steps, orchestrator.WorkflowStep{
			StepID:          step.ID,
			AgentID:         agentID,
			Function:        step.Function,
			Parameters:      params,
			Dependencies:    append([]string(nil), step.DependsOn...),
			ParallelAllowed: parallel,
			RetryCount:      retries,
			TimeoutMs:       timeout,
			Optional:        step.Optional,
		})
	}

	return def, nil
}

// dataFromMap converts decoded YAML values into the shared data model.
// Empty input maps to nil; the engine treats a nil context as empty.
func dataFromMap(m map[string]any) (*agentdata.Data, error) {
	if len(m) == 0 {
		return nil, nil
	}
	d := agentdata.New()
	for k, raw := range m {
		v, err := agentdata.FromInterface(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		d.Set(k, v)
	}
	return d, nil
}
