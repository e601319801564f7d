package templates

import (
	"strings"
	"testing"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/orchestrator"
)

func TestCompileAppliesDefaults(t *testing.T) {
	two := 2
	five := 5
	serial := false
	tpl := &Template{
		Name:        "report",
		Version:     "v1",
		Description: "gather then write",
		Defaults: Defaults{
			Agent:     "agent-default",
			Retries:   &two,
			TimeoutMs: 4000,
		},
		Steps: []Step{
			{ID: "gather", Function: "echo"},
			{
				ID:        "write",
				Agent:     "agent-writer",
				Function:  "text_processing",
				DependsOn: []string{"gather"},
				Retries:   &five,
				TimeoutMs: 9000,
				Parallel:  &serial,
				Optional:  true,
			},
		},
	}

	def, err := Compile(tpl)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if def.Name != "report" || def.Description != "gather then write" {
		t.Fatalf("unexpected definition header: %+v", def)
	}
	if def.Type != orchestrator.WorkflowSequential {
		t.Fatalf("empty type should compile to SEQUENTIAL, got %s", def.Type)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(def.Steps))
	}

	gather := def.Steps[0]
	if gather.AgentID != "agent-default" {
		t.Fatalf("expected defaults.agent fallback, got %q", gather.AgentID)
	}
	if gather.RetryCount != 2 || gather.TimeoutMs != 4000 {
		t.Fatalf("expected inherited retries/timeout, got %d/%d", gather.RetryCount, gather.TimeoutMs)
	}
	if !gather.ParallelAllowed {
		t.Fatalf("parallel should default to true")
	}

	write := def.Steps[1]
	if write.AgentID != "agent-writer" {
		t.Fatalf("step agent should win over defaults, got %q", write.AgentID)
	}
	if write.RetryCount != 5 || write.TimeoutMs != 9000 {
		t.Fatalf("step overrides should win, got %d/%d", write.RetryCount, write.TimeoutMs)
	}
	if write.ParallelAllowed {
		t.Fatalf("parallel: false should be honored")
	}
	if !write.Optional {
		t.Fatalf("optional flag should carry over")
	}
	if len(write.Dependencies) != 1 || write.Dependencies[0] != "gather" {
		t.Fatalf("unexpected dependencies: %v", write.Dependencies)
	}
}

func TestCompileConvertsParameters(t *testing.T) {
	tpl := &Template{
		Name:     "params",
		Defaults: Defaults{Agent: "agent-default"},
		Context:  map[string]any{"project": "atlas", "attempt": 1},
		Steps: []Step{
			{
				ID:       "run",
				Function: "echo",
				Parameters: map[string]any{
					"message": "hello",
					"count":   3,
					"ratio":   0.5,
					"dry_run": true,
					"tags":    []any{"a", "b"},
					"nested":  map[string]any{"depth": 2},
				},
			},
		},
	}

	def, err := Compile(tpl)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	params := def.Steps[0].Parameters
	if params == nil {
		t.Fatalf("expected parameters, got nil")
	}
	if got := params.StringOr("message", ""); got != "hello" {
		t.Fatalf("message = %q", got)
	}
	if got := params.IntOr("count", 0); got != 3 {
		t.Fatalf("count = %d", got)
	}
	if got := params.NumberOr("ratio", 0); got != 0.5 {
		t.Fatalf("ratio = %v", got)
	}
	if !params.BoolOr("dry_run", false) {
		t.Fatalf("dry_run should be true")
	}
	tags, ok := params.Get("tags")
	if !ok {
		t.Fatalf("tags missing")
	}
	list, ok := tags.AsList()
	if !ok || len(list) != 2 {
		t.Fatalf("tags should be a 2-element list, got %v", tags)
	}
	nested, ok := params.MapOr("nested")
	if !ok || nested.IntOr("depth", 0) != 2 {
		t.Fatalf("nested map should carry depth=2")
	}

	if def.Context == nil || def.Context.StringOr("project", "") != "atlas" {
		t.Fatalf("global context should compile, got %v", def.Context)
	}
	if def.Context.IntOr("attempt", 0) != 1 {
		t.Fatalf("context attempt should be 1")
	}
}

func TestCompileParsesWorkflowType(t *testing.T) {
	tpl := validTemplate()
	tpl.Type = "Parallel"

	def, err := Compile(tpl)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if def.Type != orchestrator.WorkflowParallel {
		t.Fatalf("expected PARALLEL, got %s", def.Type)
	}
}

func TestCompileRejectsInvalidTemplate(t *testing.T) {
	if _, err := Compile(nil); err == nil {
		t.Fatalf("expected error for nil template")
	}

	tpl := &Template{
		Name:     "cyclic",
		Defaults: Defaults{Agent: "agent-default"},
		Steps: []Step{
			{ID: "a", Function: "echo", DependsOn: []string{"b"}},
			{ID: "b", Function: "echo", DependsOn: []string{"a"}},
		},
	}
	_, err := Compile(tpl)
	if err == nil {
		t.Fatalf("expected cycle to fail compilation")
	}
	if !strings.Contains(err.Error(), "dependency cycle detected") {
		t.Fatalf("expected cycle message, got %v", err)
	}
}

func TestCompileOutputPassesDefinitionValidate(t *testing.T) {
	def, err := Compile(validTemplate())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("compiled definition should satisfy the engine's validation: %v", err)
	}
	if def.WorkflowID != "" {
		t.Fatalf("compile must not assign a workflow id, got %q", def.WorkflowID)
	}
}

func TestCompileEmptyParametersStayNil(t *testing.T) {
	def, err := Compile(validTemplate())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if def.Steps[0].Parameters != nil {
		t.Fatalf("steps without parameters should compile with nil Parameters")
	}
	if def.Context != nil {
		t.Fatalf("templates without context should compile with nil Context")
	}

	var d *agentdata.Data
	if got := d.Clone(); got == nil || got.Len() != 0 {
		t.Fatalf("nil data must clone to empty, got %v", got)
	}
}
