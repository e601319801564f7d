package templates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dirigent-ai/dirigent/internal/orchestrator"
)

// ValidationIssue captures a single validation failure with a stable code for metrics.
type ValidationIssue struct {
	Code    string
	Message string
}

// ValidationError aggregates template validation failures.
type ValidationError struct {
	Issues []ValidationIssue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "template validation failed"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0].Message
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(msgs, "; "))
}

// HasIssues reports whether any validation problems were captured.
func (e *ValidationError) HasIssues() bool {
	return e != nil && len(e.Issues) > 0
}

// Messages returns just the human-readable text for each issue.
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return msgs
}

// ValidateTemplate performs structural checks and returns a ValidationError
// when problems exist. A template that passes here compiles into a
// registrable workflow definition: every step resolves an agent and a
// function, dependencies reference known steps, and the dependency graph
// is acyclic.
func ValidateTemplate(tpl *Template) error {
	if tpl == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "template_nil", Message: "template is nil"}}}
	}

	var issues []ValidationIssue

	if strings.TrimSpace(tpl.Name) == "" {
		issues = append(issues, ValidationIssue{Code: "template_name_missing", Message: "template name is required"})
	}
	if len(tpl.Steps) == 0 {
		issues = append(issues, ValidationIssue{Code: "template_steps_empty", Message: "at least one step is required"})
	}
	if tpl.Type != "" {
		if _, err := orchestrator.ParseWorkflowType(tpl.Type); err != nil {
			issues = append(issues, ValidationIssue{Code: "type_unknown", Message: fmt.Sprintf("unknown workflow type '%s'", tpl.Type)})
		}
	}
	if tpl.Defaults.Retries != nil && *tpl.Defaults.Retries < 0 {
		issues = append(issues, ValidationIssue{Code: "defaults_retries_negative", Message: "defaults.retries cannot be negative"})
	}
	if tpl.Defaults.TimeoutMs < 0 {
		issues = append(issues, ValidationIssue{Code: "defaults_timeout_negative", Message: "defaults.timeout_ms cannot be negative"})
	}

	steps := make(map[string]*Step, len(tpl.Steps))
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		if strings.TrimSpace(step.ID) == "" {
			issues = append(issues, ValidationIssue{Code: "step_id_missing", Message: fmt.Sprintf("step at index %d is missing an id", i)})
			continue
		}
		if _, exists := steps[step.ID]; exists {
			issues = append(issues, ValidationIssue{Code: "step_id_duplicate", Message: fmt.Sprintf("duplicate step id '%s'", step.ID)})
			continue
		}
		steps[step.ID] = step
	}

	for _, step := range steps {
		if step.Agent == "" && tpl.Defaults.Agent == "" {
			issues = append(issues, ValidationIssue{Code: "step_agent_missing", Message: fmt.Sprintf("step '%s' names no agent and defaults.agent is unset", step.ID)})
		}
		if step.Function == "" {
			issues = append(issues, ValidationIssue{Code: "step_function_missing", Message: fmt.Sprintf("step '%s' is missing a function", step.ID)})
		}
		if step.Retries != nil && *step.Retries < 0 {
			issues = append(issues, ValidationIssue{Code: "retries_negative", Message: fmt.Sprintf("retries cannot be negative at step '%s'", step.ID)})
		}
		if step.TimeoutMs < 0 {
			issues = append(issues, ValidationIssue{Code: "timeout_negative", Message: fmt.Sprintf("timeout_ms cannot be negative at step '%s'", step.ID)})
		}
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				issues = append(issues, ValidationIssue{Code: "dependency_self", Message: fmt.Sprintf("step '%s' cannot depend on itself", step.ID)})
				continue
			}
			if _, ok := steps[dep]; !ok {
				issues = append(issues, ValidationIssue{Code: "dependency_unknown", Message: fmt.Sprintf("step '%s' depends on unknown step '%s'", step.ID, dep)})
			}
		}
	}

	if cycle := detectCycle(tpl.Steps); len(cycle) > 0 {
		issues = append(issues, ValidationIssue{Code: "graph_cycle", Message: fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> "))})
	}

	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Code == issues[j].Code {
				return issues[i].Message < issues[j].Message
			}
			return issues[i].Code < issues[j].Code
		})
		return &ValidationError{Issues: issues}
	}
	return nil
}

// detectCycle runs Kahn's algorithm over the step dependency graph.
// Nodes left unpeeled sit on or behind a cycle; a DFS restricted to that
// residue recovers one concrete path, returned as [a b ... a]. A nil
// result means the graph is acyclic. Self-dependencies and references to
// unknown steps are skipped here; ValidateTemplate reports those with
// their own codes.
func detectCycle(steps []Step) []string {
	if len(steps) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(steps))
	graph := make(map[string][]string, len(steps))
	for i := range steps {
		if steps[i].ID == "" {
			continue
		}
		if _, ok := inDegree[steps[i].ID]; !ok {
			inDegree[steps[i].ID] = 0
		}
	}
	for i := range steps {
		step := &steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				continue
			}
			if _, known := inDegree[dep]; !known {
				continue
			}
			graph[dep] = append(graph[dep], step.ID)
			inDegree[step.ID]++
		}
	}

	queue := make([]string, 0, len(inDegree))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range graph[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(inDegree) {
		return nil
	}

	residue := make(map[string]bool, len(inDegree))
	for id, degree := range inDegree {
		if degree > 0 {
			residue[id] = true
		}
	}
	return findCyclePath(graph, residue)
}

// findCyclePath walks the residual subgraph depth-first until a node
// repeats on the current path, then returns the cycle portion closed on
// itself. Falls back to the sorted residue when the walk finds nothing.
func findCyclePath(graph map[string][]string, residue map[string]bool) []string {
	starts := make([]string, 0, len(residue))
	for id := range residue {
		starts = append(starts, id)
	}
	sort.Strings(starts)

	var dfs func(node string, path []string, onPath map[string]bool) []string
	dfs = func(node string, path []string, onPath map[string]bool) []string {
		if onPath[node] {
			for i, n := range path {
				if n == node {
					return append(append([]string(nil), path[i:]...), node)
				}
			}
			return nil
		}
		onPath[node] = true
		path = append(path, node)
		for _, next := range graph[node] {
			if !residue[next] {
				continue
			}
			if cycle := dfs(next, path, onPath); cycle != nil {
				return cycle
			}
		}
		onPath[node] = false
		return nil
	}

	for _, start := range starts {
		if cycle := dfs(start, nil, make(map[string]bool, len(residue))); len(cycle) > 1 {
			return cycle
		}
	}
	return starts
}
