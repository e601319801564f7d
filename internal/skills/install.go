package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/tools"
)

// skillTimeout caps one prompted inference round-trip; the client applies
// its own per-request timeout underneath.
const skillTimeout = 60 * time.Second

// Install registers every enabled skill (latest version per name) as a
// tool in the shared registry. The tool sends the caller's input to the
// inference service under the skill's prompt. Disabled skills are
// skipped; name collisions with existing tools are reported but do not
// stop the remaining skills from installing. Returns how many installed.
func (r *Registry) Install(reg *tools.Registry) (int, error) {
	if reg == nil {
		return 0, fmt.Errorf("tool registry is nil")
	}

	installed := 0
	var failures []string
	for _, summary := range r.List() {
		entry, ok := r.Get(summary.Name)
		if !ok {
			continue
		}
		if !entry.Skill.Enabled {
			continue
		}
		if err := reg.Register(toolFor(entry.Skill)); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Key, err))
			continue
		}
		installed++
	}

	if len(failures) > 0 {
		return installed, fmt.Errorf("%d skill(s) failed to install: %s",
			len(failures), strings.Join(failures, "; "))
	}
	return installed, nil
}

// toolFor wraps one skill as a prompt-backed tool. The skill body becomes
// the system prompt; "input" is the user message. "model" overrides the
// skill's pinned model for a single call.
func toolFor(skill *Skill) *tools.Tool {
	category := skill.Category
	if category == "" {
		category = "skill"
	}
	prompt := skill.Content
	pinnedModel := skill.Model
	name := skill.Name

	return &tools.Tool{
		Name:          name,
		Description:   skill.Description,
		Category:      category,
		Tags:          append(append([]string(nil), skill.Tags...), "skill"),
		EstimatedCost: 5.0,
		Timeout:       skillTimeout,
		Parameters: []agentdata.ParamSpec{
			{Name: "input", Type: agentdata.KindString, Required: true},
			{Name: "model", Type: agentdata.KindString},
		},
		Run: func(ctx context.Context, params *agentdata.Data, tc *tools.ToolContext) agentdata.FunctionResult {
			if tc.Inference == nil {
				return agentdata.Failf("skill %s requires an inference backend", name)
			}
			input := params.StringOr("input", "")
			model := params.StringOr("model", pinnedModel)
			reply, err := tc.Inference.Chat(ctx, model, input, prompt)
			if err != nil {
				return agentdata.FailErr(err)
			}
			return agentdata.OK(agentdata.New().
				SetString("response", reply).
				SetString("skill", name).
				SetString("model", model))
		},
	}
}
