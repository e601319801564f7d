package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/planning"
	"github.com/dirigent-ai/dirigent/internal/tools"
)

func toolContext(a *Agent) *tools.ToolContext {
	return &tools.ToolContext{
		AgentID:   a.ID(),
		AgentName: a.Name(),
		Logger:    a.logger,
		Inference: a.inference,
	}
}

// installCatalog registers the default function set on a fresh agent.
// When enabled is non-empty it acts as an allow-list; unknown names in
// the list are ignored.
func installCatalog(a *Agent, enabled []string) {
	allow := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allow[name] = true
	}
	for _, fn := range defaultCatalog(a) {
		if len(allow) > 0 && !allow[fn.Name] {
			continue
		}
		a.functions[fn.Name] = fn
	}
}

func defaultCatalog(a *Agent) []Function {
	return []Function{
		echoFunction(a),
		textProcessingFunction(a),
		inferenceFunction(a),
		analyzeAndVoteFunction(a),
		coordinateFunction(a),
		negotiateFunction(a),
		useToolFunction(a),
		createPlanFunction(a),
		planStatusFunction(a),
		adviseFunction(a),
	}
}

func defaultOf(v agentdata.Value) *agentdata.Value { return &v }

func echoFunction(a *Agent) Function {
	return Function{
		Name:        "echo",
		Description: "Returns the message unchanged, stamped with the agent name",
		Parameters: []agentdata.ParamSpec{
			{Name: "message", Type: agentdata.KindString, Required: true},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			return agentdata.OK(agentdata.New().
				SetString("message", params.StringOr("message", "")).
				SetString("agent", a.Name()))
		},
	}
}

func textProcessingFunction(a *Agent) Function {
	return Function{
		Name:        "text_processing",
		Description: "Applies a named operation to text; also backs the web_search and code_generation substitutions",
		Parameters: []agentdata.ParamSpec{
			{Name: "text", Type: agentdata.KindString},
			{Name: "operation", Type: agentdata.KindString,
				Default: defaultOf(agentdata.String("uppercase")),
				Enum: []string{"uppercase", "lowercase", "word_count", "summarize",
					"web_search_simulation", "code_generation"}},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			// Substituted calls arrive with their original parameter
			// names; fall back through the common ones.
			text := params.StringOr("text", "")
			if text == "" {
				text = params.StringOr("query", "")
			}
			if text == "" {
				text = params.StringOr("prompt", "")
			}

			out := agentdata.New()
			switch op := params.StringOr("operation", "uppercase"); op {
			case "uppercase":
				out.SetString("result", strings.ToUpper(text))
			case "lowercase":
				out.SetString("result", strings.ToLower(text))
			case "word_count":
				out.SetInt("result", int64(len(strings.Fields(text))))
			case "summarize":
				out.SetString("result", summarize(text))
			case "web_search_simulation":
				matches := make([]agentdata.Value, 0, 3)
				for i := 1; i <= 3; i++ {
					matches = append(matches, agentdata.Map(agentdata.New().
						SetString("title", fmt.Sprintf("Result %d for %q", i, text)).
						SetString("url", fmt.Sprintf("https://example.com/search/%d", i))))
				}
				out.SetString("result", fmt.Sprintf("Simulated web search results for %q", text)).
					Set("matches", agentdata.List(matches...))
			case "code_generation":
				lang := params.StringOr("language", "go")
				out.SetString("result", generatedSnippet(lang, text)).
					SetString("language", lang)
			default:
				return agentdata.Failf("unknown operation %q", op)
			}
			return agentdata.OK(out)
		},
	}
}

func summarize(text string) string {
	words := strings.Fields(text)
	if len(words) <= 25 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:25], " ") + " ..."
}

func generatedSnippet(lang, spec string) string {
	switch lang {
	case "python":
		return fmt.Sprintf("# %s\ndef main():\n    pass\n", spec)
	default:
		return fmt.Sprintf("// %s\nfunc main() {\n}\n", spec)
	}
}

func inferenceFunction(a *Agent) Function {
	return Function{
		Name:        "inference",
		Description: "Sends a prompt to the configured model and returns the reply",
		Parameters: []agentdata.ParamSpec{
			{Name: "prompt", Type: agentdata.KindString, Required: true},
			{Name: "model", Type: agentdata.KindString},
		},
		Handler: func(ctx context.Context, params *agentdata.Data) agentdata.FunctionResult {
			if a.inference == nil {
				return agentdata.Failf("inference backend not configured")
			}
			model := params.StringOr("model", a.LLM().Model)
			if model == "" {
				return agentdata.Failf("no model configured for agent %q", a.Name())
			}
			reply, err := a.inference.Chat(ctx, model, params.StringOr("prompt", ""), a.SystemPrompt())
			if err != nil {
				return agentdata.FailErr(err)
			}
			return agentdata.OK(agentdata.New().
				SetString("response", reply).
				SetString("model", model))
		},
	}
}

// analyzeAndVoteFunction backs the consensus pattern. Without a model it
// votes deterministically on the topic text, so identical topics produce
// identical verdicts across agents.
func analyzeAndVoteFunction(a *Agent) Function {
	return Function{
		Name:        "analyze_and_vote",
		Description: "Casts a yes/no verdict on a topic",
		Parameters: []agentdata.ParamSpec{
			{Name: "topic", Type: agentdata.KindString},
		},
		Handler: func(ctx context.Context, params *agentdata.Data) agentdata.FunctionResult {
			topic := params.StringOr("topic", "")
			verdict := "yes"
			if hashText(topic)%2 == 1 {
				verdict = "no"
			}
			if a.inference != nil && a.LLM().Model != "" {
				prompt := fmt.Sprintf("Answer with exactly one word, yes or no: %s", topic)
				if reply, err := a.inference.Chat(ctx, a.LLM().Model, prompt, a.SystemPrompt()); err == nil {
					if v := normalizeVerdict(reply); v != "" {
						verdict = v
					}
				}
			}
			// The result deliberately omits the agent name: consensus
			// buckets votes by their JSON form, and a per-agent field
			// would split every bucket.
			return agentdata.OK(agentdata.New().
				SetString("verdict", verdict).
				SetString("topic", topic))
		},
	}
}

func hashText(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func normalizeVerdict(reply string) string {
	r := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.HasPrefix(r, "yes"):
		return "yes"
	case strings.HasPrefix(r, "no"):
		return "no"
	}
	return ""
}

func coordinateFunction(a *Agent) Function {
	return Function{
		Name:        "coordinate",
		Description: "Produces a coordination directive for subordinate agents",
		Parameters: []agentdata.ParamSpec{
			{Name: "objective", Type: agentdata.KindString},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			objective := params.StringOr("objective", "complete the shared objective")
			phases := agentdata.List(
				agentdata.String("gather inputs"),
				agentdata.String("distribute work"),
				agentdata.String("merge results"),
			)
			return agentdata.OK(agentdata.New().
				SetString("role", "coordinator").
				SetString("objective", objective).
				Set("phases", phases).
				SetString("agent", a.Name()))
		},
	}
}

func negotiateFunction(a *Agent) Function {
	return Function{
		Name:        "negotiate",
		Description: "Reviews the current proposal and returns a revision",
		Parameters:  nil,
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			proposal := params.Clone()
			proposal.Delete("round")
			round := params.IntOr("round", 0)
			proposal.SetString("reviewed_by", a.Name())
			return agentdata.OK(agentdata.New().
				Set("proposal", agentdata.Map(proposal)).
				SetInt("round", round).
				SetBool("accepted", true).
				SetString("agent", a.Name()))
		},
	}
}

func useToolFunction(a *Agent) Function {
	return Function{
		Name:        "use_tool",
		Description: "Executes a shared tool from the registry",
		Parameters: []agentdata.ParamSpec{
			{Name: "tool", Type: agentdata.KindString, Required: true},
			{Name: "params", Type: agentdata.KindMap},
		},
		Handler: func(ctx context.Context, params *agentdata.Data) agentdata.FunctionResult {
			if a.tools == nil {
				return agentdata.Failf("tool registry not configured")
			}
			toolName := params.StringOr("tool", "")
			toolParams := agentdata.New()
			if m, ok := params.MapOr("params"); ok {
				toolParams = m
			}
			result := a.tools.Execute(ctx, toolName, toolParams, toolContext(a))
			a.recordToolExecuted()
			return result
		},
	}
}

func createPlanFunction(a *Agent) Function {
	return Function{
		Name:        "create_plan",
		Description: "Decomposes a goal into a task graph and registers it with the shared planner",
		Parameters: []agentdata.ParamSpec{
			{Name: "goal", Type: agentdata.KindString, Required: true},
			{Name: "strategy", Type: agentdata.KindString,
				Default: defaultOf(agentdata.String("sequential")),
				Enum:    []string{"sequential", "parallel", "priority_based", "dependency_aware"}},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			if a.planner == nil {
				return agentdata.Failf("planner not configured")
			}
			strategy, _ := planning.ParseStrategy(params.StringOr("strategy", "sequential"))
			plan, err := a.planner.DecomposeGoal(params.StringOr("goal", ""), params, strategy)
			if err != nil {
				return agentdata.FailErr(err)
			}
			a.RecordPlanCreated()

			tasks := make([]agentdata.Value, 0, plan.Len())
			for _, t := range plan.Tasks() {
				deps := make([]agentdata.Value, 0, len(t.Dependencies))
				for _, d := range t.Dependencies {
					deps = append(deps, agentdata.String(d))
				}
				tasks = append(tasks, agentdata.Map(agentdata.New().
					SetString("task_id", t.ID).
					SetString("name", t.Name).
					SetString("function", t.Function).
					SetString("priority", t.Priority.String()).
					Set("dependencies", agentdata.List(deps...))))
			}
			estimate, err := a.planner.EstimateDuration(plan.ID)
			if err != nil {
				return agentdata.FailErr(err)
			}
			return agentdata.OK(agentdata.New().
				SetString("plan_id", plan.ID).
				SetString("strategy", plan.Strategy.String()).
				SetInt("task_count", int64(plan.Len())).
				SetInt("estimated_duration_ms", estimate.Milliseconds()).
				Set("tasks", agentdata.List(tasks...)))
		},
	}
}

func planStatusFunction(a *Agent) Function {
	return Function{
		Name:        "plan_status",
		Description: "Reports progress and ready tasks for a registered plan",
		Parameters: []agentdata.ParamSpec{
			{Name: "plan_id", Type: agentdata.KindString, Required: true},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			if a.planner == nil {
				return agentdata.Failf("planner not configured")
			}
			planID := params.StringOr("plan_id", "")
			plan, ok := a.planner.Plan(planID)
			if !ok {
				return agentdata.Failf("plan %q not found", planID)
			}
			summary, err := a.planner.Summary(planID)
			if err != nil {
				return agentdata.FailErr(err)
			}
			ready, err := a.planner.ReadyTasks(planID)
			if err != nil {
				return agentdata.FailErr(err)
			}
			readyIDs := make([]agentdata.Value, 0, len(ready))
			for _, t := range ready {
				readyIDs = append(readyIDs, agentdata.String(t.ID))
			}
			return agentdata.OK(agentdata.New().
				SetString("plan_id", planID).
				SetString("goal", plan.Goal).
				SetString("summary", summary).
				Set("ready_tasks", agentdata.List(readyIDs...)))
		},
	}
}

// adviseFunction surfaces the reasoning layer: an approach for a problem
// statement, or a narrative on a topic the reasoner may know about.
func adviseFunction(a *Agent) Function {
	return Function{
		Name:        "advise",
		Description: "Returns reasoning-backed advice for a problem or topic",
		Parameters: []agentdata.ParamSpec{
			{Name: "problem", Type: agentdata.KindString},
			{Name: "topic", Type: agentdata.KindString},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			if a.reasoner == nil {
				return agentdata.Failf("reasoner not configured")
			}
			if problem := params.StringOr("problem", ""); problem != "" {
				return agentdata.OK(agentdata.New().
					SetString("advice", a.reasoner.SuggestApproach(problem)).
					SetString("subject", problem))
			}
			if topic := params.StringOr("topic", ""); topic != "" {
				return agentdata.OK(agentdata.New().
					SetString("advice", a.reasoner.ReasonAbout(topic)).
					SetString("subject", topic))
			}
			return agentdata.Failf("either problem or topic is required")
		},
	}
}
