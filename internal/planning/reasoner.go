package planning

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// Reasoner is a thin knowledge bag with keyword-driven advisory
// surfaces. The heuristics are placeholders for a model-backed
// implementation; callers only rely on getting well-formed text back.
type Reasoner struct {
	mu        sync.RWMutex
	knowledge map[string]string
}

// NewReasoner creates an empty reasoner.
func NewReasoner() *Reasoner {
	return &Reasoner{knowledge: make(map[string]string)}
}

// AddKnowledge stores content under a topic, replacing any prior entry.
func (r *Reasoner) AddKnowledge(topic, content string) {
	r.mu.Lock()
	r.knowledge[strings.ToLower(topic)] = content
	r.mu.Unlock()
}

// GetKnowledge returns the content stored under topic.
func (r *Reasoner) GetKnowledge(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	content, ok := r.knowledge[strings.ToLower(topic)]
	return content, ok
}

// HasKnowledge reports whether topic is known.
func (r *Reasoner) HasKnowledge(topic string) bool {
	_, ok := r.GetKnowledge(topic)
	return ok
}

// Topics returns all known topics, sorted.
func (r *Reasoner) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.knowledge))
	for t := range r.knowledge {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReasonAbout produces a short narrative on a topic, preferring stored
// knowledge over generic framing.
func (r *Reasoner) ReasonAbout(topic string) string {
	if content, ok := r.GetKnowledge(topic); ok {
		return fmt.Sprintf("Based on what I know about %s: %s", topic, content)
	}
	lower := strings.ToLower(topic)
	switch {
	case strings.HasPrefix(lower, "how"):
		return fmt.Sprintf("To address %q, break it into steps, identify what each step needs, and verify the result of each before moving on.", topic)
	case strings.HasPrefix(lower, "why"):
		return fmt.Sprintf("To explain %q, look for the underlying cause first, then the contributing factors, then the trigger.", topic)
	default:
		return fmt.Sprintf("I have no stored knowledge about %q; gathering information would be the first step.", topic)
	}
}

// SuggestApproach maps a problem statement to a generic method.
func (r *Reasoner) SuggestApproach(problem string) string {
	lower := strings.ToLower(problem)
	switch {
	case containsAny(lower, "slow", "performance", "latency"):
		return "Measure before changing anything: profile the hot path, find the dominant cost, and fix that one thing first."
	case containsAny(lower, "bug", "error", "crash", "fail"):
		return "Reproduce the failure deterministically, then bisect: halve the search space until the faulty step is isolated."
	case containsAny(lower, "design", "architecture", "structure"):
		return "List the hard constraints first, sketch two alternatives that satisfy them, and compare on the axis that is hardest to change later."
	case containsAny(lower, "decide", "choose", "select"):
		return "Write down the options and the single most important criterion; eliminate options that fail it before weighing anything else."
	default:
		return "Clarify the goal, split it into independent parts, and start with the part that teaches you the most about the rest."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// MakeDecision scores options by keyword overlap with the criteria and
// returns the winner plus a rationale. Ties go to the earliest option.
func (r *Reasoner) MakeDecision(options []string, criteria string) (string, string) {
	if len(options) == 0 {
		return "", "no options were provided"
	}
	words := strings.Fields(strings.ToLower(criteria))
	best, bestScore := options[0], -1
	for _, opt := range options {
		lower := strings.ToLower(opt)
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = opt, score
		}
	}
	if bestScore <= 0 {
		return best, fmt.Sprintf("no option matched the criteria %q; defaulting to the first option", criteria)
	}
	return best, fmt.Sprintf("%q matched the criteria %q on %d point(s)", best, criteria, bestScore)
}

// ReflectOnPerformance reads an agent statistics document and renders a
// short assessment.
func (r *Reasoner) ReflectOnPerformance(stats *agentdata.Data) string {
	executed := stats.IntOr("functions_executed", 0)
	if executed == 0 {
		return "No executions recorded yet; nothing to reflect on."
	}
	avg := stats.NumberOr("average_execution_ms", 0)
	switch {
	case avg > 5000:
		return fmt.Sprintf("Executed %d functions averaging %.0f ms each; executions are slow, consider reducing per-call work or raising concurrency.", executed, avg)
	case avg > 500:
		return fmt.Sprintf("Executed %d functions averaging %.0f ms each; latency is moderate and likely dominated by external calls.", executed, avg)
	default:
		return fmt.Sprintf("Executed %d functions averaging %.1f ms each; performance looks healthy.", executed, avg)
	}
}

// GenerateClarifyingQuestions proposes questions that would sharpen an
// underspecified goal.
func (r *Reasoner) GenerateClarifyingQuestions(goal string) []string {
	lower := strings.ToLower(goal)
	questions := make([]string, 0, 4)
	if !containsAny(lower, "by ", "until", "deadline", "today", "tomorrow") {
		questions = append(questions, "What is the deadline for this goal?")
	}
	if !containsAny(lower, "for ", "audience", "user", "customer") {
		questions = append(questions, "Who is the intended audience or consumer of the result?")
	}
	if !containsAny(lower, "format", "report", "document", "json", "table") {
		questions = append(questions, "What form should the final output take?")
	}
	if len(strings.Fields(goal)) < 4 {
		questions = append(questions, "Can you describe the goal in more detail?")
	}
	return questions
}

// ShouldAskForHelp recommends escalation once failures dominate a
// meaningful number of attempts.
func (r *Reasoner) ShouldAskForHelp(failures, attempts int) (bool, string) {
	if attempts < 3 {
		return false, "not enough attempts to judge"
	}
	ratio := float64(failures) / float64(attempts)
	if ratio > 0.5 {
		return true, fmt.Sprintf("%d of %d attempts failed; escalating is cheaper than retrying", failures, attempts)
	}
	return false, fmt.Sprintf("failure rate %.0f%% is tolerable", ratio*100)
}
