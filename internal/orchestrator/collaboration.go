package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/metrics"
	"github.com/dirigent-ai/dirigent/internal/streaming"
)

// defaultNegotiationRounds bounds NEGOTIATION groups that do not set
// max_negotiation_rounds.
const defaultNegotiationRounds = 3

// RegisterGroup validates and stores a collaboration group, assigning
// an id when the caller did not provide one.
func (e *Engine) RegisterGroup(g *CollaborationGroup) (string, error) {
	if g == nil {
		return "", fmt.Errorf("collaboration group is nil")
	}
	if len(g.AgentIDs) == 0 {
		return "", fmt.Errorf("collaboration group needs at least one agent")
	}
	pattern, err := ParseWorkflowType(string(g.Pattern))
	if err != nil {
		return "", err
	}
	g.Pattern = pattern
	if g.GroupID == "" {
		g.GroupID = uuid.NewString()
	}
	if g.Name == "" {
		g.Name = g.GroupID
	}
	g.CreatedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.groups[g.GroupID]; exists {
		return "", fmt.Errorf("group %s already registered", g.GroupID)
	}
	e.groups[g.GroupID] = g

	e.logger.Info("Registered collaboration group",
		zap.String("group_id", g.GroupID),
		zap.String("name", g.Name),
		zap.String("pattern", string(g.Pattern)),
		zap.Int("agents", len(g.AgentIDs)),
	)
	return g.GroupID, nil
}

// Group returns the collaboration group registered under id.
func (e *Engine) Group(id string) (*CollaborationGroup, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.groups[id]
	return g, ok
}

// Groups returns all registered groups, oldest first.
func (e *Engine) Groups() []*CollaborationGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*CollaborationGroup, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteGroup removes a collaboration group.
func (e *Engine) DeleteGroup(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.groups[id]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	delete(e.groups, id)
	e.logger.Info("Deleted collaboration group", zap.String("group_id", id))
	return nil
}

// ExecuteGroup runs the group's pattern. function selects the agent
// function for SEQUENTIAL, PARALLEL, and PIPELINE; the voting,
// coordination, and negotiation patterns fix their own.
func (e *Engine) ExecuteGroup(ctx context.Context, groupID, function string, input *agentdata.Data) agentdata.FunctionResult {
	g, ok := e.Group(groupID)
	if !ok {
		return agentdata.Failf("Collaboration group %s not found", groupID)
	}

	started := time.Now()
	metrics.WorkflowsStarted.WithLabelValues(strings.ToLower(string(g.Pattern))).Inc()
	e.publish(g.GroupID, streaming.TypeWorkflowStarted, "", "", g.Name, map[string]interface{}{
		"pattern": string(g.Pattern),
		"agents":  len(g.AgentIDs),
	})

	var res agentdata.FunctionResult
	switch g.Pattern {
	case WorkflowSequential:
		res = e.runSequential(ctx, g, function, input)
	case WorkflowParallel:
		res = e.runParallel(ctx, g, function, input)
	case WorkflowPipeline:
		res = e.runPipeline(ctx, g, function, input)
	case WorkflowConsensus:
		res = e.runConsensus(ctx, g, input)
	case WorkflowHierarchy:
		res = e.runHierarchy(ctx, g, input)
	case WorkflowNegotiation:
		res = e.runNegotiation(ctx, g, input)
	default:
		res = agentdata.Failf("unsupported collaboration pattern %q", g.Pattern)
	}

	elapsed := time.Since(started)
	status := "completed"
	eventType := streaming.TypeWorkflowCompleted
	if !res.Success {
		status = "failed"
		eventType = streaming.TypeWorkflowFailed
	}
	metrics.RecordWorkflowMetrics(strings.ToLower(string(g.Pattern)), status, elapsed.Seconds())
	if e.collector != nil {
		e.collector.RecordWorkflow(g.Name, elapsed, res.Success)
	}
	e.publish(g.GroupID, eventType, "", "", res.ErrorMessage, nil)

	e.logger.Info("Collaboration finished",
		zap.String("group_id", g.GroupID),
		zap.String("pattern", string(g.Pattern)),
		zap.String("status", status),
		zap.Duration("duration", elapsed),
	)
	return res
}

// runSequential chains the agents: each one receives the previous
// agent's result merged over the shared context. A failure breaks the
// chain.
func (e *Engine) runSequential(ctx context.Context, g *CollaborationGroup, function string, input *agentdata.Data) agentdata.FunctionResult {
	if function == "" {
		return agentdata.Failf("function is required for sequential collaboration")
	}
	carried := g.SharedContext.Clone().Merge(input)
	var last agentdata.FunctionResult
	for i, id := range g.AgentIDs {
		last = e.agents.Execute(ctx, id, function, carried)
		if !last.Success {
			return agentdata.Failf("agent %s failed at position %d: %s", id, i, last.ErrorMessage)
		}
		carried = g.SharedContext.Clone().Merge(last.Result)
	}

	out := agentdata.New().
		Set("final_result", agentdata.Map(last.Result.Clone())).
		SetInt("agents_completed", int64(len(g.AgentIDs))).
		SetString("collaboration_pattern", "sequential")
	return agentdata.OK(out)
}

// runPipeline is the sequential chain with strict input→output binding:
// each stage's output becomes the next stage's input verbatim.
func (e *Engine) runPipeline(ctx context.Context, g *CollaborationGroup, function string, input *agentdata.Data) agentdata.FunctionResult {
	if function == "" {
		return agentdata.Failf("function is required for pipeline collaboration")
	}
	carried := g.SharedContext.Clone().Merge(input)
	for i, id := range g.AgentIDs {
		res := e.agents.Execute(ctx, id, function, carried)
		if !res.Success {
			return agentdata.Failf("pipeline stage %d (agent %s) failed: %s", i, id, res.ErrorMessage)
		}
		carried = res.Result.Clone()
	}

	out := agentdata.New().
		Set("final_result", agentdata.Map(carried.Clone())).
		SetInt("stages_completed", int64(len(g.AgentIDs))).
		SetString("collaboration_pattern", "pipeline")
	return agentdata.OK(out)
}

// runParallel fans the same call out to every agent and aggregates.
// Without a custom aggregator the result carries result_0..result_n
// plus success_count.
func (e *Engine) runParallel(ctx context.Context, g *CollaborationGroup, function string, input *agentdata.Data) agentdata.FunctionResult {
	if function == "" {
		return agentdata.Failf("function is required for parallel collaboration")
	}
	base := g.SharedContext.Clone().Merge(input)
	results := e.fanOut(ctx, g.AgentIDs, function, base)

	if g.Aggregator != nil {
		return agentdata.OK(g.Aggregator(results))
	}

	out := agentdata.New()
	successCount := 0
	for i, r := range results {
		key := fmt.Sprintf("result_%d", i)
		if r.Success {
			out.Set(key, agentdata.Map(r.Result.Clone()))
			successCount++
		} else {
			out.Set(key, agentdata.Map(agentdata.New().SetString("error", r.ErrorMessage)))
		}
	}
	out.SetInt("success_count", int64(successCount))
	out.SetString("collaboration_pattern", "parallel")
	if successCount == 0 {
		return agentdata.Failf("all %d agents failed", len(g.AgentIDs))
	}
	return agentdata.OK(out)
}

// runConsensus has every agent vote, buckets the votes by their JSON
// form, and declares consensus when the largest bucket reaches the
// group threshold.
func (e *Engine) runConsensus(ctx context.Context, g *CollaborationGroup, input *agentdata.Data) agentdata.FunctionResult {
	base := g.SharedContext.Clone().Merge(input)
	results := e.fanOut(ctx, g.AgentIDs, "analyze_and_vote", base)

	type bucket struct {
		count  int
		voters []string
		sample *agentdata.Data
	}
	buckets := make(map[string]*bucket)
	var order []string
	successful := 0
	for i, r := range results {
		if !r.Success {
			continue
		}
		successful++
		fp := r.Result.Fingerprint()
		b, seen := buckets[fp]
		if !seen {
			b = &bucket{sample: r.Result}
			buckets[fp] = b
			order = append(order, fp)
		}
		b.count++
		b.voters = append(b.voters, g.AgentIDs[i])
	}
	if successful == 0 {
		return agentdata.Failf("no agent produced a vote")
	}

	var winner *bucket
	for _, fp := range order {
		if b := buckets[fp]; winner == nil || b.count > winner.count {
			winner = b
		}
	}

	threshold := g.ConsensusThreshold
	if threshold <= 0 {
		threshold = len(g.AgentIDs)/2 + 1
	}
	achieved := winner.count >= threshold

	voters := make([]agentdata.Value, len(winner.voters))
	for i, v := range winner.voters {
		voters[i] = agentdata.String(v)
	}

	out := agentdata.New().
		SetBool("consensus_achieved", achieved).
		SetInt("consensus_votes", int64(winner.count)).
		SetInt("required_threshold", int64(threshold)).
		Set("winning_voters", agentdata.List(voters...)).
		SetInt("participating_agents", int64(len(g.AgentIDs))).
		SetInt("successful_agents", int64(successful)).
		SetInt("total_vote_groups", int64(len(buckets))).
		SetString("collaboration_pattern", "consensus")
	if achieved {
		out.Set("consensus_result", agentdata.Map(winner.sample.Clone()))
	}
	return agentdata.OK(out)
}

// runHierarchy has the first agent coordinate on behalf of the rest.
func (e *Engine) runHierarchy(ctx context.Context, g *CollaborationGroup, input *agentdata.Data) agentdata.FunctionResult {
	master := g.AgentIDs[0]
	params := g.SharedContext.Clone().Merge(input)

	subs := make([]agentdata.Value, 0, len(g.AgentIDs)-1)
	for _, id := range g.AgentIDs[1:] {
		subs = append(subs, agentdata.String(id))
	}
	params.Set("subordinates", agentdata.List(subs...))

	res := e.agents.Execute(ctx, master, "coordinate", params)
	if !res.Success {
		return agentdata.Failf("coordinator %s failed: %s", master, res.ErrorMessage)
	}

	out := agentdata.New().
		Set("directive", agentdata.Map(res.Result.Clone())).
		SetString("coordinator", master).
		SetInt("subordinate_count", int64(len(g.AgentIDs)-1)).
		SetString("collaboration_pattern", "hierarchy")
	return agentdata.OK(out)
}

// runNegotiation circulates a proposal for a bounded number of rounds.
// In each round the first agent to return success supplies the next
// revision; a round with no success stalls the negotiation.
func (e *Engine) runNegotiation(ctx context.Context, g *CollaborationGroup, input *agentdata.Data) agentdata.FunctionResult {
	proposal := g.SharedContext.Clone().Merge(input)
	maxRounds := g.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultNegotiationRounds
	}

	var lastReviser string
	rounds := 0
	for round := 1; round <= maxRounds; round++ {
		rounds = round
		proposal.SetInt("round", int64(round))

		accepted := false
		for _, id := range g.AgentIDs {
			res := e.agents.Execute(ctx, id, "negotiate", proposal.Clone())
			if !res.Success {
				continue
			}
			if next, ok := res.Result.MapOr("proposal"); ok {
				proposal = g.SharedContext.Clone().Merge(next)
			} else {
				proposal = g.SharedContext.Clone().Merge(res.Result)
			}
			lastReviser = id
			accepted = true
			break
		}
		if !accepted {
			return agentdata.Failf("negotiation stalled: no agent accepted the proposal in round %d", round)
		}
	}

	out := agentdata.New().
		Set("final_proposal", agentdata.Map(proposal.Clone())).
		SetInt("rounds_completed", int64(rounds)).
		SetString("last_reviser", lastReviser).
		SetString("collaboration_pattern", "negotiation")
	return agentdata.OK(out)
}

// fanOut runs the same function on every agent concurrently. Results
// are positional: results[i] belongs to agentIDs[i].
func (e *Engine) fanOut(ctx context.Context, agentIDs []string, function string, base *agentdata.Data) []agentdata.FunctionResult {
	results := make([]agentdata.FunctionResult, len(agentIDs))
	grp, gctx := errgroup.WithContext(ctx)
	for i, id := range agentIDs {
		i, id := i, id
		grp.Go(func() error {
			results[i] = e.agents.Execute(gctx, id, function, base.Clone())
			return nil
		})
	}
	_ = grp.Wait()
	return results
}
