// Package tools hosts the shared tool catalog. Tools are registry-owned
// callables with a declared parameter schema, a category and tags for
// discovery, and an estimated cost; agents reach them by name at dispatch
// time instead of owning copies.
package tools

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/inference"
)

// Executor is the tool body. Implementations must not panic across this
// boundary; the registry converts panics into failed results anyway.
type Executor func(ctx context.Context, params *agentdata.Data, tc *ToolContext) agentdata.FunctionResult

// ToolContext carries per-invocation state into a tool run. Fields may be
// nil when the capability is not wired (tests, tools that never use them).
type ToolContext struct {
	AgentID   string
	AgentName string
	Logger    *zap.Logger
	Inference *inference.Client
	Shared    *agentdata.Data
}

// Tool describes one registry entry.
type Tool struct {
	Name          string
	Description   string
	Category      string
	Tags          []string
	EstimatedCost float64
	Parameters    []agentdata.ParamSpec
	Timeout       time.Duration
	Run           Executor
}

// Schema is the wire description of a tool, served by discovery endpoints.
type Schema struct {
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Category      string                `json:"category"`
	Tags          []string              `json:"tags,omitempty"`
	EstimatedCost float64               `json:"estimated_cost"`
	Parameters    []agentdata.ParamSpec `json:"parameters"`
}

func (t *Tool) schema() Schema {
	return Schema{
		Name:          t.Name,
		Description:   t.Description,
		Category:      t.Category,
		Tags:          append([]string(nil), t.Tags...),
		EstimatedCost: t.EstimatedCost,
		Parameters:    append([]agentdata.ParamSpec(nil), t.Parameters...),
	}
}
