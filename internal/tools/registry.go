package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/metrics"
)

var (
	// ErrDuplicateTool is returned when a name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrToolNotFound is returned by Unregister for unknown names.
	ErrToolNotFound = errors.New("tool not found")
)

// Filter narrows tool discovery. Zero-value fields are unconstrained.
// Categories and Tags each match if ANY listed value matches; NamePattern
// is a regular expression, falling back to a case-insensitive substring
// match when it does not compile; MaxCost (when positive) admits only
// tools whose estimated cost does not exceed it.
type Filter struct {
	Categories  []string
	Tags        []string
	NamePattern string
	MaxCost     float64
}

// matcher compiles the filter once so discovery loops stay cheap.
func (f Filter) matcher() func(*Tool) bool {
	var re *regexp.Regexp
	if f.NamePattern != "" {
		re, _ = regexp.Compile(f.NamePattern)
	}
	substr := strings.ToLower(f.NamePattern)

	return func(t *Tool) bool {
		if len(f.Categories) > 0 && !containsString(f.Categories, t.Category) {
			return false
		}
		if len(f.Tags) > 0 && !anyOverlap(f.Tags, t.Tags) {
			return false
		}
		if f.NamePattern != "" {
			if re != nil {
				if !re.MatchString(t.Name) {
					return false
				}
			} else if !strings.Contains(strings.ToLower(t.Name), substr) {
				return false
			}
		}
		if f.MaxCost > 0 && t.EstimatedCost > f.MaxCost {
			return false
		}
		return true
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func anyOverlap(want, have []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}

// Registry is the process-wide tool catalog. One mutex covers the name
// map and both indices; they always mutate together.
type Registry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	tools      map[string]*Tool
	byCategory map[string][]string
	byTag      map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger,
		tools:      make(map[string]*Tool),
		byCategory: make(map[string][]string),
		byTag:      make(map[string][]string),
	}
}

// Register adds a tool. Names are unique; a second registration under the
// same name fails with ErrDuplicateTool.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %q has no executor", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	if t.Category != "" {
		r.byCategory[t.Category] = append(r.byCategory[t.Category], t.Name)
	}
	for _, tag := range t.Tags {
		r.byTag[tag] = append(r.byTag[tag], t.Name)
	}
	r.logger.Debug("Registered tool",
		zap.String("tool", t.Name),
		zap.String("category", t.Category),
	)
	return nil
}

// Unregister removes a tool and its index entries.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	delete(r.tools, name)
	if t.Category != "" {
		r.byCategory[t.Category] = removeString(r.byCategory[t.Category], name)
		if len(r.byCategory[t.Category]) == 0 {
			delete(r.byCategory, t.Category)
		}
	}
	for _, tag := range t.Tags {
		r.byTag[tag] = removeString(r.byTag[tag], name)
		if len(r.byTag[tag]) == 0 {
			delete(r.byTag, tag)
		}
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Categories returns all categories in use, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cats := make([]string, 0, len(r.byCategory))
	for c := range r.byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Discover returns the names of all tools matching the filter, sorted.
func (r *Registry) Discover(f Filter) []string {
	match := f.matcher()

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, t := range r.tools {
		if match(t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schemas of all tools matching the filter, sorted
// by name.
func (r *Registry) Schemas(f Filter) []Schema {
	match := f.matcher()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		if match(t) {
			out = append(out, t.schema())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates params against the tool's schema and runs it. Panics
// in the tool body are converted into failed results; nothing escapes.
func (r *Registry) Execute(ctx context.Context, name string, params *agentdata.Data, tc *ToolContext) agentdata.FunctionResult {
	t, ok := r.Get(name)
	if !ok {
		return agentdata.Failf("tool %q not found", name)
	}

	if err := agentdata.ValidateParams(t.Parameters, params); err != nil {
		return agentdata.Failf("Invalid parameters for tool %q: %v", name, err)
	}
	params = agentdata.ApplyDefaults(t.Parameters, params)

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if tc == nil {
		tc = &ToolContext{}
	}
	if tc.Logger == nil {
		tc.Logger = r.logger
	}

	start := time.Now()
	result := r.runSafely(ctx, t, params, tc)
	elapsed := float64(time.Since(start).Milliseconds())

	status := "ok"
	if !result.Success {
		status = "error"
	}
	metrics.RecordToolMetrics(name, status, elapsed)
	return result
}

func (r *Registry) runSafely(ctx context.Context, t *Tool, params *agentdata.Data, tc *ToolContext) (result agentdata.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool panicked",
				zap.String("tool", t.Name),
				zap.Any("panic", rec),
			)
			result = agentdata.Failf("Tool execution error: %v", rec)
		}
	}()
	return t.Run(ctx, params, tc)
}
