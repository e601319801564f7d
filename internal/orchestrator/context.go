package orchestrator

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// templatePattern matches "${path}" references inside string parameters.
var templatePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// buildStepContext assembles the document a step's function receives:
// the merged workflow context overlaid with the step's own parameters,
// plus each dependency's primary output under "<dep_step_id>.result".
// String parameters may reference any of those keys as "${path}".
func buildStepContext(merged *agentdata.Data, step WorkflowStep, completed map[string]StepResult) *agentdata.Data {
	ctx := merged.Clone()
	ctx.Merge(step.Parameters)

	for _, dep := range step.Dependencies {
		r, ok := completed[dep]
		if !ok || r.Result.Result == nil {
			continue
		}
		out := r.Result.Result
		if v, has := out.Get("result"); has {
			ctx.Set(dep+".result", v.Clone())
		} else {
			ctx.Set(dep+".result", agentdata.Map(out.Clone()))
		}
	}
	return resolveTemplates(ctx)
}

// resolveTemplates expands every "${path}" reference against a frozen
// snapshot of ctx, so resolution order cannot observe partial results.
func resolveTemplates(ctx *agentdata.Data) *agentdata.Data {
	src := ctx.Clone()
	out := agentdata.New()
	for _, k := range ctx.Keys() {
		v, _ := ctx.Get(k)
		out.Set(k, resolveValue(v, src))
	}
	return out
}

func resolveValue(v agentdata.Value, src *agentdata.Data) agentdata.Value {
	switch v.Kind() {
	case agentdata.KindString:
		s, _ := v.AsString()
		return expandString(s, src)
	case agentdata.KindMap:
		m, _ := v.AsMap()
		out := agentdata.New()
		for _, k := range m.Keys() {
			mv, _ := m.Get(k)
			out.Set(k, resolveValue(mv, src))
		}
		return agentdata.Map(out)
	case agentdata.KindList:
		items, _ := v.AsList()
		out := make([]agentdata.Value, len(items))
		for i, item := range items {
			out[i] = resolveValue(item, src)
		}
		return agentdata.List(out...)
	default:
		return v
	}
}

// expandString substitutes template references. A string that is exactly
// one reference keeps the referent's type tag; mixed text renders each
// referent inline. Unresolvable references are left verbatim.
func expandString(s string, src *agentdata.Data) agentdata.Value {
	if !strings.Contains(s, "${") {
		return agentdata.String(s)
	}
	if m := templatePattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, ok := lookupPath(src, m[1]); ok {
			return v.Clone()
		}
		return agentdata.String(s)
	}
	expanded := templatePattern.ReplaceAllStringFunc(s, func(ref string) string {
		path := ref[2 : len(ref)-1]
		if v, ok := lookupPath(src, path); ok {
			return renderValue(v)
		}
		return ref
	})
	return agentdata.String(expanded)
}

// lookupPath resolves a dotted reference. Literal keys win (dependency
// outputs are stored under dotted names like "s1.result"); otherwise the
// longest literal prefix is located and the remainder descends into it.
func lookupPath(src *agentdata.Data, path string) (agentdata.Value, bool) {
	if v, ok := src.Get(path); ok {
		return v, true
	}
	segs := strings.Split(path, ".")
	for cut := len(segs) - 1; cut >= 1; cut-- {
		head := strings.Join(segs[:cut], ".")
		v, ok := src.Get(head)
		if !ok {
			continue
		}
		if found, ok := descend(v, segs[cut:]); ok {
			return found, true
		}
	}
	return agentdata.Value{}, false
}

func descend(v agentdata.Value, segs []string) (agentdata.Value, bool) {
	cur := v
	for _, seg := range segs {
		m, ok := cur.AsMap()
		if !ok {
			return agentdata.Value{}, false
		}
		nxt, ok := m.Get(seg)
		if !ok {
			return agentdata.Value{}, false
		}
		cur = nxt
	}
	return cur, true
}

// renderValue flattens a value for inline text substitution. Scalars use
// their literal form; maps and lists render as canonical JSON.
func renderValue(v agentdata.Value) string {
	switch v.Kind() {
	case agentdata.KindString:
		s, _ := v.AsString()
		return s
	case agentdata.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10)
	case agentdata.KindFloat:
		f, _ := v.AsFloat()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case agentdata.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case agentdata.KindMap:
		m, _ := v.AsMap()
		if s, err := m.ToJSON(); err == nil {
			return s
		}
		return ""
	case agentdata.KindList:
		b, err := json.Marshal(v.ToInterface())
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}
