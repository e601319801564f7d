package tools

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// RegisterBuiltins installs the default tool set.
func RegisterBuiltins(r *Registry) error {
	for _, t := range []*Tool{
		calculatorTool(),
		textTransformTool(),
		hashTextTool(),
		generateUUIDTool(),
		jsonQueryTool(),
		currentTimeTool(),
		randomNumberTool(),
		webSearchTool(),
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func defaultOf(v agentdata.Value) *agentdata.Value { return &v }

func calculatorTool() *Tool {
	return &Tool{
		Name:          "calculator",
		Description:   "Evaluates a basic arithmetic expression (+, -, *, /, parentheses)",
		Category:      "math",
		Tags:          []string{"arithmetic", "numbers"},
		EstimatedCost: 0.1,
		Parameters: []agentdata.ParamSpec{
			{Name: "expression", Type: agentdata.KindString, Required: true},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			expr := params.StringOr("expression", "")
			v, err := evalExpression(expr)
			if err != nil {
				return agentdata.Failf("cannot evaluate %q: %v", expr, err)
			}
			return agentdata.OK(agentdata.New().
				SetFloat("result", v).
				SetString("expression", expr))
		},
	}
}

func textTransformTool() *Tool {
	return &Tool{
		Name:          "text_transform",
		Description:   "Applies a named transformation to a text value",
		Category:      "text",
		Tags:          []string{"string", "formatting"},
		EstimatedCost: 0.1,
		Parameters: []agentdata.ParamSpec{
			{Name: "text", Type: agentdata.KindString, Required: true},
			{Name: "operation", Type: agentdata.KindString, Required: true,
				Enum: []string{"upper", "lower", "title", "reverse", "trim", "word_count"}},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			text := params.StringOr("text", "")
			out := agentdata.New()
			switch op := params.StringOr("operation", ""); op {
			case "upper":
				out.SetString("result", strings.ToUpper(text))
			case "lower":
				out.SetString("result", strings.ToLower(text))
			case "title":
				out.SetString("result", titleCase(text))
			case "reverse":
				out.SetString("result", reverseString(text))
			case "trim":
				out.SetString("result", strings.TrimSpace(text))
			case "word_count":
				out.SetInt("result", int64(len(strings.Fields(text))))
			default:
				return agentdata.Failf("unknown operation %q", op)
			}
			return agentdata.OK(out)
		},
	}
}

func titleCase(s string) string {
	out := []rune(s)
	boundary := true
	for i, r := range out {
		if boundary {
			out[i] = unicode.ToUpper(r)
		}
		boundary = unicode.IsSpace(r)
	}
	return string(out)
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func hashTextTool() *Tool {
	return &Tool{
		Name:          "hash_text",
		Description:   "Computes a hex digest of a text value",
		Category:      "encoding",
		Tags:          []string{"hash", "checksum"},
		EstimatedCost: 0.2,
		Parameters: []agentdata.ParamSpec{
			{Name: "text", Type: agentdata.KindString, Required: true},
			{Name: "algorithm", Type: agentdata.KindString,
				Default: defaultOf(agentdata.String("sha256")),
				Enum:    []string{"sha256", "sha1", "md5"}},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			text := params.StringOr("text", "")
			algo := params.StringOr("algorithm", "sha256")
			var digest string
			switch algo {
			case "sha256":
				sum := sha256.Sum256([]byte(text))
				digest = hex.EncodeToString(sum[:])
			case "sha1":
				sum := sha1.Sum([]byte(text))
				digest = hex.EncodeToString(sum[:])
			case "md5":
				sum := md5.Sum([]byte(text))
				digest = hex.EncodeToString(sum[:])
			}
			return agentdata.OK(agentdata.New().
				SetString("result", digest).
				SetString("algorithm", algo))
		},
	}
}

func generateUUIDTool() *Tool {
	return &Tool{
		Name:          "generate_uuid",
		Description:   "Generates one or more random UUIDs",
		Category:      "utility",
		Tags:          []string{"id", "random"},
		EstimatedCost: 0.1,
		Parameters: []agentdata.ParamSpec{
			{Name: "count", Type: agentdata.KindInt, Default: defaultOf(agentdata.Int(1))},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			count := params.IntOr("count", 1)
			if count < 1 || count > 100 {
				return agentdata.Failf("count must be between 1 and 100, got %d", count)
			}
			if count == 1 {
				return agentdata.OK(agentdata.New().SetString("result", uuid.New().String()))
			}
			ids := make([]agentdata.Value, 0, count)
			for i := int64(0); i < count; i++ {
				ids = append(ids, agentdata.String(uuid.New().String()))
			}
			return agentdata.OK(agentdata.New().
				Set("results", agentdata.List(ids...)).
				SetInt("count", count))
		},
	}
}

func jsonQueryTool() *Tool {
	return &Tool{
		Name:          "json_query",
		Description:   "Extracts a value from a JSON document by dotted path",
		Category:      "data",
		Tags:          []string{"json", "extraction"},
		EstimatedCost: 0.3,
		Parameters: []agentdata.ParamSpec{
			{Name: "json", Type: agentdata.KindString, Required: true},
			{Name: "path", Type: agentdata.KindString, Required: true},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			doc, err := agentdata.FromJSON(params.StringOr("json", ""))
			if err != nil {
				return agentdata.Failf("invalid JSON document: %v", err)
			}
			path := params.StringOr("path", "")
			v, err := walkPath(agentdata.Map(doc), path)
			if err != nil {
				return agentdata.FailErr(err)
			}
			return agentdata.OK(agentdata.New().Set("result", v))
		},
	}
}

// walkPath resolves a dotted path like "items.2.name" against a value.
// Numeric segments index into lists.
func walkPath(v agentdata.Value, path string) (agentdata.Value, error) {
	if path == "" {
		return v, nil
	}
	for _, seg := range strings.Split(path, ".") {
		switch v.Kind() {
		case agentdata.KindMap:
			m, _ := v.AsMap()
			next, ok := m.Get(seg)
			if !ok {
				return agentdata.Value{}, fmt.Errorf("path segment %q not found", seg)
			}
			v = next
		case agentdata.KindList:
			list, _ := v.AsList()
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(list) {
				return agentdata.Value{}, fmt.Errorf("path segment %q is not a valid list index", seg)
			}
			v = list[idx]
		default:
			return agentdata.Value{}, fmt.Errorf("path segment %q descends into a scalar", seg)
		}
	}
	return v, nil
}

func currentTimeTool() *Tool {
	return &Tool{
		Name:          "current_time",
		Description:   "Returns the current time in a named format",
		Category:      "utility",
		Tags:          []string{"time", "clock"},
		EstimatedCost: 0.1,
		Parameters: []agentdata.ParamSpec{
			{Name: "format", Type: agentdata.KindString,
				Default: defaultOf(agentdata.String("rfc3339")),
				Enum:    []string{"rfc3339", "unix", "kitchen", "date"}},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			now := time.Now()
			out := agentdata.New()
			switch params.StringOr("format", "rfc3339") {
			case "unix":
				out.SetInt("result", now.Unix())
			case "kitchen":
				out.SetString("result", now.Format(time.Kitchen))
			case "date":
				out.SetString("result", now.Format("2006-01-02"))
			default:
				out.SetString("result", now.Format(time.RFC3339))
			}
			return agentdata.OK(out)
		},
	}
}

func randomNumberTool() *Tool {
	return &Tool{
		Name:          "random_number",
		Description:   "Returns a uniform random integer in [min, max]",
		Category:      "math",
		Tags:          []string{"random", "numbers"},
		EstimatedCost: 0.1,
		Parameters: []agentdata.ParamSpec{
			{Name: "min", Type: agentdata.KindInt, Required: true},
			{Name: "max", Type: agentdata.KindInt, Required: true},
		},
		Run: func(_ context.Context, params *agentdata.Data, _ *ToolContext) agentdata.FunctionResult {
			min := params.IntOr("min", 0)
			max := params.IntOr("max", 0)
			if max < min {
				return agentdata.Failf("max (%d) must not be less than min (%d)", max, min)
			}
			n := min + rand.Int63n(max-min+1)
			return agentdata.OK(agentdata.New().SetInt("result", n))
		},
	}
}

func webSearchTool() *Tool {
	return &Tool{
		Name:          "web_search",
		Description:   "Searches the web through the inference backend",
		Category:      "search",
		Tags:          []string{"web", "retrieval"},
		EstimatedCost: 5.0,
		Timeout:       30 * time.Second,
		Parameters: []agentdata.ParamSpec{
			{Name: "query", Type: agentdata.KindString, Required: true},
			{Name: "max_results", Type: agentdata.KindInt, Default: defaultOf(agentdata.Int(5))},
		},
		Run: func(ctx context.Context, params *agentdata.Data, tc *ToolContext) agentdata.FunctionResult {
			if tc.Inference == nil {
				return agentdata.Failf("web search requires an inference backend")
			}
			query := params.StringOr("query", "")
			n := int(params.IntOr("max_results", 5))
			hits, err := tc.Inference.InternetSearch(ctx, query, n)
			if err != nil {
				return agentdata.FailErr(err)
			}
			items := make([]agentdata.Value, 0, len(hits))
			for _, h := range hits {
				items = append(items, agentdata.Map(agentdata.New().
					SetString("title", h.Title).
					SetString("url", h.URL).
					SetString("content", h.Content)))
			}
			return agentdata.OK(agentdata.New().
				Set("results", agentdata.List(items...)).
				SetInt("count", int64(len(items))))
		},
	}
}
