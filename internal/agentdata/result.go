package agentdata

import "fmt"

// FunctionResult is the uniform return type at every domain boundary:
// agent functions, tools, workflow steps. Success implies an empty error
// message; failure implies a non-empty one.
type FunctionResult struct {
	Success      bool   `json:"success"`
	Result       *Data  `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// OK wraps a successful result. A nil payload is normalized to empty Data
// so downstream annotation never trips on nil.
func OK(result *Data) FunctionResult {
	if result == nil {
		result = New()
	}
	return FunctionResult{Success: true, Result: result}
}

// Failf builds a failed result with a formatted, human-readable message.
func Failf(format string, args ...interface{}) FunctionResult {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = "unknown error"
	}
	return FunctionResult{Success: false, Result: New(), ErrorMessage: msg}
}

// FailErr builds a failed result from an error value.
func FailErr(err error) FunctionResult {
	if err == nil {
		return Failf("unknown error")
	}
	return Failf("%s", err.Error())
}

// Annotate sets key on the result payload, allocating it when needed.
// Used by the workflow engine to attach bookkeeping to failed steps.
func (r *FunctionResult) Annotate(key string, v Value) {
	if r.Result == nil {
		r.Result = New()
	}
	r.Result.Set(key, v)
}
