package agentdata

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOK_NormalizesNilResult(t *testing.T) {
	r := OK(nil)

	assert.True(t, r.Success)
	assert.Empty(t, r.ErrorMessage)
	require.NotNil(t, r.Result)
	assert.Equal(t, 0, r.Result.Len())
}

func TestFailf_AlwaysCarriesMessage(t *testing.T) {
	r := Failf("function %q not found", "summarize")
	assert.False(t, r.Success)
	assert.Equal(t, `function "summarize" not found`, r.ErrorMessage)

	// An empty format still yields a non-empty message.
	r = Failf("")
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.ErrorMessage)
}

func TestFailErr(t *testing.T) {
	r := FailErr(errors.New("boom"))
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.ErrorMessage)

	r = FailErr(nil)
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.ErrorMessage)
}

func TestFunctionResult_JSONShape(t *testing.T) {
	ok := OK(New().SetString("answer", "42"))
	b, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":{"answer":"42"}}`, string(b))

	fail := Failf("nope")
	b, err = json.Marshal(fail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"result":{},"error_message":"nope"}`, string(b))
}

func TestAnnotate(t *testing.T) {
	r := OK(nil)
	r.Annotate("step_id", String("s1"))

	assert.Equal(t, "s1", r.Result.StringOr("step_id", ""))
}
