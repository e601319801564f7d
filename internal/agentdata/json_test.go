package agentdata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSON_CanonicalForm(t *testing.T) {
	d := New().
		SetString("name", "researcher").
		SetInt("count", 2).
		SetFloat("ratio", 2.0).
		SetBool("ok", true)

	s, err := d.ToJSON()
	require.NoError(t, err)

	// Keys are sorted and the integral float keeps its decimal point so the
	// tag survives a round trip.
	assert.Equal(t, `{"count":2,"name":"researcher","ok":true,"ratio":2.0}`, s)
}

func TestToJSON_NestedStructures(t *testing.T) {
	d := New().
		Set("steps", List(String("plan"), String("run"))).
		Set("meta", Map(New().SetInt("depth", 1)))

	s, err := d.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"meta":{"depth":1},"steps":["plan","run"]}`, s)
}

func TestToJSON_StringEscaping(t *testing.T) {
	d := New().SetString("q", "say \"hi\"\nthen stop")

	s, err := d.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(s)
	require.NoError(t, err)
	assert.Equal(t, "say \"hi\"\nthen stop", back.StringOr("q", ""))
}

func TestToJSON_RejectsNaNAndInf(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		d := New().SetFloat("bad", f)
		_, err := d.ToJSON()
		assert.Error(t, err)
	}
}

func TestFromJSON_TagAssignment(t *testing.T) {
	d, err := FromJSON(`{"i":3,"f":3.0,"e":1e2,"neg":-4,"s":"3"}`)
	require.NoError(t, err)

	iv, ok := d.Get("i")
	require.True(t, ok)
	assert.Equal(t, KindInt, iv.Kind())

	fv, ok := d.Get("f")
	require.True(t, ok)
	assert.Equal(t, KindFloat, fv.Kind(), "a decimal point forces the float tag")

	ev, ok := d.Get("e")
	require.True(t, ok)
	assert.Equal(t, KindFloat, ev.Kind(), "exponent notation forces the float tag")

	nv, ok := d.Get("neg")
	require.True(t, ok)
	assert.Equal(t, KindInt, nv.Kind())

	sv, ok := d.Get("s")
	require.True(t, ok)
	assert.Equal(t, KindString, sv.Kind())
}

func TestFromJSON_NullBecomesEmptyString(t *testing.T) {
	d, err := FromJSON(`{"gone":null}`)
	require.NoError(t, err)

	v, ok := d.Get("gone")
	require.True(t, ok)
	assert.Equal(t, KindString, v.Kind())
	assert.Equal(t, "", d.StringOr("gone", "x"))
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON(`{"open":`)
	assert.Error(t, err)

	_, err = FromJSON(`[1,2,3]`)
	assert.Error(t, err, "top level must be an object")
}

func TestJSON_RoundTripPreservesTags(t *testing.T) {
	d := New().
		SetInt("i", 2).
		SetFloat("f", 2.0).
		SetFloat("pi", 3.14159).
		SetBool("b", false).
		SetString("s", "").
		Set("l", List(Int(1), Float(1.0), String("one"))).
		Set("m", Map(New().SetFloat("inner", -0.5)))

	s, err := d.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(s)
	require.NoError(t, err)
	assert.True(t, d.Equal(back), "round trip must preserve values and tags: %s", s)
}

func TestJSON_RoundTripLargeInt(t *testing.T) {
	// 2^53+1 is not representable as float64; the int path must keep it exact.
	d := New().SetInt("big", 9007199254740993)

	s, err := d.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993}`, s)

	back, err := FromJSON(s)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), back.IntOr("big", 0))
}

func TestFingerprint_StableAcrossInsertionOrder(t *testing.T) {
	a := New().SetString("x", "1").SetString("y", "2")
	b := New().SetString("y", "2").SetString("x", "1")

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_DistinguishesTags(t *testing.T) {
	a := New().SetInt("n", 2)
	b := New().SetFloat("n", 2.0)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFromInterface_Bridges(t *testing.T) {
	v, err := FromInterface(map[string]interface{}{
		"name":  "x",
		"count": int(5),
		"deep":  []interface{}{true, 1.5},
	})
	require.NoError(t, err)

	d, ok := v.AsMap()
	require.True(t, ok)
	assert.Equal(t, "x", d.StringOr("name", ""))
	assert.Equal(t, int64(5), d.IntOr("count", 0))

	raw := d.ToInterface()
	assert.Equal(t, "x", raw["name"])
}
