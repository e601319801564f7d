package agentdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// The JSON mapping is bidirectional and tag-preserving: ints stay ints,
// floats stay floats (a float with no fractional part is emitted with a
// trailing ".0" so the tag survives the round trip). NaN and infinities
// have no JSON form and are rejected.

// ToJSON serializes d as a JSON object.
func (d *Data) ToJSON() (string, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromJSON parses a JSON object into a Data.
func FromJSON(s string) (*Data, error) {
	d := New()
	if err := d.UnmarshalJSON([]byte(s)); err != nil {
		return nil, err
	}
	return d, nil
}

// MarshalJSON implements json.Marshaler. Keys are emitted in sorted order
// so equal Data values serialize identically.
func (d *Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := d.Keys()
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v, _ := d.Get(k)
		if err := appendValue(&buf, v); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func appendValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i64, 10))
	case KindFloat:
		if math.IsNaN(v.f64) || math.IsInf(v.f64, 0) {
			return fmt.Errorf("float value %v has no JSON representation", v.f64)
		}
		s := strconv.FormatFloat(v.f64, 'g', -1, 64)
		buf.WriteString(s)
		if !strings.ContainsAny(s, ".eE") {
			// keep the float tag distinguishable from an int
			buf.WriteString(".0")
		}
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindMap:
		b, err := v.data.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("agent data must be a JSON object: %w", err)
	}
	if d.fields == nil {
		d.fields = make(map[string]Value, len(raw))
	}
	for k, rv := range raw {
		v, err := valueFromInterface(rv)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		d.fields[k] = v
	}
	return nil
}

// FromInterface converts the output of encoding/json (or any compatible
// dynamic structure) into a tagged Value. Numbers given as json.Number or
// integral-typed Go values keep the int tag; float64 keeps the float tag.
func FromInterface(raw interface{}) (Value, error) {
	return valueFromInterface(raw)
}

func valueFromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		// The data model has no null; absent keys express absence.
		return String(""), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("bad number %q: %w", s, err)
		}
		return Float(f), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case map[string]interface{}:
		nested := New()
		for k, rv := range t {
			v, err := valueFromInterface(rv)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			nested.fields[k] = v
		}
		return Map(nested), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for i, rv := range t {
			v, err := valueFromInterface(rv)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, v)
		}
		return Value{kind: KindList, list: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", raw)
	}
}

// ToInterface renders v as the dynamic structure encoding/json produces,
// for handing results to generic JSON encoders.
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i64
	case KindFloat:
		return v.f64
	case KindBool:
		return v.b
	case KindMap:
		return v.data.ToInterface()
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToInterface()
		}
		return out
	}
	return nil
}

// ToInterface renders the whole dictionary as map[string]interface{}.
func (d *Data) ToInterface() map[string]interface{} {
	out := make(map[string]interface{}, d.Len())
	if d == nil {
		return out
	}
	for k, v := range d.fields {
		out[k] = v.ToInterface()
	}
	return out
}

// Fingerprint returns a canonical serialization used to group structurally
// identical results (consensus voting buckets keys on it). Sorted keys make
// it stable across map iteration order.
func (d *Data) Fingerprint() string {
	b, err := d.MarshalJSON()
	if err != nil {
		// Non-representable floats only; fold them into one bucket.
		keys := d.Keys()
		sort.Strings(keys)
		return "!err:" + strings.Join(keys, ",")
	}
	return string(b)
}
