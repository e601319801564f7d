package agentdata

import "sort"

// Kind is the type tag carried by every Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindMap
	KindList
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindMap:    "map",
	KindList:   "list",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a type-tag name back to its Kind. The second return is
// false for names that are not part of the data model.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindString, false
}

// Value is a tagged union over the six data-model types. The zero Value is
// the empty string.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	data *Data
	list []Value
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int(i int64) Value { return Value{kind: KindInt, i64: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f64: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Map(d *Data) Value { return Value{kind: KindMap, data: d} }

func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string payload; ok is false when the tag differs.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i64, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f64, true
}

// AsNumber widens either numeric tag to float64. Callers that care about
// the exact tag should use AsInt/AsFloat.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i64), true
	case KindFloat:
		return v.f64, true
	default:
		return 0, false
	}
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsMap() (*Data, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.data, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Clone produces a deep copy; nested maps and lists do not share storage
// with the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return Map(v.data.Clone())
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Clone()
		}
		return Value{kind: KindList, list: out}
	default:
		return v
	}
}

// Equal is structural: tags must match and payloads compare recursively.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.i64 == o.i64
	case KindFloat:
		return v.f64 == o.f64
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.data.Equal(o.data)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Data is the universal typed dictionary passed across every function,
// step and task boundary. Key order is not significant. A nil *Data reads
// as empty; writes allocate through New.
type Data struct {
	fields map[string]Value
}

// New returns an empty Data.
func New() *Data {
	return &Data{fields: make(map[string]Value)}
}

// Set stores value under key, replacing any previous entry.
func (d *Data) Set(key string, v Value) *Data {
	if d.fields == nil {
		d.fields = make(map[string]Value)
	}
	d.fields[key] = v
	return d
}

// Convenience setters for the scalar tags.
func (d *Data) SetString(key, s string) *Data { return d.Set(key, String(s)) }

func (d *Data) SetInt(key string, i int64) *Data { return d.Set(key, Int(i)) }

func (d *Data) SetFloat(key string, f float64) *Data { return d.Set(key, Float(f)) }

func (d *Data) SetBool(key string, b bool) *Data { return d.Set(key, Bool(b)) }

// Get returns the value stored under key.
func (d *Data) Get(key string) (Value, bool) {
	if d == nil || d.fields == nil {
		return Value{}, false
	}
	v, ok := d.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Data) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key if present.
func (d *Data) Delete(key string) {
	if d == nil || d.fields == nil {
		return
	}
	delete(d.fields, key)
}

// Keys returns the key set in sorted order for deterministic iteration.
func (d *Data) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// StringOr returns the string under key, or def when absent or differently
// tagged. The remaining *Or helpers follow the same contract.
func (d *Data) StringOr(key, def string) string {
	if v, ok := d.Get(key); ok {
		if s, ok := v.AsString(); ok {
			return s
		}
	}
	return def
}

func (d *Data) IntOr(key string, def int64) int64 {
	if v, ok := d.Get(key); ok {
		if i, ok := v.AsInt(); ok {
			return i
		}
	}
	return def
}

func (d *Data) NumberOr(key string, def float64) float64 {
	if v, ok := d.Get(key); ok {
		if f, ok := v.AsNumber(); ok {
			return f
		}
	}
	return def
}

func (d *Data) BoolOr(key string, def bool) bool {
	if v, ok := d.Get(key); ok {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	return def
}

func (d *Data) MapOr(key string) (*Data, bool) {
	if v, ok := d.Get(key); ok {
		return v.AsMap()
	}
	return nil, false
}

// Merge copies every entry of other into d; other wins on key conflicts.
// Values are deep-copied so the two sides never share storage.
func (d *Data) Merge(other *Data) *Data {
	if other == nil {
		return d
	}
	for k, v := range other.fields {
		d.Set(k, v.Clone())
	}
	return d
}

// Clone returns a deep copy of d. Clone of nil is an empty Data.
func (d *Data) Clone() *Data {
	out := New()
	if d == nil {
		return out
	}
	for k, v := range d.fields {
		out.fields[k] = v.Clone()
	}
	return out
}

// Equal compares two Data structurally. nil and empty compare equal.
func (d *Data) Equal(other *Data) bool {
	if d.Len() != other.Len() {
		return false
	}
	if d == nil {
		return true
	}
	for k, v := range d.fields {
		ov, ok := other.Get(k)
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
