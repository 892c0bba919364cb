package delta

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// AttrValue is a formatting attribute value. The zero value is Unset, which
// removes the attribute when composed and encodes as JSON null.
type AttrValue struct {
	value any
	set   bool
}

// Unset is the attribute value that clears a key.
var Unset = AttrValue{}

// Set wraps v as an attribute value. Set(nil) is Unset.
func Set(v any) AttrValue {
	if v == nil {
		return Unset
	}
	return AttrValue{value: v, set: true}
}

// IsSet reports whether the value carries data.
func (v AttrValue) IsSet() bool { return v.set }

// Value returns the wrapped value, or nil when unset.
func (v AttrValue) Value() any { return v.value }

// Equal compares two attribute values structurally.
func (v AttrValue) Equal(o AttrValue) bool {
	if v.set != o.set {
		return false
	}
	if !v.set {
		return true
	}
	return reflect.DeepEqual(v.value, o.value)
}

func (v AttrValue) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

func (v *AttrValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Unset
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Set(raw)
	return nil
}

// AttributeMap maps attribute names to values. A nil map and an empty map
// are equivalent.
type AttributeMap map[string]AttrValue

// Clone returns a shallow copy, or nil when m is empty.
func (m AttributeMap) Clone() AttributeMap {
	if len(m) == 0 {
		return nil
	}
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys with equal values.
func (m AttributeMap) Equal(o AttributeMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Compact returns a copy with Unset entries dropped.
func (m AttributeMap) Compact() AttributeMap {
	out := AttributeMap{}
	for k, v := range m {
		if v.IsSet() {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m *AttributeMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(AttributeMap, len(raw))
	for k, r := range raw {
		var v AttrValue
		if err := v.UnmarshalJSON(r); err != nil {
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}

// composeAttributes layers b over a. With keepNull false, Unset entries of b
// are dropped from the result instead of being carried forward.
func composeAttributes(a, b AttributeMap, keepNull bool) AttributeMap {
	out := AttributeMap{}
	for k, v := range b {
		if keepNull || v.IsSet() {
			out[k] = v
		}
	}
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// transformAttributes rewrites b so it applies after a. When a has priority,
// keys that a already sets are dropped from b.
func transformAttributes(a, b AttributeMap, priority bool) AttributeMap {
	if len(a) == 0 {
		return b.Clone()
	}
	if len(b) == 0 {
		return nil
	}
	if !priority {
		return b.Clone()
	}
	out := AttributeMap{}
	for k, v := range b {
		if _, ok := a[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// invertAttributes returns the attribute retain that undoes attr applied
// over base.
func invertAttributes(attr, base AttributeMap) AttributeMap {
	out := AttributeMap{}
	for k, v := range base {
		if av, ok := attr[k]; ok && !av.Equal(v) {
			out[k] = v
		}
	}
	for k, v := range attr {
		if _, ok := base[k]; !ok && v.IsSet() {
			out[k] = Unset
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DiffAttributes returns the attribute retain that turns before into after.
func DiffAttributes(before, after AttributeMap) AttributeMap {
	out := AttributeMap{}
	for k, v := range after {
		if bv, ok := before[k]; !ok || !bv.Equal(v) {
			out[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			out[k] = Unset
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
