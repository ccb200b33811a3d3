package engine

import (
	"encoding/json"
	"strconv"
)

// Kind defines the type of value a column produces.
type Kind int

const (
	KindInt Kind = iota
	KindDouble
	KindText
	KindTime
	KindList
	KindPairs
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDouble:
		return "float"
	case KindText:
		return "string"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindPairs:
		return "dict"
	default:
		return "unknown"
	}
}

// Pair is one key/value element of a KindPairs value.
type Pair struct {
	Key   string
	Value string
}

// Value is a single column value. Only the field matching Kind is meaningful.
type Value struct {
	kind  Kind
	i     int64
	f     float64
	s     string
	list  []string
	pairs []Pair
}

func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f: v} }
func TextValue(v string) Value { return Value{kind: KindText, s: v} }
func TimeValue(epoch int64) Value { return Value{kind: KindTime, i: epoch} }
func ListValue(v []string) Value { return Value{kind: KindList, list: v} }
func PairsValue(v []Pair) Value { return Value{kind: KindPairs, pairs: v} }

// Zero returns the empty value of a kind.
func Zero(k Kind) Value {
	return Value{kind: k}
}

func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload of an Int or Time value.
func (v Value) Int() int64 { return v.i }

func (v Value) Double() float64 { return v.f }
func (v Value) Text() string { return v.s }
func (v Value) List() []string { return v.list }
func (v Value) Pairs() []Pair { return v.pairs }

// Lookup returns the value stored under key in a Pairs value.
func (v Value) Lookup(key string) (string, bool) {
	for _, p := range v.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// IsZero reports whether v is the empty value of its kind.
func (v Value) IsZero() bool {
	switch v.kind {
	case KindInt, KindTime:
		return v.i == 0
	case KindDouble:
		return v.f == 0
	case KindText:
		return v.s == ""
	case KindList:
		return len(v.list) == 0
	case KindPairs:
		return len(v.pairs) == 0
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindInt, KindTime:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// MarshalJSON renders the value the way result rows are serialized.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt, KindTime:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindDouble:
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindPairs:
		out := make([][2]string, len(v.pairs))
		for i, p := range v.pairs {
			out[i] = [2]string{p.Key, p.Value}
		}
		return json.Marshal(out)
	}
	return []byte("null"), nil
}
