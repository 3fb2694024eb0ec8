// Package atoms implements the argument-atom sum type the test-plan
// expander walks: scalar, sequence, range, and absent values, each parsed
// from the whitespace-tokenized strings a configuration's mod_opts field
// carries (or from a bare JSON literal when no type prefix is present).
package atoms

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a single concrete argument value, or the materialized whole of
// a composite (sequence/range) atom when a modification parameter consumes
// it as one argument instead of expanding it into separate tests.
type Value struct {
	Absent bool
	IsInt  bool
	Int    int64
	Str    string

	// IsList marks a composite value: the full contents of a seq_int,
	// seq_str, or range atom, carried whole rather than expanded.
	IsList bool
	Ints   []int64
	Strs   []string
}

func IntValue(v int64) Value  { return Value{IsInt: true, Int: v} }
func StrValue(v string) Value { return Value{Str: v} }
func AbsentValue() Value      { return Value{Absent: true} }

func (v Value) String() string {
	switch {
	case v.Absent:
		return "none"
	case v.IsList && v.Ints != nil:
		return fmt.Sprintf("%v", v.Ints)
	case v.IsList:
		return fmt.Sprintf("%v", v.Strs)
	case v.IsInt:
		return strconv.FormatInt(v.Int, 10)
	default:
		return v.Str
	}
}

// Atom is a generator of one or more concrete argument values.
type Atom interface {
	// Enumerate returns each value this atom yields, in order. Used by
	// expanding (non-composite) modification parameters: cardinality > 1
	// multiplies the number of concrete tests.
	Enumerate() []Value
	// Whole returns the atom's entire contents as one Value. Used by
	// composite modification parameters (declared kind seq_int/seq_str/
	// range_int) that consume the full list/range as a single argument
	// with no test expansion.
	Whole() Value
}

// Scalar yields exactly one value.
type Scalar struct{ V Value }

func (s Scalar) Enumerate() []Value { return []Value{s.V} }
func (s Scalar) Whole() Value       { return s.V }

// Absent yields the single absent value.
type Absent struct{}

func (Absent) Enumerate() []Value { return []Value{AbsentValue()} }
func (Absent) Whole() Value       { return AbsentValue() }

// SeqInt yields each int in order.
type SeqInt struct{ Vs []int64 }

func (s SeqInt) Enumerate() []Value {
	out := make([]Value, len(s.Vs))
	for i, v := range s.Vs {
		out[i] = IntValue(v)
	}
	return out
}
func (s SeqInt) Whole() Value { return Value{IsList: true, Ints: append([]int64(nil), s.Vs...)} }

// SeqStr yields each token in order.
type SeqStr struct{ Vs []string }

func (s SeqStr) Enumerate() []Value {
	out := make([]Value, len(s.Vs))
	for i, v := range s.Vs {
		out[i] = StrValue(v)
	}
	return out
}
func (s SeqStr) Whole() Value { return Value{IsList: true, Strs: append([]string(nil), s.Vs...)} }

// Range yields start, start+step, ... while < stop (or > stop when step < 0).
type Range struct {
	Start, Stop, Step int64
}

func (r Range) values() []int64 {
	step := r.Step
	if step == 0 {
		step = 1
	}
	var out []int64
	if step > 0 {
		for v := r.Start; v < r.Stop; v += step {
			out = append(out, v)
		}
	} else {
		for v := r.Start; v > r.Stop; v += step {
			out = append(out, v)
		}
	}
	return out
}

func (r Range) Enumerate() []Value {
	vs := r.values()
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = IntValue(v)
	}
	return out
}
func (r Range) Whole() Value { return Value{IsList: true, Ints: r.values()} }

// ParseModOpt parses one mod_opts entry — a JSON number, or a string that
// is either a typed-atom expression ("range 50 151 50") or, absent a
// recognized type keyword, a bare literal scalar.
func ParseModOpt(raw any) (Atom, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("mod_opts numeric literal %v is not an integer", v)
		}
		return Scalar{V: IntValue(int64(v))}, nil
	case string:
		return parseString(v)
	default:
		return nil, fmt.Errorf("mod_opts entry must be a number or string, got %T", raw)
	}
}

func parseString(s string) (Atom, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty mod_opts token")
	}

	switch fields[0] {
	case "none":
		if len(fields) != 1 {
			return nil, fmt.Errorf("none takes no tokens, got %q", s)
		}
		return Absent{}, nil

	case "int":
		if len(fields) != 2 {
			return nil, fmt.Errorf("int expects exactly one token, got %q", s)
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int: %w", err)
		}
		return Scalar{V: IntValue(n)}, nil

	case "str":
		if len(fields) != 2 {
			return nil, fmt.Errorf("str expects exactly one token, got %q", s)
		}
		return Scalar{V: StrValue(fields[1])}, nil

	case "seq_int":
		if len(fields) < 2 {
			return nil, fmt.Errorf("seq_int expects at least one token, got %q", s)
		}
		vs := make([]int64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("seq_int: %w", err)
			}
			vs = append(vs, n)
		}
		return SeqInt{Vs: vs}, nil

	case "seq_str":
		if len(fields) < 2 {
			return nil, fmt.Errorf("seq_str expects at least one token, got %q", s)
		}
		return SeqStr{Vs: append([]string(nil), fields[1:]...)}, nil

	case "range":
		return parseRange(fields[1:])

	default:
		// No recognized prefix: the raw literal is a scalar of its natural kind.
		return Scalar{V: StrValue(s)}, nil
	}
}

func parseRange(tokens []string) (Atom, error) {
	ints := make([]int64, len(tokens))
	for i, t := range tokens {
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("range: %w", err)
		}
		ints[i] = n
	}
	switch len(ints) {
	case 1:
		return Range{Start: 0, Stop: ints[0], Step: 1}, nil
	case 2:
		return Range{Start: ints[0], Stop: ints[1], Step: 1}, nil
	case 3:
		return Range{Start: ints[0], Stop: ints[1], Step: ints[2]}, nil
	default:
		return nil, fmt.Errorf("range takes 1-3 tokens, got %d", len(ints))
	}
}
