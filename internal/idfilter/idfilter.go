// Package idfilter implements ID Filter: a predicate plus enumerator over a
// single dataset identifier, recognizing either an integer half-open range
// (with an optional explicit value set) or a closed set of string values.
// Grounded in the original LSST ctrl_sched joboffice/id.py IDFilter /
// StringIDFilter / IntegerIDFilter classes, reworked as Go interface +
// structs instead of a Python class-with-classLookup-registry.
package idfilter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrNotClosed is returned by AllowedValues when the filter's value set is
// not finite (HasStaticValueSet reports false).
var ErrNotClosed = errors.New("idfilter: identifier set is not closed")

// IDFilter recognizes an identifier matching a set of constraints and,
// when its value set is closed, can enumerate every value it recognizes.
type IDFilter interface {
	// Name is the input identifier name this filter is registered under.
	Name() string
	// OutName is the identifier name to use for the recognized value;
	// defaults to Name when not overridden.
	OutName() string
	// HasStaticValueSet reports whether AllowedValues is guaranteed to
	// succeed: the filter describes a finite, closed set of values.
	HasStaticValueSet() bool
	// IsUnconstrained reports whether the filter has no constraint, in
	// which case Recognize accepts every value of its kind (for Integer,
	// every value convertible to an int), HasStaticValueSet is false and
	// AllowedValues returns ErrNotClosed.
	IsUnconstrained() bool
	// Recognize returns the coerced value and true if v is accepted, or
	// (nil, false) if not.
	Recognize(v interface{}) (interface{}, bool)
	// AllowedValues returns every value Recognize will accept, sorted.
	// It returns ErrNotClosed if HasStaticValueSet is false.
	AllowedValues() ([]interface{}, error)
}

// Config is the factory record used to build an IDFilter from
// configuration, mirroring the recognized "id" policy options. The
// mapstructure tags let a TriggerSpec decode its id-filter list straight
// off YAML into Configs without an intermediate shape.
type Config struct {
	// ClassName is "Integer" or "String" (fully-qualified names are not
	// supported; no user plugin registry in this module).
	ClassName string        `mapstructure:"class_name"`
	Name      string        `mapstructure:"name"`
	OutName   string        `mapstructure:"out_name"`
	Min       *int          `mapstructure:"min"`
	Lim       *int          `mapstructure:"lim"`
	Values    []interface{} `mapstructure:"values"`
}

// registry of constructors keyed by ClassName, replacing the Python
// classLookup dict keyed by the same strings ("Integer"/"IntegerIDFilter",
// "String"/"StringIDFilter").
var registry = map[string]func(Config) (IDFilter, error){}

func init() {
	registry["Integer"] = newIntegerFromConfig
	registry["IntegerIDFilter"] = newIntegerFromConfig
	registry["String"] = newStringFromConfig
	registry["StringIDFilter"] = newStringFromConfig
}

// FromConfig builds an IDFilter from a configuration record, picking the
// variant named by ClassName. When ClassName is empty it infers Integer if
// Min/Lim are set, else String; the types of Values are not consulted, so
// integer Values without Min/Lim or ClassName select String and fail.
func FromConfig(cfg Config) (IDFilter, error) {
	class := cfg.ClassName
	if class == "" {
		if cfg.Min != nil || cfg.Lim != nil {
			class = "Integer"
		} else {
			class = "String"
		}
	}
	ctor, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("idfilter: unrecognized className %q", class)
	}
	return ctor(cfg)
}

type base struct {
	name    string
	outname string
	static  bool
}

func (b base) Name() string             { return b.name }
func (b base) OutName() string          { return b.outname }
func (b base) HasStaticValueSet() bool  { return b.static }

func outNameOrDefault(name, outname string) string {
	if outname == "" {
		return name
	}
	return outname
}

// IntegerIDFilter recognizes an integer identifier within [Min, Lim) or
// within an explicit set of Values (or both).
type IntegerIDFilter struct {
	base
	min, lim *int
	values   map[int]struct{}
}

// NewInteger constructs an IntegerIDFilter directly. isStaticSet is honored
// unless the computed constraints force it: a half-open range (exactly one
// of min/lim set) or no constraint at all is never static, matching the
// original's automatic isstatic-downgrade rules.
func NewInteger(name string, min, lim *int, values []int, isStaticSet bool) *IntegerIDFilter {
	f := &IntegerIDFilter{base: base{name: name, outname: name, static: isStaticSet}, min: min, lim: lim}
	if len(values) > 0 {
		f.values = make(map[int]struct{}, len(values))
		for _, v := range values {
			f.values[v] = struct{}{}
		}
	}
	if (min != nil) != (lim != nil) {
		f.static = false
	}
	if f.IsUnconstrained() {
		f.static = false
	}
	return f
}

func newIntegerFromConfig(cfg Config) (IDFilter, error) {
	var vals []int
	for _, v := range cfg.Values {
		iv, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("idfilter: non-integer value given for values: %w", err)
		}
		vals = append(vals, iv)
	}
	f := NewInteger(cfg.Name, cfg.Min, cfg.Lim, vals, true)
	f.outname = outNameOrDefault(cfg.Name, cfg.OutName)
	return f, nil
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func (f *IntegerIDFilter) IsUnconstrained() bool {
	return len(f.values) == 0 && f.min == nil && f.lim == nil
}

func (f *IntegerIDFilter) Recognize(v interface{}) (interface{}, bool) {
	iv, err := toInt(v)
	if err != nil {
		return nil, false
	}
	if f.IsUnconstrained() {
		return iv, true
	}
	if f.min != nil || f.lim != nil {
		switch {
		case f.lim == nil && iv >= *f.min:
			return iv, true
		case f.min == nil && iv < *f.lim:
			return iv, true
		case f.min != nil && f.lim != nil && iv >= *f.min && iv < *f.lim:
			return iv, true
		}
	}
	if _, ok := f.values[iv]; ok {
		return iv, true
	}
	return nil, false
}

func (f *IntegerIDFilter) AllowedValues() ([]interface{}, error) {
	if !f.HasStaticValueSet() {
		return nil, fmt.Errorf("idfilter %s: %w", f.name, ErrNotClosed)
	}
	nones := 0
	if f.min == nil {
		nones++
	}
	if f.lim == nil {
		nones++
	}
	if nones == 1 {
		return nil, fmt.Errorf("idfilter %s: %w", f.name, ErrNotClosed)
	}
	var out []int
	if nones == 0 {
		for i := *f.min; i < *f.lim; i++ {
			out = append(out, i)
		}
	}
	for v := range f.values {
		out = append(out, v)
	}
	sort.Ints(out)
	result := make([]interface{}, len(out))
	for i, v := range out {
		result[i] = v
	}
	return result, nil
}

// StringIDFilter recognizes a string identifier within a closed set of
// Values, or any string when Values is empty (unconstrained).
type StringIDFilter struct {
	base
	values map[string]struct{}
}

// NewString constructs a StringIDFilter directly.
func NewString(name string, values []string, isStaticSet bool) *StringIDFilter {
	f := &StringIDFilter{base: base{name: name, outname: name, static: isStaticSet}}
	if len(values) > 0 {
		f.values = make(map[string]struct{}, len(values))
		for _, v := range values {
			f.values[v] = struct{}{}
		}
	}
	if f.IsUnconstrained() {
		f.static = false
	}
	return f
}

func newStringFromConfig(cfg Config) (IDFilter, error) {
	var vals []string
	for _, v := range cfg.Values {
		sv, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("idfilter: non-string value(s) given for values")
		}
		vals = append(vals, sv)
	}
	f := NewString(cfg.Name, vals, true)
	f.outname = outNameOrDefault(cfg.Name, cfg.OutName)
	return f, nil
}

func (f *StringIDFilter) IsUnconstrained() bool { return len(f.values) == 0 }

func (f *StringIDFilter) Recognize(v interface{}) (interface{}, bool) {
	sv := fmt.Sprintf("%v", v)
	if f.IsUnconstrained() {
		return sv, true
	}
	if _, ok := f.values[sv]; ok {
		return sv, true
	}
	return nil, false
}

func (f *StringIDFilter) AllowedValues() ([]interface{}, error) {
	if !f.HasStaticValueSet() {
		return nil, fmt.Errorf("idfilter %s: %w", f.name, ErrNotClosed)
	}
	var out []string
	for v := range f.values {
		out = append(out, v)
	}
	sort.Strings(out)
	result := make([]interface{}, len(out))
	for i, v := range out {
		result[i] = v
	}
	return result, nil
}
