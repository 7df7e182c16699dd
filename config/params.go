// Package config holds the parameter bundle that drives a training run: a loosely
// typed map of option names to values, with typed accessors, file loaders (JSON,
// HCL, gob) and persistence of the bundle next to the model it produced.
package config

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Params maps option names (e.g. "MAX_EPOCH") to values. Values decoded from
// files are normalised to int64, float64, bool, string, []any and map[string]any;
// values set from Go code may use any numeric type.
type Params map[string]any

// Has reports whether key is present, even when it holds nil.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Set stores value under key.
func (p Params) Set(key string, value any) {
	p[key] = value
}

// Get returns the raw value for key or ErrMissingParam.
func (p Params) Get(key string) (any, error) {
	v, ok := p[key]
	if !ok {
		return nil, errors.Wrapf(ErrMissingParam, "%s", key)
	}
	return v, nil
}

// Keys returns all keys in lexicographic order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the bundle.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into p, overwriting existing values.
func (p Params) Merge(other Params) Params {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Int returns the value of a required integer key.
func (p Params) Int(key string) (int, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	return toInt(key, v)
}

// IntOr returns the integer under key, or def when the key is absent or nil.
func (p Params) IntOr(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	return toInt(key, v)
}

// OptionalInt returns nil when key is absent or nil.
func (p Params) OptionalInt(key string) (*int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	i, err := toInt(key, v)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// Float returns the value of a required numeric key.
func (p Params) Float(key string) (float64, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	return toFloat(key, v)
}

// FloatOr returns the number under key, or def when the key is absent or nil.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	return toFloat(key, v)
}

// Bool returns the value of a required boolean key. The integers 0 and 1 are
// accepted as false and true.
func (p Params) Bool(key string) (bool, error) {
	v, err := p.Get(key)
	if err != nil {
		return false, err
	}
	return toBool(key, v)
}

// BoolOr returns the boolean under key, or def when the key is absent or nil.
func (p Params) BoolOr(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	return toBool(key, v)
}

// String returns the value of a required string key.
func (p Params) String(key string) (string, error) {
	v, err := p.Get(key)
	if err != nil {
		return "", err
	}
	return toString(key, v)
}

// StringOr returns the string under key, or def when the key is absent or nil.
func (p Params) StringOr(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	return toString(key, v)
}

// OptionalString returns nil when key is absent or nil.
func (p Params) OptionalString(key string) (*string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := toString(key, v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Strings returns the value of a required string list key.
func (p Params) Strings(key string) ([]string, error) {
	v, err := p.Get(key)
	if err != nil {
		return nil, err
	}
	return toStrings(key, v)
}

// StringsOr returns the string list under key, or def when the key is absent or nil.
func (p Params) StringsOr(key string, def []string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	return toStrings(key, v)
}

// IntsOr returns the integer list under key, or def when the key is absent or nil.
func (p Params) IntsOr(key string, def []int) ([]int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case []int:
		return t, nil
	case []any:
		out := make([]int, len(t))
		for i, e := range t {
			n, err := toInt(key, e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, typeErr(key, "[]int", v)
}

func typeErr(key, want string, v any) error {
	return errors.Wrapf(ErrParamType, "%s: want %s, got %T", key, want, v)
}

func toInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float32:
		if float32(math.Trunc(float64(t))) == t {
			return int(t), nil
		}
	case float64:
		if math.Trunc(t) == t {
			return int(t), nil
		}
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
	}
	return 0, typeErr(key, "int", v)
}

func toFloat(key string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
	case string:
		// Values like "1e-9" survive round trips through environment variables.
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, nil
		}
	default:
		if i, err := toInt(key, v); err == nil {
			return float64(i), nil
		}
	}
	return 0, typeErr(key, "float", v)
}

func toBool(key string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b, nil
		}
	default:
		if i, err := toInt(key, v); err == nil && (i == 0 || i == 1) {
			return i == 1, nil
		}
	}
	return false, typeErr(key, "bool", v)
}

func toString(key string, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", typeErr(key, "string", v)
}

func toStrings(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, typeErr(key, "[]string", v)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, typeErr(key, "[]string", v)
}
