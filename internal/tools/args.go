package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// Args is the flat argument map of one tool call. Numbers arrive as float64
// from the protocol layer; json.Number and the integer kinds are accepted too.
type Args map[string]interface{}

// Has reports whether key is present, even with a null value
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// IsNull reports whether key is present with a null value
func (a Args) IsNull(key string) bool {
	v, ok := a[key]
	return ok && v == nil
}

// Int returns the integer under key. ok is false when the key is absent or
// null; err is set when the value is not an integer.
func (a Args) Int(key string) (n int64, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return 0, false, nil
	}
	n, err = toInt(v)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

// String returns the string under key
func (a Args) String(key string) (s string, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, fmt.Errorf("%s must be a string", key)
	}
	return s, true, nil
}

// Bool returns the boolean under key. Non-boolean values follow the usual
// truthiness of JSON scalars.
func (a Args) Bool(key string) (b bool, ok bool) {
	v, present := a[key]
	if !present || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return t != "", true
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	}
	return true, true
}

// Strings returns the string list under key
func (a Args) Strings(key string) (list []string, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return nil, false, nil
	}
	switch t := v.(type) {
	case []string:
		return t, true, nil
	case []interface{}:
		list = make([]string, 0, len(t))
		for _, item := range t {
			s, isString := item.(string)
			if !isString {
				return nil, true, fmt.Errorf("all %s must be strings", key)
			}
			list = append(list, s)
		}
		return list, true, nil
	}
	return nil, true, fmt.Errorf("%s must be a list of strings", key)
}

func toInt(v interface{}) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %s", t)
		}
		return floatToInt(f)
	case float64:
		return floatToInt(t)
	case float32:
		return floatToInt(float64(t))
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("integer out of range: %v", f)
	}
	return int64(f), nil
}
