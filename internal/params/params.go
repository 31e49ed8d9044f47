// Package params handles the loosely typed request parameter maps that flow
// from stored source defaults and API callers into collection strategies.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Params is a decoded JSON object of request parameters.
type Params map[string]any

// Decode parses a stored JSON object. Blank input is an empty map.
func Decode(raw string) (Params, error) {
	p := Params{}
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("params: decode: %w", err)
	}
	if p == nil {
		// "null"
		p = Params{}
	}
	return p, nil
}

// Merge returns a new map holding base overlaid with over; over wins on key
// collision.
func Merge(base, over Params) Params {
	out := make(Params, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value at key when it is a string.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// First returns the first present key's value as a string, formatting
// numbers; def when none is present.
func (p Params) First(def string, keys ...string) string {
	for _, k := range keys {
		if !p.Has(k) {
			continue
		}
		switch v := p[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprint(v)
		}
	}
	return def
}

// Number returns the value at key as a float64. Numeric strings are accepted.
// ok is false when the key is missing; err is set when it is present but not
// a number.
func (p Params) Number(key string) (n float64, ok bool, err error) {
	if !p.Has(key) {
		return 0, false, nil
	}
	switch v := p[key].(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		n, err = v.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case bool:
		err = errors.New("boolean is not a number")
	default:
		err = fmt.Errorf("%T is not a number", v)
	}
	if err == nil && (math.IsNaN(n) || math.IsInf(n, 0)) {
		err = errors.New("not a finite number")
	}
	if err != nil {
		return 0, true, fmt.Errorf("params: %s: %w", key, err)
	}
	return n, true, nil
}

// Int is Number truncated to an int, or def when the key is missing or
// malformed.
func (p Params) Int(key string, def int) int {
	n, ok, err := p.Number(key)
	if !ok || err != nil {
		return def
	}
	return int(n)
}
