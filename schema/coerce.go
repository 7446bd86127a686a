package schema

import (
	"encoding/json"
	"math"
	"time"

	"github.com/teranos/strata/errors"
)

// Coerce converts v into the canonical Go representation of the attribute's type:
// int64, float64, string, bool or time.Time. nil is always accepted.
// Values decoded from JSON (float64 numbers, RFC 3339 strings) are accepted too.
func (a *Attribute) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch a.Type {
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, errors.Wrapf(err, "attribute %s", a.Name)
			}
			return parsed, nil
		}
	}
	return nil, errors.Newf("attribute %s: cannot use %T as %s", a.Name, v, a.Type)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
