// Package record defines the structured record exchanged between the wire codec,
// the schema validator, filters and the persistence layer.
package record

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Record maps field names to scalar, nested record, or list values.
type Record map[string]any

// Recorder is implemented by anything that can be serialized into a Record,
// such as persisted model rows and validated schema objects.
type Recorder interface {
	ToRecord() (Record, error)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the record's field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the field is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Int returns the field as an int. Numeric strings are accepted.
// ok is false when the field is absent or not integral.
func (r Record) Int(key string) (int, bool) {
	v, present := r[key]
	if !present {
		return 0, false
	}
	n, err := ToInt64(v)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// ToInt64 converts integral Go values and numeric strings to int64.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%T is not an integer", v)
	}
}

// ToFloat64 converts numeric Go values and numeric strings to float64.
func ToFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		i, err := ToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("%T is not a number", v)
		}
		return float64(i), nil
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}
