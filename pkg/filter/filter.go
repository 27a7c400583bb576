// Package filter narrows a decoded request down to the declared filter fields of
// a resource.
package filter

import (
	"fmt"
	"log/slog"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

const logPrefix = "filter:apply"

// Kind is the scalar type a filter value must have.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Spec declares one filterable field.
type Spec struct {
	Field string
	Kind  Kind
}

func String(field string) Spec { return Spec{Field: field, Kind: KindString} }
func Int(field string) Spec    { return Spec{Field: field, Kind: KindInt} }
func Float(field string) Spec  { return Spec{Field: field, Kind: KindFloat} }
func Bool(field string) Spec   { return Spec{Field: field, Kind: KindBool} }

// Policy decides what happens to a present filter value of the wrong type.
type Policy int

const (
	// Drop omits the value from the criteria. It is the default.
	Drop Policy = iota
	// Reject fails the request with FILTER_REJECTED.
	Reject
)

// Apply returns the criteria for r under specs. The result only holds declared
// fields, and every value has the Go type of its Kind: string, int64, float64 or
// bool. Numeric strings are accepted for int and float filters; numbers are never
// turned into strings.
func Apply(r record.Record, specs []Spec, policy Policy) (record.Record, error) {
	criteria := record.Record{}
	for _, spec := range specs {
		raw, ok := r[spec.Field]
		if !ok || raw == nil {
			continue
		}
		v, ok := coerce(raw, spec.Kind)
		if !ok {
			if policy == Reject {
				return nil, rpcerror.FilterRejected(spec.Field, fmt.Sprintf("expected %s, got %T", spec.Kind, raw))
			}
			slog.Debug(fmt.Sprintf("%s - dropping filter %s: expected %s, got %T", logPrefix, spec.Field, spec.Kind, raw))
			continue
		}
		criteria[spec.Field] = v
	}
	return criteria, nil
}

func coerce(v any, kind Kind) (any, bool) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindInt:
		n, err := record.ToInt64(v)
		return n, err == nil
	case KindFloat:
		f, err := record.ToFloat64(v)
		return f, err == nil
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	default:
		return nil, false
	}
}
