package filter

import (
	"reflect"
	"testing"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

func TestApply(t *testing.T) {
	specs := []Spec{String("username"), Int("age"), Float("score"), Bool("active")}

	tests := []struct {
		name string
		req  record.Record
		want record.Record
	}{
		{
			name: "matching values kept",
			req:  record.Record{"username": "test1", "age": int64(3), "score": 1.5, "active": true},
			want: record.Record{"username": "test1", "age": int64(3), "score": 1.5, "active": true},
		},
		{
			name: "undeclared keys never included",
			req:  record.Record{"username": "test1", "limit": int64(10), "password": "x"},
			want: record.Record{"username": "test1"},
		},
		{
			name: "absent declared field yields no criterion",
			req:  record.Record{},
			want: record.Record{},
		},
		{
			name: "numeric strings coerce to numbers",
			req:  record.Record{"age": "42", "score": "2.5"},
			want: record.Record{"age": int64(42), "score": 2.5},
		},
		{
			name: "numbers never coerce to strings",
			req:  record.Record{"username": int64(5)},
			want: record.Record{},
		},
		{
			name: "wrong types dropped",
			req:  record.Record{"age": "abc", "active": "true", "score": false},
			want: record.Record{},
		},
		{
			name: "fractional value is not an int",
			req:  record.Record{"age": 1.5},
			want: record.Record{},
		},
		{
			name: "integral widening",
			req:  record.Record{"age": int32(7), "score": int64(2)},
			want: record.Record{"age": int64(7), "score": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.req, specs, Drop)
			if err != nil {
				t.Fatalf("filter:filter_test - unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filter:filter_test - Apply() = %#v, want %#v", got, tt.want)
			}
			for k := range got {
				if !declared(specs, k) {
					t.Errorf("filter:filter_test - undeclared key %q in criteria", k)
				}
			}
		})
	}
}

func TestApply_Reject(t *testing.T) {
	specs := []Spec{String("username")}

	_, err := Apply(record.Record{"username": int64(1)}, specs, Reject)
	e, ok := rpcerror.As(err)
	if !ok || e.Code != rpcerror.CodeFilterRejected {
		t.Fatalf("filter:filter_test - expected FILTER_REJECTED, got %v", err)
	}
	if len(e.Fields) != 1 || e.Fields[0].Field != "username" {
		t.Errorf("filter:filter_test - unexpected field detail %+v", e.Fields)
	}

	got, err := Apply(record.Record{"username": "ok"}, specs, Reject)
	if err != nil || got["username"] != "ok" {
		t.Errorf("filter:filter_test - valid value rejected: %v %v", got, err)
	}
}

func TestKindString(t *testing.T) {
	if KindFloat.String() != "float" || Kind(99).String() != "Kind(99)" {
		t.Error("filter:filter_test - unexpected Kind names")
	}
}

func declared(specs []Spec, field string) bool {
	for _, s := range specs {
		if s.Field == field {
			return true
		}
	}
	return false
}
