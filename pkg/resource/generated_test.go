package resource

import (
	"testing"

	"github.com/morezero/resource-rpc/pkg/action"
	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
	"github.com/morezero/resource-rpc/pkg/schema"
	"github.com/morezero/resource-rpc/pkg/store"
)

func TestRequireID(t *testing.T) {
	type tag struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	users := usersDef().MustBuild()
	tags := Define("tags").Schema(schema.For[tag]()).MustBuild()

	tests := []struct {
		name     string
		def      *Definition
		id       any
		want     any
		wantCode rpcerror.Code
	}{
		{"int64", users, int64(3), int64(3), ""},
		{"numeric string", users, "7", int64(7), ""},
		{"integral float", users, 2.0, int64(2), ""},
		{"word", users, "abc", nil, rpcerror.CodeValidation},
		{"fraction", users, 1.5, nil, rpcerror.CodeValidation},
		{"missing", users, nil, nil, rpcerror.CodeValidation},
		{"string key passes through", tags, "abc", "abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &action.Call{Record: record.Record{}, Store: store.NewMemory()}
			if tt.id != nil {
				c.Record[PrimaryKey] = tt.id
			}
			got, err := requireID(tt.def, c)
			if rpcerror.CodeOf(err) != tt.wantCode {
				t.Fatalf("resource:generated_test - code = %q, want %q (%v)", rpcerror.CodeOf(err), tt.wantCode, err)
			}
			if got != tt.want {
				t.Errorf("resource:generated_test - id = %#v, want %#v", got, tt.want)
			}
		})
	}
}
