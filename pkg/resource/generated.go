package resource

import (
	"context"
	"errors"
	"reflect"

	"github.com/morezero/resource-rpc/pkg/action"
	"github.com/morezero/resource-rpc/pkg/events"
	"github.com/morezero/resource-rpc/pkg/paginate"
	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
	"github.com/morezero/resource-rpc/pkg/store"
)

// PrimaryKey is the request field that addresses a single instance.
const PrimaryKey = "id"

// Response is a handler result that already has the shape of the wire response.
// The dispatcher encodes it without passing it through the resource schema.
type Response record.Record

var errNoStore = errors.New("resource has no store")

type generated struct {
	action action.Action
	kind   events.ChangeKind
}

func generatedActions(def *Definition) []generated {
	return []generated{
		{action: action.New("list", listHandler, action.AsList())},
		{action: action.New("get", getHandler(def))},
		{action: action.New("create", createHandler(def), action.WithRequest(def.schema)), kind: events.KindCreated},
		{action: action.New("update", updateHandler(def)), kind: events.KindUpdated},
		{action: action.New("delete", deleteHandler(def)), kind: events.KindDeleted},
	}
}

// listHandler pushes the criteria and the page window down to the store.
func listHandler(_ context.Context, call *action.Call) (any, error) {
	st := call.Store
	if st == nil {
		return nil, errNoStore
	}
	return paginate.Query(func(ctx context.Context, limit, offset int) ([]any, int, error) {
		rows, total, err := st.Fetch(ctx, call.Criteria, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		items := make([]any, len(rows))
		for i, row := range rows {
			items[i] = row
		}
		return items, total, nil
	}), nil
}

func getHandler(def *Definition) action.DirectFunc {
	return func(ctx context.Context, call *action.Call) (any, error) {
		id, err := requireID(def, call)
		if err != nil {
			return nil, err
		}
		row, err := call.Store.Get(ctx, id)
		return row, notFound(def, id, err)
	}
}

func createHandler(def *Definition) action.DirectFunc {
	return func(ctx context.Context, call *action.Call) (any, error) {
		if call.Store == nil {
			return nil, errNoStore
		}
		canonical, err := def.schema.Serialize(call.Input)
		if err != nil {
			return nil, err
		}
		// The primary key is stored only when the request carries one.
		values := record.Record{}
		for _, f := range def.schema.Fields() {
			v, ok := canonical[f.Name]
			if !ok || v == nil {
				continue
			}
			if _, given := call.Record[f.Name]; f.Name == PrimaryKey && !given {
				continue
			}
			values[f.Name] = v
		}
		return call.Store.Create(ctx, values)
	}
}

// updateHandler applies the schema fields present in the request, except the
// primary key. The merged instance must still satisfy the schema.
func updateHandler(def *Definition) action.DirectFunc {
	return func(ctx context.Context, call *action.Call) (any, error) {
		id, err := requireID(def, call)
		if err != nil {
			return nil, err
		}
		current, err := call.Store.Get(ctx, id)
		if err != nil {
			return nil, notFound(def, id, err)
		}
		merged, err := current.ToRecord()
		if err != nil {
			return nil, err
		}
		merged = merged.Clone()

		fields := schemaFields(def, call.Record, false)
		for _, key := range fields {
			merged[key] = call.Record[key]
		}
		obj, err := def.schema.Parse(merged)
		if err != nil {
			return nil, err
		}
		canonical, err := def.schema.Serialize(obj)
		if err != nil {
			return nil, err
		}

		changes := record.Record{}
		for _, key := range fields {
			changes[key] = canonical[key]
		}
		row, err := call.Store.Update(ctx, id, changes)
		return row, notFound(def, id, err)
	}
}

func deleteHandler(def *Definition) action.DirectFunc {
	return func(ctx context.Context, call *action.Call) (any, error) {
		id, err := requireID(def, call)
		if err != nil {
			return nil, err
		}
		if err := call.Store.Delete(ctx, id); err != nil {
			return nil, notFound(def, id, err)
		}
		return Response{"result": true}, nil
	}
}

// requireID returns the request's primary key. When the schema declares an
// integral key, the id is converted to int64 and anything else is a
// VALIDATION_ERROR.
func requireID(def *Definition, call *action.Call) (any, error) {
	if call.Store == nil {
		return nil, errNoStore
	}
	id, ok := call.Record[PrimaryKey]
	if !ok || id == nil {
		return nil, rpcerror.Validation([]rpcerror.FieldError{{Field: PrimaryKey, Message: "is required"}})
	}
	if !integralKey(def) {
		return id, nil
	}
	n, err := record.ToInt64(id)
	if err != nil {
		return nil, rpcerror.Validation([]rpcerror.FieldError{{Field: PrimaryKey, Message: "must be an integer"}})
	}
	return n, nil
}

func integralKey(def *Definition) bool {
	for _, f := range def.schema.Fields() {
		if f.Name != PrimaryKey {
			continue
		}
		t := f.Type
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
		return false
	}
	return false
}

func notFound(def *Definition, id any, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return rpcerror.NotFound("%s %v not found", def.name, id)
	}
	return err
}

// schemaFields lists the schema fields present in r, in schema order.
func schemaFields(def *Definition, r record.Record, withKey bool) []string {
	var out []string
	for _, f := range def.schema.Fields() {
		if f.Name == PrimaryKey && !withKey {
			continue
		}
		if v, ok := r[f.Name]; ok && v != nil {
			out = append(out, f.Name)
		}
	}
	return out
}
