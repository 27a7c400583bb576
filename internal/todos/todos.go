// Package todos is the example resource served by resourced: a todo list with
// the generated CRUD actions plus toggle and pending.
package todos

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"time"

	"github.com/morezero/resource-rpc/pkg/action"
	"github.com/morezero/resource-rpc/pkg/db"
	"github.com/morezero/resource-rpc/pkg/filter"
	"github.com/morezero/resource-rpc/pkg/paginate"
	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/resource"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
	"github.com/morezero/resource-rpc/pkg/schema"
	"github.com/morezero/resource-rpc/pkg/store"
)

// Name is the resource name.
const Name = "todos"

//go:embed migrations/*.sql
var migrationFiles embed.FS

//go:embed manifest.yaml
var Manifest []byte

// Todo is the todos resource schema.
type Todo struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title" validate:"required,max=200"`
	Done        bool       `json:"done"`
	CreatedTime *time.Time `json:"created_time,omitempty"`
	UpdatedTime *time.Time `json:"updated_time,omitempty"`
}

// Schema validates and serializes todos.
var Schema = schema.For[Todo]()

// Model is the todos table.
var Model = &db.Model{
	Table:      "todos",
	Columns:    []string{"id", "title", "done"},
	Timestamps: true,
}

// Migrations returns the SQL files that create the todos table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(fmt.Sprintf("todos: %v", err))
	}
	return sub
}

// Definition builds the todos resource.
func Definition() (*resource.Definition, error) {
	return resource.Define(Name).
		Version("1.0.0").
		Schema(Schema).
		Filters(filter.String("title"), filter.Bool("done")).
		Action(action.New("toggle", toggle)).
		Action(action.NewLazy("pending", pending, action.AsList())).
		Build()
}

// toggle flips the done flag of one todo.
func toggle(ctx context.Context, call *action.Call) (any, error) {
	id, err := record.ToInt64(call.Record[resource.PrimaryKey])
	if err != nil || id == 0 {
		return nil, rpcerror.Validation([]rpcerror.FieldError{{Field: resource.PrimaryKey, Message: "is required"}})
	}
	row, err := call.Store.Get(ctx, id)
	if err != nil {
		return nil, missing(id, err)
	}
	rec, err := row.ToRecord()
	if err != nil {
		return nil, err
	}
	current, err := Schema.Decode(rec)
	if err != nil {
		return nil, err
	}
	updated, err := call.Store.Update(ctx, id, record.Record{"done": !current.Done})
	if err != nil {
		return nil, missing(id, err)
	}
	return updated, nil
}

// pending lists the todos that are not done, still honoring the title filter.
func pending(_ context.Context, call *action.Call) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		criteria := call.Criteria.Clone()
		if criteria == nil {
			criteria = record.Record{}
		}
		criteria["done"] = false
		yield(paginate.Query(func(ctx context.Context, limit, offset int) ([]any, int, error) {
			rows, total, err := call.Store.Fetch(ctx, criteria, limit, offset)
			if err != nil {
				return nil, 0, err
			}
			items := make([]any, len(rows))
			for i, r := range rows {
				items[i] = r
			}
			return items, total, nil
		}), nil)
	}
}

func missing(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return rpcerror.NotFound("todos %d not found", id)
	}
	return err
}
