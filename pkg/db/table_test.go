package db

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/store"
)

const tableTestPrefix = "db:table_test"

func todosModel() *Model {
	return &Model{Table: "todos", Columns: []string{"id", "title", "done"}, Timestamps: true}
}

func TestModel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		model   Model
		wantErr bool
	}{
		{"valid", *todosModel(), false},
		{"no table", Model{Columns: []string{"id"}}, true},
		{"no columns", Model{Table: "t"}, true},
		{"missing primary key", Model{Table: "t", Columns: []string{"title"}}, true},
		{"custom primary key", Model{Table: "t", PrimaryKey: "uuid", Columns: []string{"uuid"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.model.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("%s - Validate() error = %v, wantErr %v", tableTestPrefix, err, tt.wantErr)
			}
		})
	}
}

func TestModel_AllColumns(t *testing.T) {
	m := todosModel()
	want := []string{"id", "title", "done", "created_time", "updated_time", "is_active"}
	if got := m.AllColumns(); !reflect.DeepEqual(got, want) {
		t.Errorf("%s - AllColumns = %v, want %v", tableTestPrefix, got, want)
	}
	m.Timestamps = false
	if m.HasColumn("created_time") {
		t.Errorf("%s - created_time should only exist with timestamps", tableTestPrefix)
	}
}

func TestBuildFetch(t *testing.T) {
	m := &Model{Table: "todos", Columns: []string{"id", "title", "done"}}
	tests := []struct {
		name      string
		criteria  record.Record
		limit     int
		offset    int
		wantCount string
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no criteria no limit",
			wantCount: `SELECT COUNT(*)::int FROM "todos"`,
			wantQuery: `SELECT "id", "title", "done" FROM "todos" ORDER BY "id"`,
		},
		{
			name:      "criteria sorted by field",
			criteria:  record.Record{"title": "a", "done": true},
			limit:     10,
			offset:    20,
			wantCount: `SELECT COUNT(*)::int FROM "todos" WHERE "done" = $1 AND "title" = $2`,
			wantQuery: `SELECT "id", "title", "done" FROM "todos" WHERE "done" = $1 AND "title" = $2 ORDER BY "id" LIMIT $3 OFFSET $4`,
			wantArgs:  []any{true, "a", 10, 20},
		},
		{
			name:      "offset without limit",
			offset:    5,
			wantCount: `SELECT COUNT(*)::int FROM "todos"`,
			wantQuery: `SELECT "id", "title", "done" FROM "todos" ORDER BY "id" OFFSET $1`,
			wantArgs:  []any{5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, query, args, err := m.buildFetch(tt.criteria, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", tableTestPrefix, err)
			}
			if count != tt.wantCount {
				t.Errorf("%s - count query = %q, want %q", tableTestPrefix, count, tt.wantCount)
			}
			if query != tt.wantQuery {
				t.Errorf("%s - query = %q, want %q", tableTestPrefix, query, tt.wantQuery)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("%s - args = %v, want %v", tableTestPrefix, args, tt.wantArgs)
			}
		})
	}

	if _, _, _, err := m.buildFetch(record.Record{"owner": "x"}, 0, 0); err == nil {
		t.Errorf("%s - unknown criteria column should fail", tableTestPrefix)
	}
}

func TestBuildInsert(t *testing.T) {
	m := &Model{Table: "todos", Columns: []string{"id", "title", "done"}}

	query, args, err := m.buildInsert(record.Record{"title": "a", "done": false, "id": nil})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", tableTestPrefix, err)
	}
	want := `INSERT INTO "todos" ("done", "title") VALUES ($1, $2) RETURNING "id", "title", "done"`
	if query != want {
		t.Errorf("%s - query = %q, want %q", tableTestPrefix, query, want)
	}
	if !reflect.DeepEqual(args, []any{false, "a"}) {
		t.Errorf("%s - args = %v", tableTestPrefix, args)
	}

	query, args, _ = m.buildInsert(record.Record{})
	if query != `INSERT INTO "todos" DEFAULT VALUES RETURNING "id", "title", "done"` || args != nil {
		t.Errorf("%s - empty insert = %q %v", tableTestPrefix, query, args)
	}

	if _, _, err := m.buildInsert(record.Record{"owner": "x"}); err == nil {
		t.Errorf("%s - unknown column should fail", tableTestPrefix)
	}
}

func TestBuildInsertIgnore(t *testing.T) {
	m := &Model{Table: "todos", Columns: []string{"id", "title", "done"}}
	tests := []struct {
		name   string
		values record.Record
		want   string
	}{
		{"values", record.Record{"id": int64(4), "title": "a"},
			`INSERT INTO "todos" ("id", "title") VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING "id", "title", "done"`},
		{"defaults", record.Record{},
			`INSERT INTO "todos" DEFAULT VALUES ON CONFLICT DO NOTHING RETURNING "id", "title", "done"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, _, err := m.buildInsertIgnore(tt.values)
			if err != nil || query != tt.want {
				t.Errorf("%s - query = %q, %v; want %q", tableTestPrefix, query, err, tt.want)
			}
		})
	}
}

func TestBuildLockFirst(t *testing.T) {
	m := &Model{Table: "todos", Columns: []string{"id", "title", "done"}}

	query, args, err := m.buildLockFirst(record.Record{"title": "a"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", tableTestPrefix, err)
	}
	want := `SELECT "id", "title", "done" FROM "todos" WHERE "title" = $1 ORDER BY "id" LIMIT 1 FOR UPDATE`
	if query != want || !reflect.DeepEqual(args, []any{"a"}) {
		t.Errorf("%s - query = %q %v, want %q", tableTestPrefix, query, args, want)
	}
	if _, _, err := m.buildLockFirst(record.Record{"owner": "x"}); err == nil {
		t.Errorf("%s - unknown column should fail", tableTestPrefix)
	}
}

func TestTable_InTxNeedsBeginner(t *testing.T) {
	table, err := NewTable(&fakeQuerier{}, todosModel())
	if err != nil {
		t.Fatalf("%s - NewTable: %v", tableTestPrefix, err)
	}
	if _, _, err := table.GetOrCreate(context.Background(), record.Record{"title": "a"}, nil); err == nil {
		t.Errorf("%s - expected an error from a querier without transactions", tableTestPrefix)
	}
}

func TestTable_ConflictError(t *testing.T) {
	table, _ := NewTable(&fakeQuerier{}, todosModel())
	err := table.failed("create", &pgconn.PgError{Code: uniqueViolation, ConstraintName: "todos_pkey"})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("%s - unique violation should be ErrConflict, got %v", tableTestPrefix, err)
	}
	if err := table.failed("create", errors.New("boom")); errors.Is(err, store.ErrConflict) {
		t.Errorf("%s - plain errors must not be ErrConflict", tableTestPrefix)
	}
}

func TestBuildUpdate(t *testing.T) {
	m := todosModel()

	query, args, err := m.buildUpdate(int64(3), record.Record{"id": 9, "title": "b"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", tableTestPrefix, err)
	}
	want := `UPDATE "todos" SET "title" = $2, "updated_time" = NOW() WHERE "id" = $1 RETURNING ` +
		`"id", "title", "done", "created_time", "updated_time", "is_active"`
	if query != want {
		t.Errorf("%s - query = %q, want %q", tableTestPrefix, query, want)
	}
	if !reflect.DeepEqual(args, []any{int64(3), "b"}) {
		t.Errorf("%s - args = %v", tableTestPrefix, args)
	}

	query, _, err = m.buildUpdate(int64(3), record.Record{"id": 3})
	if err != nil || query != "" {
		t.Errorf("%s - update without changes = %q, %v; want empty query", tableTestPrefix, query, err)
	}
}

func TestRow(t *testing.T) {
	m := todosModel()
	row := NewRow(m, record.Record{"id": int64(1), "title": "a"})
	r, _ := row.ToRecord()
	r["title"] = "changed"
	again, _ := row.ToRecord()
	if again["title"] != "a" || row.Model() != m {
		t.Errorf("%s - ToRecord must return a copy", tableTestPrefix)
	}
}

func TestNewTable_InvalidModel(t *testing.T) {
	if _, err := NewTable(nil, &Model{Table: "x"}); err == nil {
		t.Errorf("%s - expected error for invalid model", tableTestPrefix)
	}
}
