package db

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const poolTestPrefix = "db:pool_test"

// fakeQuerier records statements and answers table-existence checks.
type fakeQuerier struct {
	execs   []string
	failAt  int
	present []string
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.failAt > 0 && len(f.execs) == f.failAt {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	table, _ := args[0].(string)
	return existsRow(slices.Contains(f.present, table))
}

type existsRow bool

func (r existsRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = bool(r)
	return nil
}

func TestNewPool_BadURL(t *testing.T) {
	for _, url := range []string{"", "invalid://not-a-valid-database-url"} {
		pool, err := NewPool(context.Background(), url, PoolOptions{MaxConns: 4})
		if err == nil {
			pool.Close()
			t.Fatalf("%s - expected error for %q", poolTestPrefix, url)
		}
		if pool != nil {
			t.Errorf("%s - expected nil pool on error", poolTestPrefix)
		}
	}
}

func TestRunMigrations(t *testing.T) {
	q := &fakeQuerier{}
	if err := RunMigrations(context.Background(), q, []string{"CREATE A", "CREATE B"}); err != nil {
		t.Fatalf("%s - RunMigrations: %v", poolTestPrefix, err)
	}
	if !slices.Equal(q.execs, []string{"CREATE A", "CREATE B"}) {
		t.Errorf("%s - executed %v", poolTestPrefix, q.execs)
	}

	q = &fakeQuerier{failAt: 2}
	err := RunMigrations(context.Background(), q, []string{"CREATE A", "BROKEN", "CREATE C"})
	if err == nil || !strings.Contains(err.Error(), "migration 2") {
		t.Errorf("%s - expected migration 2 to fail, got %v", poolTestPrefix, err)
	}
	if len(q.execs) != 2 {
		t.Errorf("%s - migrations after a failure must not run, executed %v", poolTestPrefix, q.execs)
	}
}

func TestMigrationStatus(t *testing.T) {
	todos := &Model{Table: "todos", Columns: []string{"id"}}
	tags := &Model{Table: "tags", Columns: []string{"id"}}
	q := &fakeQuerier{present: []string{"todos"}}

	st, err := MigrationStatus(context.Background(), q, todos, tags)
	if err != nil {
		t.Fatalf("%s - MigrationStatus: %v", poolTestPrefix, err)
	}
	if !slices.Equal(st.Present, []string{"todos"}) || !slices.Equal(st.Missing, []string{"tags"}) || st.Applied() {
		t.Errorf("%s - unexpected status %+v", poolTestPrefix, st)
	}
	if !(Status{Present: []string{"todos"}}).Applied() {
		t.Errorf("%s - status with no missing tables should be applied", poolTestPrefix)
	}
}

func TestMigrationDown_WritesNote(t *testing.T) {
	var b strings.Builder
	if err := MigrationDown(&b); err != nil {
		t.Errorf("%s - MigrationDown returned %v, want nil", poolTestPrefix, err)
	}
	if !strings.Contains(b.String(), "forward-only") {
		t.Errorf("%s - unexpected output %q", poolTestPrefix, b.String())
	}
}

func TestClearTables(t *testing.T) {
	q := &fakeQuerier{}
	if err := ClearTables(context.Background(), q); err != nil || len(q.execs) != 0 {
		t.Errorf("%s - no models should be a no-op, got %v %v", poolTestPrefix, q.execs, err)
	}

	todos := &Model{Table: "todos", Columns: []string{"id"}}
	tags := &Model{Table: "tags", Columns: []string{"id"}}
	if err := ClearTables(context.Background(), q, todos, tags); err != nil {
		t.Fatalf("%s - ClearTables: %v", poolTestPrefix, err)
	}
	want := `TRUNCATE TABLE "todos", "tags" RESTART IDENTITY CASCADE`
	if len(q.execs) != 1 || q.execs[0] != want {
		t.Errorf("%s - executed %v, want %q", poolTestPrefix, q.execs, want)
	}

	q = &fakeQuerier{failAt: 1}
	if err := ClearTables(context.Background(), q, todos); err == nil {
		t.Errorf("%s - expected truncate error", poolTestPrefix)
	}
}
