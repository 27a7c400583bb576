package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/store"
)

const tableLogPrefix = "db:table"

// Querier is the subset of *pgxpool.Pool used by Table.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// beginner is satisfied by *pgxpool.Pool and by pgx.Tx, where Begin opens a
// savepoint.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const uniqueViolation = "23505"

// Table is a store.Store over one Postgres table.
type Table struct {
	db    Querier
	model *Model
}

var (
	_ store.Store    = (*Table)(nil)
	_ store.Upserter = (*Table)(nil)
)

// NewTable returns a store for model m backed by db.
func NewTable(db Querier, m *Model) (*Table, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Table{db: db, model: m}, nil
}

// Model returns the table's model.
func (t *Table) Model() *Model {
	return t.model
}

// WithTx returns a copy of the table whose statements run in tx. Its writes
// are committed or rolled back with tx instead of one statement at a time.
func (t *Table) WithTx(tx pgx.Tx) *Table {
	return &Table{db: tx, model: t.model}
}

// InTx runs fn against a copy of the table bound to a new transaction and
// commits when fn returns nil. Inside WithTx the transaction is a savepoint.
func (t *Table) InTx(ctx context.Context, fn func(*Table) error) error {
	b, ok := t.db.(beginner)
	if !ok {
		return fmt.Errorf("%s - %s: querier cannot begin a transaction", tableLogPrefix, t.model.Table)
	}
	return pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error {
		return fn(t.WithTx(tx))
	})
}

// Fetch implements store.Store.
func (t *Table) Fetch(ctx context.Context, criteria record.Record, limit, offset int) ([]record.Recorder, int, error) {
	countQuery, query, args, err := t.model.buildFetch(criteria, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := t.db.QueryRow(ctx, countQuery, args[:len(criteria)]...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - count %s failed: %w", tableLogPrefix, t.model.Table, err)
	}

	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - fetch %s failed: %w", tableLogPrefix, t.model.Table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - scan %s failed: %w", tableLogPrefix, t.model.Table, err)
	}

	out := make([]record.Recorder, 0, len(maps))
	for _, m := range maps {
		out = append(out, NewRow(t.model, m))
	}
	return out, total, nil
}

// Get implements store.Store.
func (t *Table) Get(ctx context.Context, id any) (record.Recorder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		t.model.selectList(), quoteIdent(t.model.Table), quoteIdent(t.model.pk()))
	return t.one(ctx, "get", query, id)
}

// Create implements store.Store.
func (t *Table) Create(ctx context.Context, values record.Record) (record.Recorder, error) {
	query, args, err := t.model.buildInsert(values)
	if err != nil {
		return nil, err
	}
	row, err := t.one(ctx, "create", query, args...)
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - Created row in %s", tableLogPrefix, t.model.Table))
	return row, nil
}

// Update implements store.Store.
func (t *Table) Update(ctx context.Context, id any, values record.Record) (record.Recorder, error) {
	query, args, err := t.model.buildUpdate(id, values)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return t.Get(ctx, id)
	}
	return t.one(ctx, "update", query, args...)
}

// Delete implements store.Store.
func (t *Table) Delete(ctx context.Context, id any) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, quoteIdent(t.model.Table), quoteIdent(t.model.pk()))
	tag, err := t.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s - delete from %s failed: %w", tableLogPrefix, t.model.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetOrCreate implements store.Upserter. The matching row is locked with
// SELECT ... FOR UPDATE; a concurrent insert of the same row is absorbed by
// ON CONFLICT DO NOTHING and the winner's row is returned.
func (t *Table) GetOrCreate(ctx context.Context, match, defaults record.Record) (record.Recorder, bool, error) {
	var row record.Recorder
	var created bool
	err := t.InTx(ctx, func(tx *Table) error {
		var err error
		row, created, err = tx.lockOrInsert(ctx, match, defaults)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}

// UpdateOrCreate implements store.Upserter.
func (t *Table) UpdateOrCreate(ctx context.Context, match, defaults record.Record) (record.Recorder, bool, error) {
	var row record.Recorder
	var created bool
	err := t.InTx(ctx, func(tx *Table) error {
		var err error
		row, created, err = tx.lockOrInsert(ctx, match, defaults)
		if err != nil || created || len(defaults) == 0 {
			return err
		}
		current, err := row.ToRecord()
		if err != nil {
			return err
		}
		row, err = tx.Update(ctx, current[t.model.pk()], defaults)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}

func (t *Table) lockOrInsert(ctx context.Context, match, defaults record.Record) (record.Recorder, bool, error) {
	lock, lockArgs, err := t.model.buildLockFirst(match)
	if err != nil {
		return nil, false, err
	}
	row, err := t.one(ctx, "lock", lock, lockArgs...)
	if !errors.Is(err, store.ErrNotFound) {
		return row, false, err
	}

	insert, args, err := t.model.buildInsertIgnore(store.Merge(match, defaults))
	if err != nil {
		return nil, false, err
	}
	row, err = t.one(ctx, "create", insert, args...)
	if !errors.Is(err, store.ErrNotFound) {
		return row, err == nil, err
	}

	// The insert lost to a concurrent one; that row is now visible.
	row, err = t.one(ctx, "lock", lock, lockArgs...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("%s - create %s: %w", tableLogPrefix, t.model.Table, store.ErrConflict)
	}
	return row, false, err
}

func (t *Table) one(ctx context.Context, op, query string, args ...any) (record.Recorder, error) {
	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, t.failed(op, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, t.failed(op, err)
	}
	return NewRow(t.model, m), nil
}

// failed wraps a query error; unique violations become store.ErrConflict.
func (t *Table) failed(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s - %s %s failed: %w (%s)", tableLogPrefix, op, t.model.Table, store.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s - %s %s failed: %w", tableLogPrefix, op, t.model.Table, err)
}

// buildFetch returns the count and data queries for criteria. The first
// len(criteria) args belong to the count query.
func (m *Model) buildFetch(criteria record.Record, limit, offset int) (string, string, []any, error) {
	where, args, err := m.where(criteria)
	if err != nil {
		return "", "", nil, err
	}
	table := quoteIdent(m.Table)
	countQuery := fmt.Sprintf(`SELECT COUNT(*)::int FROM %s%s`, table, where)

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`, m.selectList(), table, where, quoteIdent(m.pk()))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return countQuery, query, args, nil
}

func (m *Model) where(criteria record.Record) (string, []any, error) {
	if len(criteria) == 0 {
		return "", nil, nil
	}
	var clauses []string
	var args []any
	for _, name := range criteria.Keys() {
		if !m.HasColumn(name) {
			return "", nil, fmt.Errorf("%s - %s has no column %q", tableLogPrefix, m.Table, name)
		}
		args = append(args, criteria[name])
		clauses = append(clauses, fmt.Sprintf(`%s = $%d`, quoteIdent(name), len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (m *Model) buildInsert(values record.Record) (string, []any, error) {
	return m.insert(values, "")
}

// buildInsertIgnore returns no row when the insert hits a unique constraint.
func (m *Model) buildInsertIgnore(values record.Record) (string, []any, error) {
	return m.insert(values, " ON CONFLICT DO NOTHING")
}

func (m *Model) insert(values record.Record, onConflict string) (string, []any, error) {
	var cols, params []string
	var args []any
	for _, name := range values.Keys() {
		if !m.HasColumn(name) {
			return "", nil, fmt.Errorf("%s - %s has no column %q", tableLogPrefix, m.Table, name)
		}
		if name == m.pk() && values[name] == nil {
			continue
		}
		args = append(args, values[name])
		cols = append(cols, quoteIdent(name))
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}
	table := quoteIdent(m.Table)
	if len(cols) == 0 {
		return fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES%s RETURNING %s`, table, onConflict, m.selectList()), nil, nil
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)%s RETURNING %s`,
		table, strings.Join(cols, ", "), strings.Join(params, ", "), onConflict, m.selectList()), args, nil
}

// buildLockFirst selects and locks the first row matching criteria.
func (m *Model) buildLockFirst(criteria record.Record) (string, []any, error) {
	where, args, err := m.where(criteria)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s LIMIT 1 FOR UPDATE`,
		m.selectList(), quoteIdent(m.Table), where, quoteIdent(m.pk())), args, nil
}

// buildUpdate returns an empty query when there is nothing to change.
func (m *Model) buildUpdate(id any, values record.Record) (string, []any, error) {
	var sets []string
	args := []any{id}
	for _, name := range values.Keys() {
		if name == m.pk() {
			continue
		}
		if !m.HasColumn(name) {
			return "", nil, fmt.Errorf("%s - %s has no column %q", tableLogPrefix, m.Table, name)
		}
		args = append(args, values[name])
		sets = append(sets, fmt.Sprintf(`%s = $%d`, quoteIdent(name), len(args)))
	}
	if len(sets) == 0 {
		return "", nil, nil
	}
	if m.Timestamps {
		sets = append(sets, fmt.Sprintf(`%s = NOW()`, quoteIdent(ColumnUpdatedTime)))
	}
	return fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1 RETURNING %s`,
		quoteIdent(m.Table), strings.Join(sets, ", "), quoteIdent(m.pk()), m.selectList()), args, nil
}
