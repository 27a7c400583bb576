package db

import (
	"fmt"
	"slices"
	"strings"

	"github.com/morezero/resource-rpc/pkg/record"
)

// Timestamp columns maintained on models with Timestamps set.
const (
	ColumnCreatedTime = "created_time"
	ColumnUpdatedTime = "updated_time"
	ColumnIsActive    = "is_active"
)

// Model describes a table backing one resource.
type Model struct {
	Table string
	// PrimaryKey defaults to "id". It is generated by the database on insert
	// unless a value is given.
	PrimaryKey string
	// Columns lists the table's data columns, including the primary key.
	Columns []string
	// Timestamps adds created_time, updated_time and is_active.
	Timestamps bool
}

// Validate checks that the model can be used to build queries.
func (m *Model) Validate() error {
	if m.Table == "" {
		return fmt.Errorf("db:model - table name is required")
	}
	if len(m.Columns) == 0 {
		return fmt.Errorf("db:model - %s has no columns", m.Table)
	}
	if !slices.Contains(m.Columns, m.pk()) {
		return fmt.Errorf("db:model - %s columns do not include primary key %q", m.Table, m.pk())
	}
	return nil
}

func (m *Model) pk() string {
	if m.PrimaryKey == "" {
		return "id"
	}
	return m.PrimaryKey
}

// AllColumns returns the data columns followed by the timestamp columns.
func (m *Model) AllColumns() []string {
	cols := slices.Clone(m.Columns)
	if m.Timestamps {
		cols = append(cols, ColumnCreatedTime, ColumnUpdatedTime, ColumnIsActive)
	}
	return cols
}

// HasColumn reports whether name is one of AllColumns.
func (m *Model) HasColumn(name string) bool {
	return slices.Contains(m.AllColumns(), name)
}

func (m *Model) selectList() string {
	cols := m.AllColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// Row is one persisted instance of a Model.
type Row struct {
	model  *Model
	values record.Record
}

// NewRow wraps column values read from the model's table.
func NewRow(m *Model, values record.Record) *Row {
	return &Row{model: m, values: values}
}

// Model returns the model the row belongs to.
func (r *Row) Model() *Model {
	return r.model
}

// ToRecord returns the row's column values.
func (r *Row) ToRecord() (record.Record, error) {
	return r.values.Clone(), nil
}
