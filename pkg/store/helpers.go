package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/resource-rpc/pkg/record"
)

// ErrConflict is returned by Create when a unique key is already taken.
var ErrConflict = errors.New("store: instance already exists")

// KeyField is the primary key read from fetched instances by the fallback
// UpdateOrCreate path.
const KeyField = "id"

// Upserter is implemented by stores that can look an instance up and write it
// as one atomic step. GetOrCreate and UpdateOrCreate use it when available.
type Upserter interface {
	// GetOrCreate returns the first instance matching match, or creates one
	// from match overlaid with defaults. created reports which happened.
	GetOrCreate(ctx context.Context, match, defaults record.Record) (row record.Recorder, created bool, err error)
	// UpdateOrCreate applies defaults to the first instance matching match,
	// or creates one from match overlaid with defaults.
	UpdateOrCreate(ctx context.Context, match, defaults record.Record) (row record.Recorder, created bool, err error)
}

// Exists reports whether any instance matches criteria.
func Exists(ctx context.Context, st Store, criteria record.Record) (bool, error) {
	n, err := Count(ctx, st, criteria)
	return n > 0, err
}

// Count returns the number of instances matching criteria.
func Count(ctx context.Context, st Store, criteria record.Record) (int, error) {
	_, total, err := st.Fetch(ctx, criteria, 1, 0)
	return total, err
}

// First returns the matching instance with the lowest primary key. ok is false
// when nothing matches.
func First(ctx context.Context, st Store, criteria record.Record) (row record.Recorder, ok bool, err error) {
	rows, _, err := st.Fetch(ctx, criteria, 1, 0)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// FirstOrError is First, failing with ErrNotFound when nothing matches.
func FirstOrError(ctx context.Context, st Store, criteria record.Record) (record.Recorder, error) {
	row, ok, err := First(ctx, st, criteria)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return row, nil
}

// CreateOrFirst creates values, or returns the first instance matching values
// when the create conflicts with an existing one.
func CreateOrFirst(ctx context.Context, st Store, values record.Record) (record.Recorder, error) {
	row, err := st.Create(ctx, values)
	if errors.Is(err, ErrConflict) {
		return FirstOrError(ctx, st, values)
	}
	return row, err
}

// GetOrCreate returns the first instance matching match or creates it.
func GetOrCreate(ctx context.Context, st Store, match, defaults record.Record) (record.Recorder, bool, error) {
	if u, ok := st.(Upserter); ok {
		return u.GetOrCreate(ctx, match, defaults)
	}
	row, found, err := First(ctx, st, match)
	if err != nil || found {
		return row, false, err
	}
	row, err = st.Create(ctx, Merge(match, defaults))
	if errors.Is(err, ErrConflict) {
		row, err = FirstOrError(ctx, st, match)
		return row, false, err
	}
	return row, err == nil, err
}

// UpdateOrCreate updates the first instance matching match with defaults, or
// creates it from both.
func UpdateOrCreate(ctx context.Context, st Store, match, defaults record.Record) (record.Recorder, bool, error) {
	if u, ok := st.(Upserter); ok {
		return u.UpdateOrCreate(ctx, match, defaults)
	}
	row, created, err := GetOrCreate(ctx, st, match, defaults)
	if err != nil || created || len(defaults) == 0 {
		return row, created, err
	}
	current, err := row.ToRecord()
	if err != nil {
		return nil, false, err
	}
	id, ok := current[KeyField]
	if !ok {
		return nil, false, fmt.Errorf("store: instance has no %q to update", KeyField)
	}
	row, err = st.Update(ctx, id, defaults)
	return row, false, err
}

// Merge returns a copy of base with the fields of top laid over it.
func Merge(base, top record.Record) record.Record {
	out := base.Clone()
	if out == nil {
		out = record.Record{}
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}
