// Package store defines the persistence collaborator used by resource
// dispatchers, plus an in-memory implementation.
package store

import (
	"context"
	"errors"

	"github.com/morezero/resource-rpc/pkg/record"
)

// ErrNotFound is returned when no instance has the requested primary key.
var ErrNotFound = errors.New("store: instance not found")

// Store reads and writes the persisted instances of one model. Implementations
// are connected before the first dispatch and must be safe for concurrent use.
type Store interface {
	// Fetch returns the instances matching every criteria field by equality,
	// ordered by primary key, together with the total number of matches.
	// A limit <= 0 returns every match after offset.
	Fetch(ctx context.Context, criteria record.Record, limit, offset int) ([]record.Recorder, int, error)
	Get(ctx context.Context, id any) (record.Recorder, error)
	Create(ctx context.Context, values record.Record) (record.Recorder, error)
	// Update changes only the given fields.
	Update(ctx context.Context, id any, values record.Record) (record.Recorder, error)
	Delete(ctx context.Context, id any) error
}
