// Package paginate bounds list results to a limit/offset window and reports the
// total size of the filtered result set.
package paginate

import (
	"context"
	"fmt"
	"reflect"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

// DefaultLimit is the page size used when a request has no positive limit.
const DefaultLimit = 20

// Params is a page window.
type Params struct {
	Limit  int
	Offset int
}

// Normalize applies DefaultLimit to a missing or non-positive limit and clamps
// a negative offset to zero.
func (p Params) Normalize() Params {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ParamsFrom reads limit and offset from a decoded request and normalizes them.
func ParamsFrom(r record.Record) Params {
	var p Params
	if n, ok := r.Int("limit"); ok {
		p.Limit = n
	}
	if n, ok := r.Int("offset"); ok {
		p.Offset = n
	}
	return p.Normalize()
}

// Source produces one window of a result set and the total number of results.
type Source interface {
	Page(ctx context.Context, limit, offset int) (items []any, count int, err error)
}

// Slice is a fully materialized, ordered result set.
type Slice []any

func (s Slice) Page(_ context.Context, limit, offset int) ([]any, int, error) {
	n := len(s)
	offset = max(offset, 0)
	if offset >= n {
		return []any{}, n, nil
	}
	// offset+limit may overflow for very large limits.
	end := n
	if limit < n-offset {
		end = offset + limit
	}
	return append([]any(nil), s[offset:end]...), n, nil
}

// Query adapts a fetch function, typically a persistence read that applies the
// window itself, into a Source.
type Query func(ctx context.Context, limit, offset int) ([]any, int, error)

func (q Query) Page(ctx context.Context, limit, offset int) ([]any, int, error) {
	return q(ctx, limit, offset)
}

// Batch is a window that a handler has already produced. Items start at the
// requested offset; Total is the size of the whole underlying data set.
type Batch struct {
	Items []any
	Total int
}

func (b Batch) Page(_ context.Context, limit, _ int) ([]any, int, error) {
	items := b.Items
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]any{}, items...), b.Total, nil
}

// Page is one bounded window of a list result.
type Page struct {
	Items  []any
	Count  int
	Limit  int
	Offset int
}

// Paginate reads the window p from src. Items that would break
// offset+len(items) <= count are dropped.
func Paginate(ctx context.Context, src Source, p Params) (Page, error) {
	p = p.Normalize()
	items, count, err := src.Page(ctx, p.Limit, p.Offset)
	if err != nil {
		return Page{}, err
	}
	if len(items) > p.Limit {
		items = items[:p.Limit]
	}
	if room := count - p.Offset; len(items) > room {
		items = items[:max(room, 0)]
	}
	if items == nil {
		items = []any{}
	}
	return Page{Items: items, Count: count, Limit: p.Limit, Offset: p.Offset}, nil
}

// SourceOf turns a list handler's result into a Source. It accepts a Source,
// a Batch, nil (an empty result) or any slice.
func SourceOf(v any) (Source, error) {
	switch s := v.(type) {
	case nil:
		return Slice{}, nil
	case *Batch:
		if s == nil {
			return Slice{}, nil
		}
		return *s, nil
	case Source:
		return s, nil
	case []any:
		return Slice(s), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, rpcerror.SchemaMismatch("list result must be a sequence, got %T", v)
	}
	items := make(Slice, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// String implements fmt.Stringer for log output.
func (p Page) String() string {
	return fmt.Sprintf("page(limit=%d offset=%d items=%d count=%d)", p.Limit, p.Offset, len(p.Items), p.Count)
}
