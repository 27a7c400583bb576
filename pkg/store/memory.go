package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/morezero/resource-rpc/pkg/record"
)

var _ Upserter = (*Memory)(nil)

// Memory is an in-memory Store and Upserter keyed by an auto-incremented int64 "id".
type Memory struct {
	mu     sync.RWMutex
	rows   map[int64]record.Record
	nextID int64
	now    func() time.Time
	stamps bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithTimestamps maintains created_time, updated_time and is_active the way
// timestamped database models do.
func WithTimestamps() MemoryOption {
	return func(m *Memory) { m.stamps = true }
}

// NewMemory creates an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{rows: map[int64]record.Record{}, nextID: 1, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memoryRow record.Record

func (r memoryRow) ToRecord() (record.Record, error) {
	return record.Record(r).Clone(), nil
}

func (m *Memory) Fetch(ctx context.Context, criteria record.Record, limit, offset int) ([]record.Recorder, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.rows))
	for id, row := range m.rows {
		if matches(row, criteria) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]record.Recorder, 0, len(ids))
	for _, id := range ids {
		out = append(out, memoryRow(m.rows[id].Clone()))
	}
	return out, total, nil
}

func (m *Memory) Get(ctx context.Context, id any) (record.Recorder, error) {
	key, err := toKey(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return memoryRow(row.Clone()), nil
}

// Create stores values. An explicit "id" is honoured; otherwise the next free id
// is assigned. A taken id fails with ErrConflict.
func (m *Memory) Create(ctx context.Context, values record.Record) (record.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(values)
}

func (m *Memory) create(values record.Record) (record.Recorder, error) {
	row := values.Clone()
	if row == nil {
		row = record.Record{}
	}
	var key int64
	if raw, ok := row["id"]; ok && raw != nil {
		k, err := toKey(raw)
		if err != nil {
			return nil, err
		}
		if _, exists := m.rows[k]; exists {
			return nil, fmt.Errorf("%w: id %d", ErrConflict, k)
		}
		key = k
	} else {
		for {
			if _, exists := m.rows[m.nextID]; !exists {
				break
			}
			m.nextID++
		}
		key = m.nextID
	}
	if key >= m.nextID {
		m.nextID = key + 1
	}
	row["id"] = key
	if m.stamps {
		now := m.now().UTC()
		row["created_time"] = now
		row["updated_time"] = now
		if _, ok := row["is_active"]; !ok {
			row["is_active"] = true
		}
	}
	m.rows[key] = row
	return memoryRow(row.Clone()), nil
}

func (m *Memory) Update(ctx context.Context, id any, values record.Record) (record.Recorder, error) {
	key, err := toKey(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(key, values)
}

func (m *Memory) update(key int64, values record.Record) (record.Recorder, error) {
	row, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range values {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	if m.stamps {
		row["updated_time"] = m.now().UTC()
	}
	return memoryRow(row.Clone()), nil
}

// GetOrCreate implements Upserter.
func (m *Memory) GetOrCreate(ctx context.Context, match, defaults record.Record) (record.Recorder, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.first(match); ok {
		return memoryRow(m.rows[key].Clone()), false, nil
	}
	row, err := m.create(Merge(match, defaults))
	return row, err == nil, err
}

// UpdateOrCreate implements Upserter.
func (m *Memory) UpdateOrCreate(ctx context.Context, match, defaults record.Record) (record.Recorder, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.first(match); ok {
		row, err := m.update(key, defaults)
		return row, false, err
	}
	row, err := m.create(Merge(match, defaults))
	return row, err == nil, err
}

// first returns the lowest key whose row matches criteria. Callers hold mu.
func (m *Memory) first(criteria record.Record) (int64, bool) {
	var best int64
	found := false
	for id, row := range m.rows {
		if matches(row, criteria) && (!found || id < best) {
			best, found = id, true
		}
	}
	return best, found
}

func (m *Memory) Delete(ctx context.Context, id any) error {
	key, err := toKey(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

// Len returns the number of stored instances.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func toKey(id any) (int64, error) {
	key, err := record.ToInt64(id)
	if err != nil {
		return 0, fmt.Errorf("store: invalid id: %w", err)
	}
	return key, nil
}

func matches(row, criteria record.Record) bool {
	for field, want := range criteria {
		got, ok := row[field]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

// equal compares numbers by value so int32(1), int64(1) and 1.0 match.
func equal(a, b any) bool {
	if fa, err := record.ToFloat64(a); err == nil && isNumber(a) {
		if fb, err := record.ToFloat64(b); err == nil && isNumber(b) {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}
