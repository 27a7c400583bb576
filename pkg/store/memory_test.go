package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/resource-rpc/pkg/record"
)

func seed(t *testing.T, m *Memory, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := m.Create(context.Background(), record.Record{"username": n}); err != nil {
			t.Fatalf("store:memory_test - seed %s: %v", n, err)
		}
	}
}

func recordOf(t *testing.T, r record.Recorder) record.Record {
	t.Helper()
	rec, err := r.ToRecord()
	if err != nil {
		t.Fatalf("store:memory_test - ToRecord: %v", err)
	}
	return rec
}

func TestMemory_CreateAssignsIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, _ := m.Create(ctx, record.Record{"username": "a"})
	explicit, err := m.Create(ctx, record.Record{"id": 10, "username": "b"})
	if err != nil {
		t.Fatalf("store:memory_test - unexpected error: %v", err)
	}
	next, _ := m.Create(ctx, record.Record{"username": "c"})

	if recordOf(t, first)["id"] != int64(1) || recordOf(t, explicit)["id"] != int64(10) || recordOf(t, next)["id"] != int64(11) {
		t.Error("store:memory_test - unexpected id assignment")
	}
	if _, err := m.Create(ctx, record.Record{"id": int64(10)}); err == nil {
		t.Error("store:memory_test - expected duplicate id error")
	}
}

func TestMemory_Fetch(t *testing.T) {
	m := NewMemory()
	seed(t, m, "test1", "test2", "test3", "test1")

	tests := []struct {
		name      string
		criteria  record.Record
		limit     int
		offset    int
		wantIDs   []int64
		wantTotal int
	}{
		{"all", nil, 0, 0, []int64{1, 2, 3, 4}, 4},
		{"limit", nil, 2, 0, []int64{1, 2}, 4},
		{"offset", nil, 2, 3, []int64{4}, 4},
		{"offset past end", nil, 2, 9, nil, 4},
		{"criteria", record.Record{"username": "test1"}, 10, 0, []int64{1, 4}, 2},
		{"numeric criteria", record.Record{"id": 2.0}, 10, 0, []int64{2}, 1},
		{"no match", record.Record{"username": "nomatch"}, 10, 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := m.Fetch(context.Background(), tt.criteria, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("store:memory_test - unexpected error: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("store:memory_test - total = %d, want %d", total, tt.wantTotal)
			}
			if len(items) != len(tt.wantIDs) {
				t.Fatalf("store:memory_test - got %d items, want %d", len(items), len(tt.wantIDs))
			}
			for i, item := range items {
				if id := recordOf(t, item)["id"]; id != tt.wantIDs[i] {
					t.Errorf("store:memory_test - items[%d].id = %v, want %d", i, id, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestMemory_FetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewMemory().Fetch(ctx, nil, 10, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("store:memory_test - expected context.Canceled, got %v", err)
	}
}

func TestMemory_UpdateDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seed(t, m, "test1")

	updated, err := m.Update(ctx, "1", record.Record{"id": int64(99), "username": "renamed"})
	if err != nil {
		t.Fatalf("store:memory_test - unexpected error: %v", err)
	}
	rec := recordOf(t, updated)
	if rec["username"] != "renamed" || rec["id"] != int64(1) {
		t.Errorf("store:memory_test - unexpected update result %v", rec)
	}

	if err := m.Delete(ctx, int64(1)); err != nil {
		t.Fatalf("store:memory_test - unexpected delete error: %v", err)
	}
	if _, err := m.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("store:memory_test - expected ErrNotFound, got %v", err)
	}
	if _, err := m.Update(ctx, 1, record.Record{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("store:memory_test - expected ErrNotFound on update, got %v", err)
	}
	if err := m.Delete(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("store:memory_test - expected ErrNotFound on delete, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("store:memory_test - Len() = %d, want 0", m.Len())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	seed(t, m, "test1")
	got, _ := m.Get(context.Background(), 1)
	rec := recordOf(t, got)
	rec["username"] = "mutated"

	again, _ := m.Get(context.Background(), 1)
	if recordOf(t, again)["username"] != "test1" {
		t.Error("store:memory_test - stored row was mutated through a returned record")
	}
}

func TestMemory_Timestamps(t *testing.T) {
	m := NewMemory(WithTimestamps())
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	created, _ := m.Create(context.Background(), record.Record{"username": "a"})
	rec := recordOf(t, created)
	if rec["created_time"] != fixed || rec["updated_time"] != fixed || rec["is_active"] != true {
		t.Errorf("store:memory_test - timestamps not set: %v", rec)
	}

	later := fixed.Add(time.Hour)
	m.now = func() time.Time { return later }
	updated, _ := m.Update(context.Background(), 1, record.Record{"username": "b"})
	rec = recordOf(t, updated)
	if rec["created_time"] != fixed || rec["updated_time"] != later {
		t.Errorf("store:memory_test - updated_time not bumped: %v", rec)
	}
}

func TestMemory_InvalidID(t *testing.T) {
	if _, err := NewMemory().Get(context.Background(), "abc"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("store:memory_test - expected invalid id error, got %v", err)
	}
}
