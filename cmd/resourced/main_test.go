package main

import (
	"strings"
	"testing"

	"github.com/morezero/resource-rpc/pkg/db"
)

const mainTestPrefix = "cmd/resourced:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "ensure-db", "clear", "seed", "DATABASE_URL", "STORE_DRIVER"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestModels_Sorted(t *testing.T) {
	ms := models()
	if len(ms) == 0 {
		t.Fatalf("%s - no models", mainTestPrefix)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Table > ms[i].Table {
			t.Errorf("%s - models not sorted: %s before %s", mainTestPrefix, ms[i-1].Table, ms[i].Table)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	out := formatStatus(db.Status{Present: []string{"todos"}})
	if !strings.Contains(out, "applied") || !strings.Contains(out, "todos") {
		t.Errorf("%s - unexpected status output %q", mainTestPrefix, out)
	}
	out = formatStatus(db.Status{Missing: []string{"todos"}})
	if !strings.Contains(out, "pending") || !strings.Contains(out, "missing") {
		t.Errorf("%s - unexpected status output %q", mainTestPrefix, out)
	}
}

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		db      string
		want    string
		wantErr bool
	}{
		{"keeps query", "postgres://u:p@localhost:5432/resources?sslmode=disable", "resources_test", "postgres://u:p@localhost:5432/resources_test?sslmode=disable", false},
		{"empty", "", "x", "", true},
		{"invalid", "postgres://%zz", "x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := databaseURL(tt.base, tt.db)
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s - err = %v, wantErr %v", mainTestPrefix, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("%s - got %q, want %q", mainTestPrefix, got, tt.want)
			}
		})
	}
}
