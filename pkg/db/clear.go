package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const clearLogPrefix = "db:clear"

// ClearTables truncates the tables of the given models. Schema is preserved;
// RESTART IDENTITY resets the primary key sequences.
func ClearTables(ctx context.Context, db Querier, models ...*Model) error {
	if len(models) == 0 {
		return nil
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = quoteIdent(m.Table)
	}
	slog.Info(fmt.Sprintf("%s - Clearing %d tables", clearLogPrefix, len(names)))

	_, err := db.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s RESTART IDENTITY CASCADE`, strings.Join(names, ", ")))
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Tables cleared", clearLogPrefix))
	return nil
}
