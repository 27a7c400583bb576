package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/store"
)

const seedLogPrefix = "db:seed"

// SeedFile loads fixture rows from a YAML (or JSON) file mapping table names to
// lists of rows and writes them through the matching stores. It returns the
// number of rows written.
func SeedFile(ctx context.Context, path string, stores map[string]store.Store) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to read %s: %w", seedLogPrefix, path, err)
	}
	n, err := Seed(ctx, data, stores)
	if err != nil {
		return n, err
	}
	slog.Info(fmt.Sprintf("%s - Seeded %d rows from %s", seedLogPrefix, n, path))
	return n, nil
}

// Seed writes the rows described by data. Tables are seeded in file order. A row
// that carries an id is upserted on it, so seeding the same file twice leaves
// one copy of each such row.
func Seed(ctx context.Context, data []byte, stores map[string]store.Store) (int, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%s - invalid seed file: %w", seedLogPrefix, err)
	}
	if len(doc.Content) == 0 {
		return 0, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return 0, fmt.Errorf("%s - seed file must map table names to rows", seedLogPrefix)
	}

	created := 0
	for i := 0; i+1 < len(root.Content); i += 2 {
		table := root.Content[i].Value
		st, ok := stores[table]
		if !ok {
			return created, fmt.Errorf("%s - unknown table %q", seedLogPrefix, table)
		}
		var rows []map[string]any
		if err := root.Content[i+1].Decode(&rows); err != nil {
			return created, fmt.Errorf("%s - rows for %s: %w", seedLogPrefix, table, err)
		}
		for _, row := range rows {
			if err := seedRow(ctx, st, record.Record(row)); err != nil {
				return created, fmt.Errorf("%s - write to %s: %w", seedLogPrefix, table, err)
			}
			created++
		}
		total, err := store.Count(ctx, st, nil)
		if err != nil {
			return created, fmt.Errorf("%s - count %s: %w", seedLogPrefix, table, err)
		}
		slog.Debug(fmt.Sprintf("%s - %s: %d rows seeded, %d in table", seedLogPrefix, table, len(rows), total))
	}
	return created, nil
}

func seedRow(ctx context.Context, st store.Store, row record.Record) error {
	id, ok := row[store.KeyField]
	if !ok || id == nil {
		_, err := st.Create(ctx, row)
		return err
	}
	rest := row.Clone()
	delete(rest, store.KeyField)
	_, _, err := store.UpdateOrCreate(ctx, st, record.Record{store.KeyField: id}, rest)
	return err
}
