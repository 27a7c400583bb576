// Package main is the entrypoint for resourced, the resource RPC service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/resource-rpc/internal/config"
	"github.com/morezero/resource-rpc/internal/server"
	"github.com/morezero/resource-rpc/pkg/db"
)

const usage = `Usage: resourced [command]
       resourced serve              Start the service (gRPC, COMMS, HTTP health and metrics).
       resourced migrate up         Run database migrations.
       resourced migrate down       Roll back (not supported; migrations are forward-only).
       resourced migrate status     Show which resource tables exist.
       resourced ensure-db [name]   Create database if missing (default name: resources_test). Uses DATABASE_URL host/user.
       resourced clear              Truncate all resource tables; schema is preserved.
       resourced seed <file>        Load rows from a YAML or JSON file keyed by resource name.

Commands:
  serve           (default) Start resourced.
  migrate up      Run database migrations only.
  migrate down    Print the rollback note.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. resources_test) on same host as DATABASE_URL; then run tests with that URL.
  clear           Truncate resource data; schema preserved.
  seed <file>     Seed resources, e.g. {"todos": [{"title": "first"}]}.

Environment: DATABASE_URL, STORE_DRIVER (postgres|memory), MIGRATION_PATH, RUN_MIGRATIONS, COMMS_URL,
GRPC_ADDR (default :9090), HTTP_PORT (default 8080), RESOURCE_MANIFEST_FILE, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("resourced migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("resourced migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("resourced migrate status: %v", err)
			}
		case "down":
			if err := db.MigrationDown(os.Stdout); err != nil {
				log.Fatalf("resourced migrate down: %v", err)
			}
		default:
			log.Fatalf("resourced migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("resourced clear: %v", err)
		}
		return
	case "seed":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("resourced seed: require a seed file")
		}
		if err := runSeed(args[1]); err != nil {
			log.Fatalf("resourced seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "resources_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("resourced ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("resourced: %v", err)
	}
}

// openDB loads config and connects to DATABASE_URL.
func openDB(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

// models returns the resource tables ordered by resource name.
func models() []*db.Model {
	byName := server.Models()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*db.Model, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

func runMigrateUp() error {
	ctx := context.Background()
	cfg, pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrationSQL, err := server.Migrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	ctx := context.Background()
	_, pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := db.MigrationStatus(ctx, pool, models()...)
	if err != nil {
		return err
	}
	fmt.Print(formatStatus(st))
	return nil
}

func formatStatus(st db.Status) string {
	var b strings.Builder
	if st.Applied() {
		b.WriteString("Migration status: applied\n")
	} else {
		b.WriteString("Migration status: pending (run 'resourced migrate up')\n")
	}
	for _, t := range st.Present {
		fmt.Fprintf(&b, "  %-24s present\n", t)
	}
	for _, t := range st.Missing {
		fmt.Fprintf(&b, "  %-24s missing\n", t)
	}
	return b.String()
}

func runClear() error {
	ctx := context.Background()
	_, pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.ClearTables(ctx, pool, models()...); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	targetURL, err := databaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// databaseURL replaces the database name of base, keeping host, user and query.
func databaseURL(base, dbName string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runSeed(path string) error {
	ctx := context.Background()
	_, pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	// The whole file is written in one transaction.
	var n int
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		stores, err := server.PostgresStores(tx)
		if err != nil {
			return err
		}
		n, err = db.SeedFile(ctx, path, stores)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	fmt.Printf("Seeded %d rows from %s.\n", n, path)
	return nil
}
