package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/utils"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultMigrationsDir prefers ./migrations, then the directory next to the binary.
func defaultMigrationsDir() string {
	if utils.DirExists("migrations") {
		return "migrations"
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Join(filepath.Dir(exe), "migrations")
		if utils.DirExists(dir) {
			return dir
		}
	}
	return "migrations"
}

// runMigrate applies *.sql files in name order, each in its own transaction. "status" lists
// every file with its applied state.
func runMigrate(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dir := fs.String("dir", defaultMigrationsDir(), "Directory containing *.sql migrations")
	dryRun := fs.Bool("dry-run", false, "List pending migrations without applying")
	if err := fs.Parse(args); err != nil {
		return err
	}

	action := strings.TrimSpace(fs.Arg(0))
	if action == "" {
		action = "up"
	}
	if action != "up" && action != "status" {
		return fmt.Errorf("unsupported migrate action %q (supported: up, status)", action)
	}

	files, err := listSQLFiles(*dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .sql files found in %s", *dir)
	}

	pool, err := pgxpool.New(ctx, cfg.DBConnString())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	if action == "status" {
		for _, path := range files {
			name := filepath.Base(path)
			state := "pending"
			if at, ok := applied[name]; ok {
				state = "applied " + at.Format(time.RFC3339)
			}
			fmt.Printf("%-40s %s\n", name, state)
		}
		return nil
	}

	var pending []string
	for _, path := range files {
		if _, ok := applied[filepath.Base(path)]; !ok {
			pending = append(pending, path)
		}
	}
	if *dryRun {
		for _, p := range pending {
			fmt.Println(filepath.Base(p))
		}
		return nil
	}

	count := 0
	for _, path := range pending {
		ok, err := applyMigration(ctx, pool, path)
		if err != nil {
			return err
		}
		if ok {
			count++
		}
	}
	fmt.Printf("Applied %d migration(s)\n", count)
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, path string) (bool, error) {
	name := filepath.Base(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	sqlText := strings.TrimSpace(string(raw))
	if sqlText == "" {
		return false, nil
	}

	start := time.Now()
	utils.Info("migrate apply", "migration", name)
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sqlText); err != nil {
		return false, fmt.Errorf("migration %s failed: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, NOW())`, name); err != nil {
		return false, fmt.Errorf("migration %s failed: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	utils.Info("migrate applied", "migration", name, "dur", time.Since(start).Truncate(time.Millisecond).String())
	return true, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	rows, err := pool.Query(ctx, `SELECT filename, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out[name] = at
	}
	return out, rows.Err()
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
