package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/newsletter/internal/config"
	"github.com/ignite/newsletter/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	listOnly := flag.Bool("list", false, "list subscription tables and exit")
	flag.Parse()

	dir := "migrations"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Database.Enabled() {
		logger.Error("no database configured (set DATABASE_URL or database.host)")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if *listOnly {
		if err := listTables(ctx, db, os.Stdout); err != nil {
			logger.Error("list tables failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ok, failed, err := applyMigrations(ctx, db, dir, os.Stdout)
	if err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "ok", ok, "errors", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func listTables(ctx context.Context, db *sql.DB, out io.Writer) error {
	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'subscription%' ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		fmt.Fprintln(out, " ", name)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Total: %d tables\n", n)
	return nil
}

// migrationFiles returns the .sql files in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// applyMigrations runs every file in its own transaction. A failing file is
// rolled back and reported; later files still run.
func applyMigrations(ctx context.Context, db *sql.DB, dir string, out io.Writer) (ok, failed int, err error) {
	files, err := migrationFiles(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return ok, failed, fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Fprintf(out, "  %s ... ", f)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			fmt.Fprintf(out, "BEGIN ERROR: %v\n", err)
			failed++
			continue
		}
		if _, err := tx.ExecContext(ctx, content); err != nil {
			tx.Rollback()
			fmt.Fprintf(out, "ERROR: %v\n", err)
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			fmt.Fprintf(out, "COMMIT ERROR: %v\n", err)
			failed++
			continue
		}
		fmt.Fprintln(out, "OK")
		ok++
	}
	return ok, failed, nil
}
