package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/marketing-engine/internal/config"
)

// The migration runner applies migrations/*.sql in filename order, each in
// its own transaction, and records applied files in schema_migrations so
// reruns are safe.
func main() {
	dir := flag.String("dir", "migrations", "directory holding .sql migration files")
	status := flag.Bool("status", false, "print applied migrations and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(config.Path())
	if err != nil {
		log.Fatalf("[Migrate] Config error: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("[Migrate] DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("[Migrate] Database error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrate] Database error: %v", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		log.Fatalf("[Migrate] Version table: %v", err)
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		log.Fatalf("[Migrate] Read versions: %v", err)
	}

	if *status {
		if len(applied) == 0 {
			log.Println("[Migrate] No migrations applied")
			return
		}
		names := make([]string, 0, len(applied))
		for name := range applied {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			log.Printf("[Migrate] Applied: %s", name)
		}
		return
	}

	files, err := migrationFiles(*dir)
	if err != nil {
		log.Fatalf("[Migrate] Read %s: %v", *dir, err)
	}

	ran := 0
	for _, f := range files {
		if applied[f] {
			continue
		}
		if err := applyOne(db, filepath.Join(*dir, f)); err != nil {
			log.Fatalf("[Migrate] %s: %v", f, err)
		}
		log.Printf("[Migrate] Applied %s", f)
		ran++
	}
	log.Printf("[Migrate] Done: %d applied, %d already up to date", ran, len(files)-ran)
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// applyOne runs one migration file and records it, both inside a single
// transaction so a failed migration leaves no trace.
func applyOne(db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(data)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (filename) VALUES ($1)", filepath.Base(path)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
