// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
)

// migration is one schema change. Every apply func must be idempotent:
// it checks current state before altering so re-running against an
// already-migrated database is a no-op.
type migration struct {
	name  string
	apply func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the ordered registry. Append only; never reorder or
// rename an entry that has shipped.
var migrations = []migration{
	{name: "001_add_material_thickness", apply: migrationAddMaterialThickness},
}

// Migrator applies pending schema migrations to a SQLite database,
// taking a file copy of the database first so a failed migration can
// be restored by hand.
type Migrator struct {
	dbPath        string
	migrationsDir string
	log           *logging.Logger
}

// NewMigrator creates a migrator for the database at dbPath. Backups
// of the database taken before migrating land in migrationsDir
// (default: migrations_data next to the database file).
func NewMigrator(dbPath, migrationsDir string, log *logging.Logger) *Migrator {
	if migrationsDir == "" {
		migrationsDir = filepath.Join(filepath.Dir(dbPath), "migrations_data")
	}
	if log == nil {
		log = logging.Default()
	}
	return &Migrator{dbPath: dbPath, migrationsDir: migrationsDir, log: log}
}

// RunFromConfig runs migrations for the configured database. Non-SQLite
// URLs are skipped: those schemas are managed externally.
func RunFromConfig(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	if !cfg.IsSQLite() {
		log.Info("non-SQLite database detected, skipping automatic migrations",
			"database_url", cfg.DatabaseURL)
		return nil
	}
	return NewMigrator(cfg.DatabasePath, "", log).Run(ctx)
}

// Run applies all pending migrations.
//
// A database file that does not exist yet is a success: the base
// schema is applied at Open and already includes every migration's end
// state. Each pending migration runs in its own transaction and is
// recorded in schema_migrations within that transaction; the first
// failure rolls back and aborts, leaving earlier migrations applied.
func (m *Migrator) Run(ctx context.Context) error {
	if _, err := os.Stat(m.dbPath); os.IsNotExist(err) {
		m.log.Info("database does not exist yet, will be created on first run",
			"path", m.dbPath)
		return nil
	}

	db, err := sql.Open("sqlite3", m.dbPath)
	if err != nil {
		return fmt.Errorf("opening database for migration: %w", err)
	}
	defer db.Close()

	if err := m.ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	pending, err := m.pendingMigrations(ctx, db)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.log.Info("database is up to date, no migrations needed")
		return nil
	}
	m.log.Info("found pending migrations", "count", len(pending))

	backupPath, err := m.backupDatabase()
	if err != nil {
		return fmt.Errorf("pre-migration backup failed: %w", err)
	}

	for _, mig := range pending {
		m.log.Info("running migration", "name", mig.name)
		if err := m.applyOne(ctx, db, mig); err != nil {
			if backupPath != "" {
				m.log.Error("migration failed, restore from backup",
					"name", mig.name, "backup", backupPath)
			}
			return fmt.Errorf("migration %s: %w", mig.name, err)
		}
		m.log.Info("migration completed", "name", mig.name)
	}
	m.log.Info("all migrations completed", "count", len(pending))
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, db *sql.DB, mig migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := mig.apply(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (migration_name) VALUES (?)`, mig.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			migration_name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) pendingMigrations(ctx context.Context, db *sql.DB) ([]migration, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT migration_name FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []migration
	for _, mig := range migrations {
		if !applied[mig.name] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// backupDatabase copies the database file into the migrations
// directory before any migration runs. Returns "" when the database
// file is missing.
func (m *Migrator) backupDatabase() (string, error) {
	if _, err := os.Stat(m.dbPath); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(m.migrationsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating migrations dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(m.migrationsDir,
		fmt.Sprintf("backup_%s_%s", filepath.Base(m.dbPath), timestamp))

	src, err := os.Open(m.dbPath)
	if err != nil {
		return "", fmt.Errorf("opening database for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("copying database: %w", err)
	}
	m.log.Info("database backed up before migration", "path", backupPath)
	return backupPath, nil
}

// migrationAddMaterialThickness adds parts.material_thickness for
// databases created before the column existed in the base schema.
func migrationAddMaterialThickness(ctx context.Context, tx *sql.Tx) error {
	exists, err := columnExists(ctx, tx, "parts", "material_thickness")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`ALTER TABLE parts ADD COLUMN material_thickness VARCHAR(50)`)
	if err != nil {
		return fmt.Errorf("adding material_thickness column: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("reading table info for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scanning table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
