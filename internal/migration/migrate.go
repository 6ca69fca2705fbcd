// Package migration applies embedded schema migrations at startup.
package migration

import (
	"fmt"
	"io/fs"
	"sort"

	"gorm.io/gorm"
)

// RunMigrations applies every pending .up.sql file in lexical order.
// Applied versions are tracked in schema_migrations and skipped on
// subsequent runs.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migration: nil database handle")
	}

	if err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`).Error; err != nil {
		return fmt.Errorf("migration: create schema_migrations: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		var count int64
		if err := db.Table("schema_migrations").Where("version = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("migration: check %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		if err := applyOne(db, name); err != nil {
			return err
		}
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migration: read embedded dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func applyOne(db *gorm.DB, name string) error {
	script, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/"+name)
	if err != nil {
		return fmt.Errorf("migration: read %s: %w", name, err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(script)).Error; err != nil {
			return fmt.Errorf("migration: apply %s: %w", name, err)
		}
		if err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, name).Error; err != nil {
			return fmt.Errorf("migration: record %s: %w", name, err)
		}
		return nil
	})
}
