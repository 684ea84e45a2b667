package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/makemny/apiserver/config"
)

// MigrateUp applies every pending up migration. An already current schema is
// not an error.
func MigrateUp(cfg config.DatabaseConfig) error {
	return runMigrations(cfg, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back the given number of migrations, or all of them when
// steps is zero.
func MigrateDown(cfg config.DatabaseConfig, steps int) error {
	return runMigrations(cfg, func(m *migrate.Migrate) error {
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	})
}

func runMigrations(cfg config.DatabaseConfig, apply func(*migrate.Migrate) error) error {
	migrator, err := migrate.New("file://"+cfg.MigrationsPath, DSN(cfg))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := apply(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
