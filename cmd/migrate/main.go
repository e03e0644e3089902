// Package main applies the embedded PostgreSQL migrations.
//
// Usage:
//
//	go run ./cmd/migrate                 # apply every pending migration
//	go run ./cmd/migrate -command=down -steps=1
//	go run ./cmd/migrate -command=version
//
// DATABASE_URL is read from the environment; outside APP_ENV=local a
// DATABASE_URL_SSM_PARAM pointer is resolved through SSM first.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"adoptnotify/internal/config"
	"adoptnotify/migrations"
)

func main() {
	command := flag.String("command", "up", "up, down or version")
	steps := flag.Int("steps", 0, "number of migrations for down (0 rolls back everything)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := run(*command, *steps, databaseURL, logger); err != nil {
		logger.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}
}

func run(command string, steps int, databaseURL string, logger *slog.Logger) error {
	if err := validateCommand(command, steps); err != nil {
		return err
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("unable to create migrator: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return nil
		}
		if verr != nil {
			return fmt.Errorf("reading version: %w", verr)
		}
		logger.Info("schema version", "version", version, "dirty", dirty)
		return nil
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("schema already up to date", "command", command)
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to apply migrations: %w", err)
	}

	logger.Info("migrations applied", "command", command, "steps", steps)
	return nil
}

func validateCommand(command string, steps int) error {
	switch command {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown command %q (want up, down or version)", command)
	}
	if steps < 0 {
		return fmt.Errorf("steps must not be negative")
	}
	return nil
}

// migrateURL rewrites a libpq-style URL to the scheme registered by the
// pgx v5 driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}
