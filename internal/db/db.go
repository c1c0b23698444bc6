// Package db opens the PostgreSQL handle and applies the embedded schema
// migrations at startup.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to PostgreSQL, verifies the connection and runs any pending
// migrations.
func Open(databaseURL string) (*sql.DB, error) {
	handle, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	handle.SetMaxOpenConns(32)
	handle.SetMaxIdleConns(8)
	handle.SetConnMaxLifetime(30 * time.Minute)

	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	if err := Migrate(handle); err != nil {
		handle.Close()
		return nil, err
	}

	return handle, nil
}

// Migrate applies the embedded migrations against the given handle.
func Migrate(handle *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("db: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(handle, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("db: migrate init: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("[db] schema up to date")
	} else {
		log.Println("[db] migrations applied")
	}
	return nil
}
