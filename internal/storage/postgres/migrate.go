package postgres

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations.
//
// It returns an error so the caller can decide how to handle it.
func Migrate(dbURL string, log *slog.Logger) error {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("migrations: open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("database close error", slog.String("error", err.Error()))
		}
	}()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}

	log.Info("running database migrations")
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrations: goose up: %w", err)
	}
	log.Info("database migrations applied")
	return nil
}
