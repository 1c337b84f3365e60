package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"

	"github.com/pressly/goose/v3"

	"github.com/ahmednader515/alkian-sub001/internal/db/migrations"
)

// Migrate applies pending goose migrations from the embedded migrations
// directory and returns how many ran. Versions are tracked in goose_db_version.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	return migrateFS(ctx, db, migrations.FS)
}

func migrateFS(ctx context.Context, db *sql.DB, fsys fs.FS) (int, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	for _, r := range results {
		if r.Error == nil {
			log.Printf("migrate: applied %s", r.Source.Path)
		}
	}
	if err != nil {
		return len(results), fmt.Errorf("migrate up: %w", err)
	}
	return len(results), nil
}
