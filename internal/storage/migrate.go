package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

func openSQL(dsn string) (*sql.DB, error) {
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, errors.Wrap(err, "storage: goose dialect")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open")
	}
	return db, nil
}

// Migrate applies every pending migration in dir.
func Migrate(dsn, dir string) error {
	db, err := openSQL(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return errors.Wrap(goose.Up(db, dir), "storage: migrate up")
}

// MigrationStatus prints the state of every migration in dir.
func MigrationStatus(dsn, dir string) error {
	db, err := openSQL(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return errors.Wrap(goose.Status(db, dir), "storage: migrate status")
}
