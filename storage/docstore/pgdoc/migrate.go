package pgdoc

import (
	"database/sql"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/eloschool/backend/assets"
)

var gooseRunFunc = goose.Run // mockable

func init() {
	goose.SetBaseFS(assets.FS)
	_ = goose.SetDialect("postgres")
}

// RunMigrations runs a goose command (up, down, status, ...) against the embedded migrations.
func RunMigrations(db *sql.DB, command string, args ...string) error {
	return gooseRunFunc(command, db, "migrations", args...)
}

func Migrate(db *sql.DB) error {
	if err := RunMigrations(db, "up"); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
