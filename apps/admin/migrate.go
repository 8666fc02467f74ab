package main

import (
	"errors"

	"github.com/eloschool/backend/storage/docstore/pgdoc"
)

var (
	migrateFunc = pgdoc.RunMigrations // mockable

	errNoSQLDirectory = errors.New("migrate needs directory.backend=postgres")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoSQLDirectory
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return migrateFunc(cli.db, args[0], arguments...)
}
