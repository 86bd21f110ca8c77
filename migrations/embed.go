// Package migrations embeds SQL migration files into the binary.
//
// A showrunner install updates by swapping one binary, so the schema has
// to travel inside it - the SQL files are compiled into the executable
// rather than shipped alongside it.
package migrations

import (
	"embed"

	"github.com/calliope-av/showrunner/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package.
	// The embed directive above captures all .sql files in this directory.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
