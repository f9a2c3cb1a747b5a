package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed postgres/*.up.sql sqlite/*.up.sql
var files embed.FS

// Run finds all "*.up.sql" files for dialect (sorted by name) and executes
// each one as a single script. Every statement is idempotent, so running the
// set again against a migrated database is harmless.
func Run(db *sqlx.DB, dialect string) error {
	pattern := path.Join(dialect, "*.up.sql")
	names, err := fs.Glob(files, pattern)
	if err != nil {
		return fmt.Errorf("failed to glob migrations: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("could not read migration %q: %w", name, err)
		}
		if len(script) == 0 {
			continue
		}
		if _, err := db.Exec(string(script)); err != nil {
			return fmt.Errorf("error executing migration %q: %w", name, err)
		}
		log.Info().Str("migration", name).Msg("migration applied")
	}
	return nil
}
