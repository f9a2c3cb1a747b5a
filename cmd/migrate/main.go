package main

import (
	"os"

	"github.com/Domenick1991/signupslots/config"
	"github.com/Domenick1991/signupslots/internal/logging"
	"github.com/Domenick1991/signupslots/migrations"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	var db *sqlx.DB
	var dialect string
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err = sqlx.Connect("sqlite", cfg.Database.SQLitePath)
		dialect = migrations.DialectSQLite
	default:
		db, err = sqlx.Connect("postgres", cfg.Database.DSN())
		dialect = migrations.DialectPostgres
	}
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("connect database")
	}
	defer db.Close()

	if err := migrations.Run(db, dialect); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
}
