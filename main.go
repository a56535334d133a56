package main

import (
	"os"

	"lmsrmarket/engine"
	"lmsrmarket/logging"
	"lmsrmarket/migration"
	"lmsrmarket/seed"
	"lmsrmarket/server"
	"lmsrmarket/setup"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openDatabase(config *setup.DatabaseConfig) (*gorm.DB, error) {
	if config.Driver == "postgres" {
		return gorm.Open(postgres.Open(config.DSN), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(config.DSN), &gorm.Config{})
}

func main() {
	// A missing .env is fine; the config file and environment cover it.
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("DEBUG") == "true")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config, err := setup.Load("setup.yaml")
	if err != nil {
		logger.Sugar().Fatalw("loading configuration", "error", err)
	}

	db, err := openDatabase(&config.Database)
	if err != nil {
		logger.Sugar().Fatalw("opening database", "driver", config.Database.Driver, "error", err)
	}

	if err := migration.MigrateDB(db); err != nil {
		logger.Sugar().Fatalw("running migrations", "error", err)
	}

	eng := engine.New(db, logger)

	if config.SeedDemoData {
		if err := seed.Run(db, config, eng, logger); err != nil {
			logger.Sugar().Fatalw("seeding demo data", "error", err)
		}
	}

	srv := server.New(config, db, eng, logger)
	if err := srv.Run(); err != nil {
		logger.Sugar().Fatalw("server exited", "error", err)
	}
}
