package main

import (
	"flag"
	"log/slog"
	"os"

	"evaltrack/internal/platform/config"
	"evaltrack/internal/platform/db"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	var (
		migrationsDir = flag.String("dir", cfg.MigrationsDir, "directory containing migration files")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "postgres connection string (defaults to DATABASE_URL)")
	)
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}
	if *databaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	version, err := db.Migrate(action, *migrationsDir, *databaseURL)
	if err != nil {
		slog.Error("migration failed", "action", action, "err", err)
		os.Exit(1)
	}
	slog.Info("migration completed", "action", action, "version", version)
}
