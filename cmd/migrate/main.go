// Command migrate applies the embedded schema migrations and can seed an
// organization for local development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"kundimport/internal/config"
	"kundimport/internal/db"
	"kundimport/internal/logging"
	"kundimport/internal/migrate"
	"kundimport/internal/store"
)

func main() {
	seedOrg := flag.String("seed-org", "", "create an organization with the given name after migrating")
	flag.Parse()

	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")

	if *seedOrg != "" {
		st := store.New(pool, slog.Default())
		id, err := st.CreateOrganization(ctx, *seedOrg)
		if err != nil {
			slog.Error("failed to seed organization", "error", err)
			os.Exit(1)
		}
		slog.Info("organization created", "name", *seedOrg, "id", id)
	}
}
