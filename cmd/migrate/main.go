package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up | down | redo | status   run goose against the database
  version <YYYYMMDDHHMMSS>    migrate up or down to a version
  create <name>               write a new SQL migration into -dir
  validate                    check file names and goose annotations in -dir

Without -dir, database commands use the migrations embedded in the binary.`

func main() {
	dir := flag.String("dir", "", "migrations directory on disk")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, arg := flag.Arg(0), flag.Arg(1)

	if err := run(command, arg, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", command, err)
		os.Exit(1)
	}
}

func run(command, arg, dir string) error {
	switch command {
	case "create":
		if arg == "" {
			return errors.New("migration name is required")
		}
		path, err := migrate.CreateSQLMigration(dirOrDefault(dir), arg)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dirOrDefault(dir)); err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	case "up", "down", "redo", "status", "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.ForService("migrate", cfg.App)
	source := dir
	if source == "" {
		source = "embedded"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": command,
		"source":  source,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}

	switch {
	case command == "version":
		if arg == "" {
			return errors.New("target version is required")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, dir, arg)
	case dir == "":
		err = migrate.RunEmbedded(ctx, sqlDB, command)
	default:
		err = migrate.Run(ctx, sqlDB, dir, command)
	}
	if err != nil {
		return err
	}
	logg.Info(ctx, "migration command complete")
	return nil
}

func dirOrDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}
