package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tdpos/backend/internal/config"
	"tdpos/backend/internal/logger"
	pgstore "tdpos/backend/internal/store/postgres"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|up-to")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=up-to")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	if cfg.DatabaseURL == "" {
		fmt.Fprintf(os.Stderr, "%s_DATABASE_URL is required\n", config.EnvPrefix)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx = logg.WithField(ctx, "cmd", *cmd)

	var args []string
	switch *cmd {
	case "up", "down", "status", "version":
	case "up-to":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for up-to command")
			os.Exit(1)
		}
		args = append(args, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	requireResource(ctx, logg, "database", err)
	defer pg.Close()

	logg.Info(ctx, "migrate ready")
	if err := pg.Migrate(ctx, *cmd, args...); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(ctx, "resource", resource), "failed to initialize resource", err)
	os.Exit(1)
}
