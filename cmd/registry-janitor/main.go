// Command registry-janitor is a one-shot operator tool that deletes
// expired session rows. It is never run automatically by
// registry-server; deferred to whatever scheduler the operator
// already uses (cron, a Kubernetes CronJob, systemd timer).
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/cratehub/registry/internal/catalog"
	"github.com/cratehub/registry/internal/config"
)

func main() {
	configPath := flag.String("config", "registry.toml", "path to the configuration document")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().Timestamp().Logger()
	zlog.Set(&log)
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := catalog.Open(ctx, cfg.Database, false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog database")
	}
	defer db.Close()

	n, err := db.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to delete expired sessions")
	}
	zlog.Info(ctx).Int64("removed", n).Msg("expired sessions removed")
}
