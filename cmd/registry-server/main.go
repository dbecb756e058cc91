// Command registry-server runs the registry's HTTP API: it parses the
// configuration document, builds the index/storage/catalog/search
// collaborators it names, wires them into a publish pipeline, and
// serves the HTTP handler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cratehub/registry/internal/catalog"
	"github.com/cratehub/registry/internal/config"
	"github.com/cratehub/registry/internal/httpapi"
	"github.com/cratehub/registry/internal/index"
	"github.com/cratehub/registry/internal/index/librarygit"
	"github.com/cratehub/registry/internal/index/subprocess"
	"github.com/cratehub/registry/internal/lockset"
	"github.com/cratehub/registry/internal/ownership"
	"github.com/cratehub/registry/internal/publish"
	"github.com/cratehub/registry/internal/search"
	"github.com/cratehub/registry/internal/storage"
	"github.com/cratehub/registry/internal/storage/disk"
	"github.com/cratehub/registry/internal/storage/objectstore"
)

func main() {
	configPath := flag.String("config", "registry.toml", "path to the configuration document")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().Timestamp().Caller().Logger()
	log = log.Level(parseLevel(*logLevel))
	zlog.Set(&log)

	ctx := context.Background()

	// No span exporter is wired yet, so recorded spans are sampled
	// and then dropped; this still gives tracer.Start/span.End call
	// sites real SDK-backed spans to attach an exporter to later,
	// rather than the otel package's global no-op implementation.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(ctx)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := catalog.Open(ctx, cfg.Database, true)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog database")
	}

	idx, err := openIndex(ctx, cfg.Index)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open crate index")
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open crate storage")
	}

	var searchIndex *search.Index
	if cfg.Database.IsEphemeral() {
		searchIndex, err = search.New()
	} else {
		searchPath := filepath.Join(filepath.Dir(cfg.Index.Path), "search.bleve")
		searchIndex, err = search.NewAt(searchPath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open search index")
	}

	pipeline, err := publish.New(&publish.Options{
		DB:                   db,
		Index:                idx,
		Storage:              store,
		Search:               searchIndex,
		Locks:                lockset.New(),
		MaxConcurrentPublish: cfg.General.MaxConcurrentPublish,
		MaxMetadataBytes:     cfg.General.MaxUploadMetadata,
		MaxArchiveBytes:      cfg.General.MaxUploadArchive,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build publish pipeline")
	}

	owners := ownership.New(db)
	h := httpapi.New(pipeline, owners)

	srv := &http.Server{
		Addr:        cfg.General.Addr,
		Handler:     h,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	zlog.Info(ctx).Str("addr", cfg.General.Addr).Msg("starting http server")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

func openIndex(ctx context.Context, cfg config.IndexConfig) (index.Manager, error) {
	switch cfg.Type {
	case config.IndexCommandLine, config.IndexCLI:
		return subprocess.Open(ctx, cfg.Path, cfg.Remote)
	case config.IndexGit2:
		return librarygit.Open(ctx, cfg.Path, cfg.Remote)
	default:
		return nil, fmt.Errorf("unrecognized index type %q", cfg.Type)
	}
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Manager, error) {
	switch cfg.Type {
	case config.StorageDisk:
		return disk.New(cfg.Path)
	case config.StorageS3:
		return objectstore.New(ctx, cfg.Region, cfg.Bucket, cfg.KeyPrefix, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unrecognized storage type %q", cfg.Type)
	}
}

func parseLevel(s string) zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
