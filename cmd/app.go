package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/database/postgres"
	"github.com/kozaktomas/event-photos/internal/events"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/index"
	"github.com/kozaktomas/event-photos/internal/indexer"
	"github.com/kozaktomas/event-photos/internal/logging"
	"github.com/kozaktomas/event-photos/internal/match"
	"github.com/kozaktomas/event-photos/internal/storage"
	"go.uber.org/zap"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool          *postgres.Pool
	photographers *postgres.PhotographerRepository
	events        *postgres.EventRepository
	photos        *postgres.PhotoRepository
	records       *postgres.MatchRecordRepository

	blobs     storage.BlobStore
	extractor extractor.Extractor
	indexer   *indexer.Indexer
	arena     *index.Arena
	engine    *match.Engine
	eventSvc  *events.Service
}

// loadConfig reads the environment and rejects unusable settings.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp connects to the database, applies migrations and wires the matching
// pipeline. The caller must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	pool, applied, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	for _, name := range applied {
		logger.Info("applied migration", zap.String("name", name))
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		pool:          pool,
		photographers: postgres.NewPhotographerRepository(pool),
		events:        postgres.NewEventRepository(pool),
		photos:        postgres.NewPhotoRepository(pool),
		records:       postgres.NewMatchRecordRepository(pool),
	}

	a.blobs, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open blob storage: %w", err)
	}

	a.extractor, err = extractor.New(cfg.Extractor)
	if err != nil {
		a.close()
		return nil, err
	}

	a.indexer = indexer.New(a.photos, a.blobs, a.extractor, cfg.Queue.Workers, logger.Named("indexer"))

	a.arena, err = index.NewArena(cfg.Index.MaxResidentEvents, index.Options{
		Dim:            a.extractor.Dim(),
		Shards:         cfg.Index.Shards,
		HNSWMinEntries: cfg.Index.HNSWMinEntries,
	}, a.indexer, logger.Named("index"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine, err = match.NewEngine(a.arena, match.Policy{
		K:         cfg.Match.TopK,
		Threshold: cfg.Match.Threshold,
	}, logger.Named("match"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.eventSvc = events.NewService(a.events, a.blobs, cfg.Server)
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("closing database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
