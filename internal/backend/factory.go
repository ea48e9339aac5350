package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bollette/internal/amqp"
	"bollette/internal/cache"
	"bollette/internal/core"
	"bollette/internal/services"
	"bollette/internal/stats"
	"bollette/internal/storage"
	"bollette/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store   storage.BillStore
		cleanup []func() error
	)
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, config.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		store = repo
		cleanup = append(cleanup, repo.Close)
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		store = memory.New(config.Location)
		f.logger.InfoContext(ctx, "Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// Initialize AMQP client (optional)
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		c, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without sync", "error", err)
		} else {
			amqpClient = c
			cleanup = append(cleanup, c.Close)
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	agg := stats.NewAggregator(
		stats.WithTopN(config.StatsTopN),
		stats.WithWorkers(config.StatsWorkers),
		stats.WithLocation(config.Location),
	)

	statsCache := cache.NewLRUCache[core.StatisticsData](config.StatsCacheSize, config.StatsCacheTTL)
	manager := cache.NewManager()
	if config.StatsCacheSize > 0 {
		manager.Register(statsCache)
		manager.StartCleanup(config.StatsCacheTTL)
	}
	cleanup = append(cleanup, func() error { manager.Stop(); return nil })

	statistics := services.NewStatisticsService(store, agg, statsCache)

	// A nil *amqp.Client must not become a non-nil Publisher.
	var publisher services.Publisher
	if amqpClient != nil {
		publisher = amqpClient
	}
	bills := services.NewBillService(store, publisher, statistics)

	f.logger.InfoContext(ctx, "Backend ready",
		"type", config.Type,
		"amqp_enabled", amqpClient != nil,
		"stats_top_n", agg.TopN(),
		"stats_cache_size", config.StatsCacheSize)

	return &BackendResult{
		Backend: &Backend{
			Store:      store,
			Bills:      bills,
			Statistics: statistics,
			AMQP:       amqpClient,
		},
		Cleanup: func() error {
			var errs []error
			// Release in reverse order of acquisition.
			for i := len(cleanup) - 1; i >= 0; i-- {
				if err := cleanup[i](); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}, nil
}
