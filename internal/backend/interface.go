package backend

import (
	"context"
	"time"

	"bollette/internal/amqp"
	"bollette/internal/services"
	"bollette/internal/storage"
)

// Backend bundles the store and the services built on top of it.
type Backend struct {
	Store      storage.BillStore
	Bills      *services.BillService
	Statistics *services.StatisticsService

	// AMQP is nil when messaging is not configured or unreachable.
	AMQP *amqp.Client
}

// Ping reports whether the store is reachable. Stores without a health
// check are always ready.
func (b *Backend) Ping(ctx context.Context) error {
	if p, ok := b.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional sync messaging
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Location for calendar windows and date rehydration
	Location *time.Location

	// Statistics
	StatsTopN      int
	StatsWorkers   int
	StatsCacheSize int
	StatsCacheTTL  time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
