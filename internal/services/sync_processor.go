package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PendingSyncer mirrors up to limit bills still marked pending and reports
// how many it handled.
type PendingSyncer interface {
	ProcessPendingBills(ctx context.Context, limit int) (int, error)
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending bills (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of bills to process per poll cycle (default: 10)
	BatchSize int

	// StartupMultiplier scales the first batch after start (default: 5)
	StartupMultiplier int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:      30 * time.Second,
		BatchSize:         10,
		StartupMultiplier: 5,
	}
}

// SyncProcessor periodically mirrors bills whose AMQP message was lost or
// whose sync failed.
type SyncProcessor struct {
	syncer PendingSyncer
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(syncer PendingSyncer, config SyncProcessorConfig) *SyncProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSyncProcessorConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSyncProcessorConfig().BatchSize
	}
	if config.StartupMultiplier <= 0 {
		config.StartupMultiplier = 1
	}
	return &SyncProcessor{syncer: syncer, config: config}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Catch up on whatever accumulated while the worker was down.
	p.processBatch(ctx, p.config.BatchSize*p.config.StartupMultiplier)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processBatch(ctx, p.config.BatchSize)
		}
	}
}

func (p *SyncProcessor) processBatch(ctx context.Context, limit int) {
	n, err := p.syncer.ProcessPendingBills(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to process pending bills", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Pending bills processed", "count", n)
	}
}
