package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bollette/internal/cache"
	"bollette/internal/core"
	"bollette/internal/observability/metrics"
	"bollette/internal/stats"
)

// computeTimeout bounds a shared aggregation, which outlives the caller
// that started it.
const computeTimeout = 2 * time.Minute

// StatisticsService serves windowed statistics from an LRU cache in front of
// the aggregator. Writes reported through Invalidate drop every cached window.
type StatisticsService struct {
	gw    stats.Gateway
	agg   *stats.Aggregator
	cache *cache.LRUCache[core.StatisticsData]
	group singleflight.Group

	// gen increments on every invalidation; results computed across an
	// invalidation are returned but not cached.
	mu  sync.Mutex
	gen uint64
}

// NewStatisticsService wires the gateway and aggregator. A nil cache disables
// caching.
func NewStatisticsService(gw stats.Gateway, agg *stats.Aggregator, c *cache.LRUCache[core.StatisticsData]) *StatisticsService {
	if c == nil {
		c = cache.NewLRUCache[core.StatisticsData](0, 0)
	}
	return &StatisticsService{gw: gw, agg: agg, cache: c}
}

// Aggregator exposes the configured aggregator (top N, location).
func (s *StatisticsService) Aggregator() *stats.Aggregator { return s.agg }

// Year returns statistics for a calendar year.
func (s *StatisticsService) Year(ctx context.Context, year int) (core.StatisticsData, error) {
	return s.Statistics(ctx, core.YearWindow(year, s.agg.Location()))
}

// Month returns statistics for a calendar month.
func (s *StatisticsService) Month(ctx context.Context, year int, month time.Month) (core.StatisticsData, error) {
	return s.Statistics(ctx, core.MonthWindow(year, month, s.agg.Location()))
}

// Range returns statistics for an inclusive custom range.
func (s *StatisticsService) Range(ctx context.Context, from, to time.Time) (core.StatisticsData, error) {
	w, err := core.CustomWindow(from, to)
	if err != nil {
		return core.StatisticsData{}, err
	}
	return s.Statistics(ctx, w)
}

// Statistics returns the statistics for w, computing them at most once per
// window between invalidations.
func (s *StatisticsService) Statistics(ctx context.Context, w core.Window) (core.StatisticsData, error) {
	key := w.Key()
	kind := string(w.Kind)

	if data, ok := s.cache.Get(key); ok {
		metrics.IncStatistics(kind, true)
		return copyStatistics(data), nil
	}
	metrics.IncStatistics(kind, false)

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	flightKey := key + "@" + strconv.FormatUint(gen, 10)
	// The computation is shared, so it must not inherit one caller's
	// cancellation; each caller waits on its own ctx instead.
	ch := s.group.DoChan(flightKey, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		start := time.Now()
		data, err := s.agg.Statistics(cctx, s.gw, w)
		metrics.ObserveStatistics(kind, err, time.Since(start))
		if err != nil {
			return core.StatisticsData{}, err
		}

		s.mu.Lock()
		if s.gen == gen {
			s.cache.Set(key, data)
		}
		s.mu.Unlock()

		slog.DebugContext(cctx, "Statistics computed",
			"window", w.String(),
			"started", data.StartedProjects,
			"ended", data.EndedProjects,
			"completed", data.CompletedProjects,
			"duration", time.Since(start))
		return data, nil
	})

	select {
	case <-ctx.Done():
		return core.StatisticsData{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.StatisticsData{}, res.Err
		}
		return copyStatistics(res.Val.(core.StatisticsData)), nil
	}
}

// Invalidate drops every cached window.
func (s *StatisticsService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	n := s.cache.Purge()
	s.mu.Unlock()
	if n > 0 {
		slog.DebugContext(ctx, "Statistics cache invalidated", "entries", n)
	}
}

// copyStatistics detaches the ranking slice from the cached value.
func copyStatistics(d core.StatisticsData) core.StatisticsData {
	d.TopPayments = append([]core.TopPayment{}, d.TopPayments...)
	return d
}
