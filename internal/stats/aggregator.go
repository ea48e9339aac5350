// Package stats aggregates bills into time-windowed summaries.
//
// Aggregation is a pure scan over a bill snapshot: counts and sums are
// order-independent and the payment ranking uses a total order, so the
// sequential and parallel paths return identical results for any input order.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/core"
)

// DefaultTopN is the ranking length used when none is configured.
const DefaultTopN = 10

// Gateway supplies bill snapshots. Implementations return copies the
// aggregator may read without further locking.
type Gateway interface {
	// FetchBillsInDateRange returns every bill whose [StartDate, EndDate]
	// intersects [from, to] or that has a payment dated within [from, to].
	FetchBillsInDateRange(ctx context.Context, from, to time.Time) ([]core.Bill, error)
	// FetchAllBills returns the whole ledger.
	FetchAllBills(ctx context.Context) ([]core.Bill, error)
}

// Aggregator computes StatisticsData. It holds configuration only.
type Aggregator struct {
	topN     int
	workers  int
	location *time.Location
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTopN sets the length of the top payments ranking.
func WithTopN(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topN = n
		}
	}
}

// WithWorkers sets how many goroutines Statistics fans out to.
// One worker means a sequential scan.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithLocation sets the location year and month windows are built in.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.location = loc
		}
	}
}

// NewAggregator returns an aggregator with the given options applied.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{topN: DefaultTopN, workers: 1, location: time.Local}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TopN returns the configured ranking length.
func (a *Aggregator) TopN() int { return a.topN }

// Location returns the location calendar windows are built in.
func (a *Aggregator) Location() *time.Location { return a.location }

// Year aggregates the calendar year in the aggregator's location.
func (a *Aggregator) Year(ctx context.Context, gw Gateway, year int) (core.StatisticsData, error) {
	return a.Statistics(ctx, gw, core.YearWindow(year, a.location))
}

// Month aggregates one calendar month in the aggregator's location.
func (a *Aggregator) Month(ctx context.Context, gw Gateway, year int, month time.Month) (core.StatisticsData, error) {
	return a.Statistics(ctx, gw, core.MonthWindow(year, month, a.location))
}

// Range aggregates an arbitrary inclusive range. It fails with
// core.ErrInvalidRange before reading anything when from is after to.
func (a *Aggregator) Range(ctx context.Context, gw Gateway, from, to time.Time) (core.StatisticsData, error) {
	w, err := core.CustomWindow(from, to)
	if err != nil {
		return core.StatisticsData{}, err
	}
	return a.Statistics(ctx, gw, w)
}

// Statistics fetches the bills relevant to w from gw and aggregates them.
// It either returns a complete result or an error, never a partial result.
func (a *Aggregator) Statistics(ctx context.Context, gw Gateway, w core.Window) (core.StatisticsData, error) {
	if w.From.After(w.To) {
		return core.StatisticsData{}, fmt.Errorf("%w: window %s", core.ErrInvalidRange, w)
	}
	bills, err := gw.FetchBillsInDateRange(ctx, w.From, w.To)
	if err != nil {
		return core.StatisticsData{}, fmt.Errorf("fetch bills: %w", err)
	}
	if a.workers > 1 {
		return a.AggregateParallel(ctx, bills, w)
	}
	return a.Aggregate(bills, w), nil
}

// Aggregate scans bills sequentially.
func (a *Aggregator) Aggregate(bills []core.Bill, w core.Window) core.StatisticsData {
	p := scan(bills, w, a.topN)
	return p.result()
}

// AggregateParallel splits bills into one chunk per worker, scans the
// chunks concurrently and merges the partial results.
func (a *Aggregator) AggregateParallel(ctx context.Context, bills []core.Bill, w core.Window) (core.StatisticsData, error) {
	workers := a.workers
	if workers > len(bills) {
		workers = len(bills)
	}
	if workers <= 1 {
		return a.Aggregate(bills, w), nil
	}

	partials := make([]partial, workers)
	chunk := (len(bills) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		lo := i * chunk
		hi := lo + chunk
		if hi > len(bills) {
			hi = len(bills)
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = scan(bills[lo:hi], w, a.topN)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.StatisticsData{}, err
	}

	var total partial
	for _, p := range partials {
		total.merge(p, a.topN)
	}
	return total.result(), nil
}

// partial is the reduction state of a scan. Every field merges associatively.
type partial struct {
	started   int
	ended     int
	completed int
	payments  core.Money
	top       []core.TopPayment
}

func scan(bills []core.Bill, w core.Window, topN int) partial {
	var p partial
	for _, b := range bills {
		endedIn := w.Contains(b.EndDate)
		if w.Contains(b.StartDate) {
			p.started++
		}
		if endedIn {
			p.ended++
			if core.CalculateBalance(b).Status.Settled() {
				p.completed++
			}
		}
		for i, pay := range b.Payments {
			if !w.Contains(pay.Date) {
				continue
			}
			p.payments = p.payments.Add(pay.Amount)
			p.top = append(p.top, core.TopPayment{
				BillID:         b.ID,
				Position:       i,
				Amount:         pay.Amount,
				Date:           pay.Date,
				Note:           pay.Note,
				CommunityName:  b.CommunityName,
				Phase:          b.Phase,
				BuildingNumber: b.BuildingNumber,
				RoomNumber:     b.RoomNumber,
			})
		}
	}
	p.top = rank(p.top, topN)
	return p
}

func (p *partial) merge(o partial, topN int) {
	p.started += o.started
	p.ended += o.ended
	p.completed += o.completed
	p.payments = p.payments.Add(o.payments)
	p.top = rank(append(p.top, o.top...), topN)
}

func (p partial) result() core.StatisticsData {
	top := p.top
	if top == nil {
		top = []core.TopPayment{}
	}
	return core.StatisticsData{
		StartedProjects:   p.started,
		EndedProjects:     p.ended,
		CompletedProjects: p.completed,
		TotalPayments:     p.payments,
		TopPayments:       top,
	}
}

// rank sorts payments by amount descending, then date, bill ID and position
// ascending, and keeps the first n.
func rank(top []core.TopPayment, n int) []core.TopPayment {
	sort.Slice(top, func(i, j int) bool { return rankBefore(top[i], top[j]) })
	if len(top) > n {
		top = top[:n]
	}
	return top
}

func rankBefore(a, b core.TopPayment) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.BillID != b.BillID {
		return a.BillID < b.BillID
	}
	return a.Position < b.Position
}
