package vouchers

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fiscus/internal/core/apperror"
	"fiscus/pkg/logger"
)

// AggregatorConfig tunes the cross-year fan-out.
type AggregatorConfig struct {
	// BatchSize bounds how many year-queries run concurrently. Batches
	// run sequentially with a barrier in between.
	BatchSize int

	// PerYearTimeout caps a single year-query so one stuck partition
	// cannot stall the whole aggregation.
	PerYearTimeout time.Duration

	// YearCacheTTL is how long a discovered year-set is reused before
	// the catalog is introspected again. Zero disables the cache.
	YearCacheTTL time.Duration
}

// DefaultAggregatorConfig returns production defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		BatchSize:      5,
		PerYearTimeout: 10 * time.Second,
		YearCacheTTL:   30 * time.Second,
	}
}

// YearError records one yearly partition that failed during fan-out.
type YearError struct {
	Year int   `json:"year"`
	Err  error `json:"-"`
}

// AggregateResult is the outcome of a cross-year query: the merged list
// plus the partitions that contributed nothing because they failed.
// Callers decide whether partial data is acceptable.
type AggregateResult struct {
	Vouchers []TaggedVoucher
	Failed   []YearError
}

// FailedYears returns just the failed year numbers.
func (r AggregateResult) FailedYears() []int {
	years := make([]int, 0, len(r.Failed))
	for _, f := range r.Failed {
		years = append(years, f.Year)
	}
	return years
}

type yearCacheEntry struct {
	years     []int
	refreshed time.Time
}

// Aggregator discovers yearly partitions and fans queries out across
// them in bounded batches.
type Aggregator struct {
	repo Repository
	cfg  AggregatorConfig
	log  *logger.Logger

	mu        sync.Mutex
	yearCache map[Kind]yearCacheEntry
}

// NewAggregator creates an aggregator over the given repository.
func NewAggregator(repo Repository, cfg AggregatorConfig, log *logger.Logger) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultAggregatorConfig().BatchSize
	}
	return &Aggregator{
		repo:      repo,
		cfg:       cfg,
		log:       log.WithComponent("voucher-aggregator"),
		yearCache: make(map[Kind]yearCacheEntry),
	}
}

// ListPartitionYears returns the distinct years for which a yearly table
// currently exists, newest first. The set comes from live catalog
// introspection, optionally reused for YearCacheTTL.
func (a *Aggregator) ListPartitionYears(ctx context.Context, kind Kind) ([]int, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}

	if a.cfg.YearCacheTTL > 0 {
		a.mu.Lock()
		entry, ok := a.yearCache[kind]
		a.mu.Unlock()
		if ok && time.Since(entry.refreshed) < a.cfg.YearCacheTTL {
			return entry.years, nil
		}
	}

	years, err := a.repo.ListYears(ctx, kind)
	if err != nil {
		return nil, apperror.NewStorageUnavailable(err)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	if a.cfg.YearCacheTTL > 0 {
		a.mu.Lock()
		a.yearCache[kind] = yearCacheEntry{years: years, refreshed: time.Now()}
		a.mu.Unlock()
	}
	return years, nil
}

// InvalidateYears drops the cached year-set for a kind. Called after a
// voucher lands in a year that may not have had a table before.
func (a *Aggregator) InvalidateYears(kind Kind) {
	a.mu.Lock()
	delete(a.yearCache, kind)
	a.mu.Unlock()
}

// QueryAcrossYears runs the filter against every given year's table in
// sequential batches of at most BatchSize concurrent queries, waiting for
// each batch (stragglers included) before starting the next. Results are
// flattened into one list with each voucher tagged by its source year; no
// ordering is imposed across years. A failed year contributes zero
// results and is recorded in the result rather than aborting the call.
// In strict mode any failed year additionally yields a partial
// aggregation error alongside the partial result.
func (a *Aggregator) QueryAcrossYears(ctx context.Context, kind Kind, years []int, f YearFilter, strict bool) (AggregateResult, error) {
	if !kind.Valid() {
		return AggregateResult{}, apperror.NewInvalidKind(string(kind))
	}

	var (
		result AggregateResult
		mu     sync.Mutex
	)
	result.Vouchers = make([]TaggedVoucher, 0)

	for start := 0; start < len(years); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(years) {
			end = len(years)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, year := range years[start:end] {
			g.Go(func() error {
				qctx := gctx
				if a.cfg.PerYearTimeout > 0 {
					var cancel context.CancelFunc
					qctx, cancel = context.WithTimeout(gctx, a.cfg.PerYearTimeout)
					defer cancel()
				}

				found, err := a.repo.QueryYear(qctx, kind, year, f)
				if err != nil {
					a.log.WithContext(ctx).Warnw("year query failed",
						"kind", kind,
						"year", year,
						"error", err,
					)
					mu.Lock()
					result.Failed = append(result.Failed, YearError{Year: year, Err: err})
					mu.Unlock()
					// Best effort: the year contributes nothing but the
					// aggregation continues.
					return nil
				}

				tagged := make([]TaggedVoucher, 0, len(found))
				for _, v := range found {
					tagged = append(tagged, TaggedVoucher{Voucher: v, SourceYear: year})
				}

				mu.Lock()
				result.Vouchers = append(result.Vouchers, tagged...)
				mu.Unlock()
				return nil
			})
		}

		// Barrier: batch N completes fully before batch N+1 starts.
		if err := g.Wait(); err != nil {
			return result, apperror.NewStorageUnavailable(err)
		}
	}

	if strict && len(result.Failed) > 0 {
		return result, apperror.NewPartialAggregation(result.FailedYears())
	}
	return result, nil
}

// AllYears discovers every existing partition for the kind and queries
// them all. Zero existing years yields an empty result, never an error.
func (a *Aggregator) AllYears(ctx context.Context, kind Kind, f YearFilter, strict bool) (AggregateResult, error) {
	years, err := a.ListPartitionYears(ctx, kind)
	if err != nil {
		return AggregateResult{}, err
	}
	return a.QueryAcrossYears(ctx, kind, years, f, strict)
}

// Today returns vouchers created within the process-local calendar day.
// The boundary is deliberately the operator's timezone, not UTC: a
// voucher created at 23:59:59.999 local time belongs to today, one at
// 00:00:00.000 the next local day does not.
func (a *Aggregator) Today(ctx context.Context, kind Kind, strict bool) (AggregateResult, error) {
	now := time.Now().Local()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1)

	return a.AllYears(ctx, kind, YearFilter{
		CreatedFrom: &start,
		CreatedTo:   &end,
	}, strict)
}
