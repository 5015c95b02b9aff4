package vouchers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/pkg/logger"
)

// fanoutRepo is a Repository fake instrumented for fan-out assertions.
type fanoutRepo struct {
	mu           sync.Mutex
	years        []int
	perYear      map[int][]Voucher
	failYears    map[int]error
	inflight     int
	maxInflight  int
	queried      []int
	catalogCalls int
	lastFilter   YearFilter
}

func (r *fanoutRepo) Create(context.Context, Kind, *Voucher) error { panic("not used") }

func (r *fanoutRepo) GetByID(context.Context, Kind, int, id.ID) (*Voucher, error) {
	panic("not used")
}

func (r *fanoutRepo) Update(context.Context, Kind, int, *Voucher) error { panic("not used") }

func (r *fanoutRepo) Delete(context.Context, Kind, int, id.ID) error { panic("not used") }

func (r *fanoutRepo) ListYears(ctx context.Context, kind Kind) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogCalls++
	return append([]int(nil), r.years...), nil
}

func (r *fanoutRepo) QueryYear(ctx context.Context, kind Kind, year int, f YearFilter) ([]Voucher, error) {
	r.mu.Lock()
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	r.queried = append(r.queried, year)
	r.lastFilter = f
	r.mu.Unlock()

	// Hold the slot long enough for batch-mates to overlap.
	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.inflight--
	r.mu.Unlock()

	if err, ok := r.failYears[year]; ok {
		return nil, err
	}
	return r.perYear[year], nil
}

func newAggregatorForTest(repo Repository, cfg AggregatorConfig) *Aggregator {
	return NewAggregator(repo, cfg, logger.Default())
}

func TestQueryAcrossYears_BoundedBatches(t *testing.T) {
	years := []int{2013, 2014, 2015, 2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023, 2024}
	repo := &fanoutRepo{years: years, perYear: map[int][]Voucher{}}
	agg := newAggregatorForTest(repo, AggregatorConfig{BatchSize: 5})

	_, err := agg.QueryAcrossYears(context.Background(), KindPayment, years, YearFilter{}, false)
	require.NoError(t, err)

	assert.Len(t, repo.queried, 12)
	assert.LessOrEqual(t, repo.maxInflight, 5)
	assert.GreaterOrEqual(t, repo.maxInflight, 2)
}

func TestQueryAcrossYears_TagsSourceYear(t *testing.T) {
	repo := &fanoutRepo{
		perYear: map[int][]Voucher{
			2023: {{ID: id.New()}},
			2024: {{ID: id.New()}, {ID: id.New()}},
		},
	}
	agg := newAggregatorForTest(repo, DefaultAggregatorConfig())

	result, err := agg.QueryAcrossYears(context.Background(), KindReceived, []int{2023, 2024}, YearFilter{}, false)
	require.NoError(t, err)
	require.Len(t, result.Vouchers, 3)

	counts := map[int]int{}
	for _, tv := range result.Vouchers {
		counts[tv.SourceYear]++
	}
	assert.Equal(t, 1, counts[2023])
	assert.Equal(t, 2, counts[2024])
}

func TestQueryAcrossYears_PartialFailureIsolation(t *testing.T) {
	repo := &fanoutRepo{
		perYear: map[int][]Voucher{
			2022: {{ID: id.New()}},
			2024: {{ID: id.New()}},
		},
		failYears: map[int]error{2023: assert.AnError},
	}
	agg := newAggregatorForTest(repo, DefaultAggregatorConfig())

	result, err := agg.QueryAcrossYears(context.Background(), KindPayment, []int{2022, 2023, 2024}, YearFilter{}, false)
	require.NoError(t, err, "a failed year must not abort the aggregation")

	assert.Len(t, result.Vouchers, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 2023, result.Failed[0].Year)
	assert.Equal(t, []int{2023}, result.FailedYears())
}

func TestQueryAcrossYears_StrictModeSurfacesFailedYears(t *testing.T) {
	repo := &fanoutRepo{
		perYear:   map[int][]Voucher{2024: {{ID: id.New()}}},
		failYears: map[int]error{2023: assert.AnError},
	}
	agg := newAggregatorForTest(repo, DefaultAggregatorConfig())

	result, err := agg.QueryAcrossYears(context.Background(), KindPayment, []int{2023, 2024}, YearFilter{}, true)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodePartialAggregation, appErr.Code)

	// The partial result is still returned alongside the error.
	assert.Len(t, result.Vouchers, 1)
}

func TestQueryAcrossYears_InvalidKind(t *testing.T) {
	agg := newAggregatorForTest(&fanoutRepo{}, DefaultAggregatorConfig())

	_, err := agg.QueryAcrossYears(context.Background(), Kind("refund"), []int{2024}, YearFilter{}, false)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidKind, appErr.Code)
}

func TestAllYears_NoPartitionsYieldsEmptyResult(t *testing.T) {
	repo := &fanoutRepo{}
	agg := newAggregatorForTest(repo, DefaultAggregatorConfig())

	result, err := agg.AllYears(context.Background(), KindPayment, YearFilter{}, false)
	require.NoError(t, err)
	assert.Empty(t, result.Vouchers)
	assert.Empty(t, result.Failed)
}

func TestListPartitionYears_CachedUntilInvalidated(t *testing.T) {
	repo := &fanoutRepo{years: []int{2022, 2024, 2023}}
	agg := newAggregatorForTest(repo, AggregatorConfig{BatchSize: 5, YearCacheTTL: time.Minute})

	years, err := agg.ListPartitionYears(context.Background(), KindPayment)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2023, 2022}, years)

	_, err = agg.ListPartitionYears(context.Background(), KindPayment)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.catalogCalls, "second lookup must hit the cache")

	agg.InvalidateYears(KindPayment)
	_, err = agg.ListPartitionYears(context.Background(), KindPayment)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.catalogCalls)
}

func TestToday_LocalDayBoundary(t *testing.T) {
	repo := &fanoutRepo{years: []int{2024}}
	agg := newAggregatorForTest(repo, AggregatorConfig{BatchSize: 5})

	_, err := agg.Today(context.Background(), KindPayment, false)
	require.NoError(t, err)

	f := repo.lastFilter
	require.NotNil(t, f.CreatedFrom)
	require.NotNil(t, f.CreatedTo)

	now := time.Now().Local()
	wantStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	assert.True(t, f.CreatedFrom.Equal(wantStart), "window must open at local midnight")
	assert.True(t, f.CreatedTo.Equal(wantStart.AddDate(0, 0, 1)))

	// [from, to) semantics: last millisecond of today is in, next
	// midnight is out.
	lastMoment := f.CreatedTo.Add(-time.Millisecond)
	assert.True(t, !lastMoment.Before(*f.CreatedFrom) && lastMoment.Before(*f.CreatedTo))
	assert.False(t, f.CreatedTo.Before(*f.CreatedTo))
}
