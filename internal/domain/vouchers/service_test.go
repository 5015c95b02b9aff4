package vouchers

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/pkg/logger"
)

// memRepo is an in-memory Repository keyed by physical table name, so it
// exercises the same partition naming the real store uses.
type memRepo struct {
	mu     sync.Mutex
	tables map[string]map[id.ID]Voucher
}

func newMemRepo() *memRepo {
	return &memRepo{tables: make(map[string]map[id.ID]Voucher)}
}

func cloneVoucher(v Voucher) Voucher {
	v.Rows = append([]VoucherRow(nil), v.Rows...)
	return v
}

func (r *memRepo) Create(ctx context.Context, kind Kind, v *Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := kind.TableName(PartitionYear(v.Date))
	if r.tables[table] == nil {
		r.tables[table] = make(map[id.ID]Voucher)
	}
	r.tables[table][v.ID] = cloneVoucher(*v)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, kind Kind, year int, voucherID id.ID) (*Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tables[kind.TableName(year)]
	v, ok := table[voucherID]
	if !ok {
		return nil, apperror.NewNotFound("voucher", voucherID.String())
	}
	v = cloneVoucher(v)
	return &v, nil
}

func (r *memRepo) Update(ctx context.Context, kind Kind, year int, v *Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tables[kind.TableName(year)]
	stored, ok := table[v.ID]
	if !ok {
		return apperror.NewNotFound("voucher", v.ID.String())
	}
	if stored.Version != v.Version {
		return apperror.NewConcurrentModification("voucher", v.ID.String())
	}
	updated := cloneVoucher(*v)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	table[v.ID] = updated
	v.Version = updated.Version
	v.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *memRepo) Delete(ctx context.Context, kind Kind, year int, voucherID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tables[kind.TableName(year)]
	if _, ok := table[voucherID]; !ok {
		return apperror.NewNotFound("voucher", voucherID.String())
	}
	delete(table, voucherID)
	return nil
}

func (r *memRepo) QueryYear(ctx context.Context, kind Kind, year int, f YearFilter) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.tables[kind.TableName(year)] {
		if f.CreatedFrom != nil && v.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && !v.CreatedAt.Before(*f.CreatedTo) {
			continue
		}
		out = append(out, cloneVoucher(v))
	}
	if f.NewestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) ListYears(ctx context.Context, kind Kind) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var years []int
	for table, docs := range r.tables {
		if len(docs) == 0 {
			continue
		}
		if year, ok := kind.YearFromTable(table); ok {
			years = append(years, year)
		}
	}
	return years, nil
}

func newServiceForTest(repo Repository, cfg ServiceConfig) *Service {
	agg := NewAggregator(repo, AggregatorConfig{BatchSize: 5}, logger.Default())
	return NewService(repo, agg, nil, nil, cfg)
}

func mkVoucher(t *testing.T, svc *Service, kind Kind, date time.Time, rows ...VoucherRow) *Voucher {
	t.Helper()
	v := NewVoucher(date)
	v.Rows = rows
	require.NoError(t, svc.Create(context.Background(), kind, v))
	return v
}

func TestService_PartitionCorrectness(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	date := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	v := mkVoucher(t, svc, KindPayment, date)

	got, err := svc.GetByID(ctx, KindPayment, 2024, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	// Not retrievable from the adjacent years' tables.
	_, err = svc.GetByID(ctx, KindPayment, 2023, v.ID)
	assert.True(t, apperror.IsNotFound(err))
	_, err = svc.GetByID(ctx, KindPayment, 2025, v.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_ListForYear_NewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultServiceConfig()
	cfg.ListCap = 2
	svc := newServiceForTest(newMemRepo(), cfg)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mkVoucher(t, svc, KindPayment, base)
	mid := mkVoucher(t, svc, KindPayment, base.AddDate(0, 1, 0))
	newest := mkVoucher(t, svc, KindPayment, base.AddDate(0, 2, 0))

	got, err := svc.ListForYear(ctx, KindPayment, 2024)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newest.ID, got[0].ID)
	assert.Equal(t, mid.ID, got[1].ID)
}

func TestService_ListForYear_RejectsBadYear(t *testing.T) {
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())
	_, err := svc.ListForYear(context.Background(), KindPayment, 99)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestService_UpdateReturnsSynchronizedVersionAndTimestamp(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	v := mkVoucher(t, svc, KindPayment, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	createdAt := v.UpdatedAt

	updated, err := svc.Update(ctx, KindPayment, 2024, v.ID, UpdatePatch{
		Company: strPtr("acme"),
	})
	require.NoError(t, err)

	// The response must carry the post-write state, not the read copy:
	// bumped version and the store-assigned modification time.
	assert.Equal(t, v.Version+1, updated.Version)
	assert.False(t, updated.UpdatedAt.Before(createdAt))

	stored, err := svc.GetByID(ctx, KindPayment, 2024, v.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, stored.Version)
	assert.Equal(t, updated.UpdatedAt, stored.UpdatedAt)
}

func TestService_UpdateMergesRowsByID(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	rowA := VoucherRow{ID: id.New(), AmountBDT: dec("10")}
	rowB := VoucherRow{ID: id.New(), AmountBDT: dec("20")}
	v := mkVoucher(t, svc, KindReceived, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), rowA, rowB)

	updated, err := svc.Update(ctx, KindReceived, 2024, v.ID, UpdatePatch{
		Status:  boolPtr(true),
		HasRows: true,
		Rows:    []RowPatch{{ID: rowB.ID.String(), AmountBDT: decPtr("99")}},
	})
	require.NoError(t, err)

	assert.True(t, updated.Status)
	require.Len(t, updated.Rows, 2)
	assert.Equal(t, rowA.ID, updated.Rows[0].ID)
	assert.True(t, updated.Rows[0].AmountBDT.Equal(dec("10")))
	assert.True(t, updated.Rows[1].AmountBDT.Equal(dec("99")))
	assert.Equal(t, 2, updated.Version)

	// The merged list was persisted wholesale.
	stored, err := svc.GetByID(ctx, KindReceived, 2024, v.ID)
	require.NoError(t, err)
	assert.True(t, stored.Rows[1].AmountBDT.Equal(dec("99")))
}

func TestService_UpdateWithoutRowsKeepsStoredRows(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	row := VoucherRow{ID: id.New(), Narration: "untouched"}
	v := mkVoucher(t, svc, KindPayment, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), row)

	updated, err := svc.Update(ctx, KindPayment, 2024, v.ID, UpdatePatch{
		Company: strPtr("acme"),
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", updated.Company)
	require.Len(t, updated.Rows, 1)
	assert.Equal(t, "untouched", updated.Rows[0].Narration)
}

func TestService_UpdateUnmatchedPolicies(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ghost := id.New().String()

	// Append policy grows the row list.
	cfg := DefaultServiceConfig()
	cfg.UnmatchedPolicy = UnmatchedAppend
	svc := newServiceForTest(newMemRepo(), cfg)
	v := mkVoucher(t, svc, KindPayment, date, VoucherRow{ID: id.New()})
	updated, err := svc.Update(ctx, KindPayment, 2024, v.ID, UpdatePatch{
		HasRows: true,
		Rows:    []RowPatch{{ID: ghost, Narration: strPtr("new row")}},
	})
	require.NoError(t, err)
	assert.Len(t, updated.Rows, 2)

	// Reject policy fails the whole update.
	cfg.UnmatchedPolicy = UnmatchedReject
	svc = newServiceForTest(newMemRepo(), cfg)
	v = mkVoucher(t, svc, KindPayment, date, VoucherRow{ID: id.New()})
	_, err = svc.Update(ctx, KindPayment, 2024, v.ID, UpdatePatch{
		HasRows: true,
		Rows:    []RowPatch{{ID: ghost}},
	})
	require.Error(t, err)
}

func TestService_DeleteIsolatedToOneYear(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	v23 := mkVoucher(t, svc, KindPayment, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
	v24 := mkVoucher(t, svc, KindPayment, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, svc.Delete(ctx, KindPayment, 2024, v24.ID))

	_, err := svc.GetByID(ctx, KindPayment, 2024, v24.ID)
	assert.True(t, apperror.IsNotFound(err))

	// The other year's table is untouched.
	_, err = svc.GetByID(ctx, KindPayment, 2023, v23.ID)
	assert.NoError(t, err)
}

func TestService_ListAcrossYears(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	mkVoucher(t, svc, KindPayment, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
	mkVoucher(t, svc, KindPayment, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	result, err := svc.ListAcrossYears(ctx, KindPayment, false, false)
	require.NoError(t, err)
	require.Len(t, result.Vouchers, 2)

	years := map[int]bool{}
	for _, tv := range result.Vouchers {
		years[tv.SourceYear] = true
	}
	assert.True(t, years[2023])
	assert.True(t, years[2024])
}

func TestService_ListAcrossYears_TodayOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newServiceForTest(repo, DefaultServiceConfig())

	// One voucher created now, one backdated to yesterday.
	today := mkVoucher(t, svc, KindReceived, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	old := NewVoucher(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, svc.Create(ctx, KindReceived, old))

	result, err := svc.ListAcrossYears(ctx, KindReceived, true, false)
	require.NoError(t, err)
	require.Len(t, result.Vouchers, 1)
	assert.Equal(t, today.ID, result.Vouchers[0].ID)
}

func TestService_Summary(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	// Approved parent with a pending row: the row still counts.
	v := NewVoucher(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	v.Status = true
	v.Rows = []VoucherRow{{ID: id.New(), Status: false, AmountBDT: dec("100")}}
	require.NoError(t, svc.Create(ctx, KindPayment, v))

	// Pending parent: only its approved row counts.
	w := NewVoucher(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
	w.Rows = []VoucherRow{
		{ID: id.New(), Status: true, AmountBDT: dec("50")},
		{ID: id.New(), Status: false, AmountBDT: dec("7")},
	}
	require.NoError(t, svc.Create(ctx, KindPayment, w))

	summary, err := svc.Summary(ctx, KindPayment, false)
	require.NoError(t, err)

	assert.True(t, summary.Total.Equal(dec("150")))
	assert.Equal(t, 2, summary.Vouchers)
	require.Len(t, summary.ByYear, 2)
	assert.Equal(t, 2024, summary.ByYear[0].Year)
	assert.True(t, summary.ByYear[0].Approved.Equal(dec("100")))
	assert.Equal(t, 2023, summary.ByYear[1].Year)
	assert.True(t, summary.ByYear[1].Approved.Equal(dec("50")))
}

func TestService_InvalidKindRejected(t *testing.T) {
	ctx := context.Background()
	svc := newServiceForTest(newMemRepo(), DefaultServiceConfig())

	bad := Kind("journal")
	assert.Error(t, svc.Create(ctx, bad, NewVoucher(time.Now())))
	_, err := svc.GetByID(ctx, bad, 2024, id.New())
	assert.Error(t, err)
	_, err = svc.ListForYear(ctx, bad, 2024)
	assert.Error(t, err)
	assert.Error(t, svc.Delete(ctx, bad, 2024, id.New()))
}
