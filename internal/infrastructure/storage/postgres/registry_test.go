package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/core/apperror"
	"fiscus/internal/domain/vouchers"
	"fiscus/pkg/logger"
)

type fakeExecer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.calls = append(f.calls, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeExecer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testRegistry(t *testing.T) (*Registry, *fakeExecer) {
	t.Helper()
	exec := &fakeExecer{}
	return NewRegistry(exec, logger.Default()), exec
}

func TestRegistryResolveCreatesTableOnce(t *testing.T) {
	reg, exec := testRegistry(t)
	ctx := context.Background()

	h1, err := reg.Resolve(ctx, vouchers.KindPayment, 2024)
	require.NoError(t, err)
	assert.Equal(t, "vouchers_2024", h1.Name)
	assert.Equal(t, 1, exec.callCount())
	assert.Contains(t, exec.calls[0], "CREATE TABLE IF NOT EXISTS vouchers_2024")

	// Repeat resolution is a cache hit: no second DDL, identical handle.
	h2, err := reg.Resolve(ctx, vouchers.KindPayment, 2024)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, exec.callCount())
}

func TestRegistryResolveDistinctKeys(t *testing.T) {
	reg, exec := testRegistry(t)
	ctx := context.Background()

	p24, err := reg.Resolve(ctx, vouchers.KindPayment, 2024)
	require.NoError(t, err)
	p25, err := reg.Resolve(ctx, vouchers.KindPayment, 2025)
	require.NoError(t, err)
	r24, err := reg.Resolve(ctx, vouchers.KindReceived, 2024)
	require.NoError(t, err)

	assert.Equal(t, "vouchers_2024", p24.Name)
	assert.Equal(t, "vouchers_2025", p25.Name)
	assert.Equal(t, "received_vouchers_2024", r24.Name)
	assert.Equal(t, 3, exec.callCount())
}

func TestRegistryResolveConcurrent(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	const workers = 16
	handles := make([]*TableHandle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Resolve(ctx, vouchers.KindReceived, 2026)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	// All callers observe the one bound handle.
	for i := 1; i < workers; i++ {
		assert.Same(t, handles[0], handles[i])
	}
}

func TestRegistryResolveInvalidKind(t *testing.T) {
	reg, exec := testRegistry(t)

	_, err := reg.Resolve(context.Background(), vouchers.Kind("journal"), 2024)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidKind, appErr.Code)
	assert.Equal(t, 0, exec.callCount())
}

func TestRegistryResolveStorageFailure(t *testing.T) {
	reg, exec := testRegistry(t)
	exec.err = errors.New("connection refused")

	_, err := reg.Resolve(context.Background(), vouchers.KindPayment, 2024)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeStorageUnavailable, appErr.Code)

	// The failed attempt must not be cached: once storage recovers the
	// next resolve creates the table.
	exec.err = nil
	h, err := reg.Resolve(context.Background(), vouchers.KindPayment, 2024)
	require.NoError(t, err)
	assert.Equal(t, "vouchers_2024", h.Name)
	assert.Equal(t, 1, exec.callCount())
}

func TestRegistryTableNameEmbedsYearLiterally(t *testing.T) {
	reg, exec := testRegistry(t)

	for _, year := range []int{1999, 2024, 2031} {
		_, err := reg.Resolve(context.Background(), vouchers.KindPayment, year)
		require.NoError(t, err)
	}
	for i, want := range []string{"vouchers_1999", "vouchers_2024", "vouchers_2031"} {
		assert.True(t, strings.Contains(exec.calls[i], want), "missing %s in DDL", want)
	}
}
