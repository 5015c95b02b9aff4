package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"fiscus/internal/core/apperror"
	"fiscus/internal/domain/vouchers"
	"fiscus/pkg/logger"
)

// TableHandle is a resolved binding of (kind, year) to a physical yearly
// table. For a given key exactly one handle exists process-wide.
type TableHandle struct {
	Kind vouchers.Kind
	Year int
	Name string
}

// Execer is the single operation the registry needs from the store.
// Satisfied by pgxpool.Pool and pgx.Tx; faked in tests.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// voucherTableDDL is the fixed shape every yearly voucher table shares.
// Header and embedded rows are stored together as one document: the rows
// live in a single JSONB value that is always written wholesale.
const voucherTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id                UUID PRIMARY KEY,
	date              TIMESTAMPTZ NOT NULL,
	group_name        TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	project           TEXT NOT NULL DEFAULT '',
	transaction_type  TEXT NOT NULL DEFAULT '',
	accounting_period TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT '',
	last_voucher      TEXT NOT NULL DEFAULT '',
	counterpart       TEXT NOT NULL DEFAULT '',
	cash_balance      NUMERIC(18,2) NOT NULL DEFAULT 0,
	status            BOOLEAN NOT NULL DEFAULT FALSE,
	voucher_rows      JSONB NOT NULL DEFAULT '[]',
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS %[1]s_date_idx ON %[1]s (date DESC);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at)`

// Registry resolves (kind, year) pairs to yearly table handles, creating
// the physical table on first use and caching handles for the process
// lifetime. Resolution is idempotent: repeat calls for the same key
// return the identical handle, and the table shape is never re-declared
// (the DDL is IF NOT EXISTS, so a lost creation race is harmless).
type Registry struct {
	exec    Execer
	log     *logger.Logger
	handles sync.Map // map[string]*TableHandle, keyed by table name
}

// NewRegistry creates a table registry over the given executor.
func NewRegistry(exec Execer, log *logger.Logger) *Registry {
	return &Registry{
		exec: exec,
		log:  log.WithComponent("table-registry"),
	}
}

// Resolve returns the handle for the yearly table of (kind, year). The
// first call for a key creates the table; later calls hit the cache.
// Years are not range-checked here: that guard lives at the API boundary.
func (r *Registry) Resolve(ctx context.Context, kind vouchers.Kind, year int) (*TableHandle, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}

	name := kind.TableName(year)

	// Fast path: already bound.
	if val, ok := r.handles.Load(name); ok {
		return val.(*TableHandle), nil
	}

	if _, err := r.exec.Exec(ctx, fmt.Sprintf(voucherTableDDL, name)); err != nil {
		return nil, apperror.NewStorageUnavailable(err).
			WithDetail("table", name)
	}

	handle := &TableHandle{Kind: kind, Year: year, Name: name}

	// Two requests may race the first resolution of a key; both ran the
	// idempotent DDL, and LoadOrStore leaves exactly one handle bound.
	actual, loaded := r.handles.LoadOrStore(name, handle)
	if loaded {
		return actual.(*TableHandle), nil
	}

	r.log.Infow("bound yearly voucher table", "kind", kind, "year", year, "table", name)
	return handle, nil
}

// Reset clears the handle cache. Test-only.
func (r *Registry) Reset() {
	r.handles.Range(func(key, _ any) bool {
		r.handles.Delete(key)
		return true
	})
}
