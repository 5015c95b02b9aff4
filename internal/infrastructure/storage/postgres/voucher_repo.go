package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/internal/domain/vouchers"
)

// pgUndefinedTable is the SQLSTATE for a query against a missing table.
// Yearly tables are created lazily, so this is an expected condition on
// the read path, not a fault.
const pgUndefinedTable = "42P01"

var voucherColumns = []string{
	"id",
	"date",
	"group_name",
	"company",
	"project",
	"transaction_type",
	"accounting_period",
	"currency",
	"last_voucher",
	"counterpart",
	"cash_balance",
	"status",
	"voucher_rows",
	"version",
	"created_at",
	"updated_at",
}

// VoucherRepo is the PostgreSQL implementation of vouchers.Repository.
// Each (kind, year) pair maps to its own physical table; the registry
// resolves and lazily creates tables on the write path. Reads never
// create tables: a missing yearly table reads as empty.
type VoucherRepo struct {
	registry  *Registry
	txManager *TxManager
}

var _ vouchers.Repository = (*VoucherRepo)(nil)

// NewVoucherRepo creates a voucher repository.
func NewVoucherRepo(registry *Registry, txManager *TxManager) *VoucherRepo {
	return &VoucherRepo{
		registry:  registry,
		txManager: txManager,
	}
}

func (r *VoucherRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// headerMap lists the mutable voucher fields by column. The row list is
// included as one JSONB value so every write replaces it wholesale.
func headerMap(v *vouchers.Voucher) map[string]any {
	return map[string]any{
		"date":              v.Date,
		"group_name":        v.Group,
		"company":           v.Company,
		"project":           v.Project,
		"transaction_type":  v.TransactionType,
		"accounting_period": v.AccountingPeriod,
		"currency":          v.Currency,
		"last_voucher":      v.LastVoucher,
		"counterpart":       v.Counterpart,
		"cash_balance":      v.CashBalance,
		"status":            v.Status,
		"voucher_rows":      v.Rows,
	}
}

// Create inserts the voucher into the yearly table selected by the year
// of its date, creating the table on first use.
func (r *VoucherRepo) Create(ctx context.Context, kind vouchers.Kind, v *vouchers.Voucher) error {
	year := vouchers.PartitionYear(v.Date)
	handle, err := r.registry.Resolve(ctx, kind, year)
	if err != nil {
		return err
	}

	data := headerMap(v)
	data["id"] = v.ID
	data["version"] = v.Version
	data["created_at"] = v.CreatedAt
	data["updated_at"] = v.UpdatedAt

	sql, args, err := r.builder().
		Insert(handle.Name).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", handle.Name, err)
	}

	return nil
}

// GetByID retrieves a voucher from the given year's table.
func (r *VoucherRepo) GetByID(ctx context.Context, kind vouchers.Kind, year int, voucherID id.ID) (*vouchers.Voucher, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	table := kind.TableName(year)

	sql, args, err := r.builder().
		Select(voucherColumns...).
		From(table).
		Where(squirrel.Eq{"id": voucherID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var v vouchers.Voucher
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &v, sql, args...); err != nil {
		if pgxscan.NotFound(err) || isUndefinedTable(err) {
			return nil, apperror.NewNotFound("voucher", voucherID.String()).
				WithDetail("year", year)
		}
		return nil, fmt.Errorf("get %s by id: %w", table, err)
	}

	return &v, nil
}

// Update persists the full voucher with an optimistic version check. The
// provided Version must match the stored one; on success the caller's
// copy is synchronized with the bumped version and fresh updated_at.
func (r *VoucherRepo) Update(ctx context.Context, kind vouchers.Kind, year int, v *vouchers.Voucher) error {
	if !kind.Valid() {
		return apperror.NewInvalidKind(string(kind))
	}
	table := kind.TableName(year)

	sql, args, err := r.builder().
		Update(table).
		SetMap(headerMap(v)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": v.ID}).
		Where(squirrel.Eq{"version": v.Version}).
		Suffix("RETURNING version, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	err = querier.QueryRow(ctx, sql, args...).Scan(&v.Version, &v.UpdatedAt)
	if err != nil {
		if isUndefinedTable(err) {
			return apperror.NewNotFound("voucher", v.ID.String()).
				WithDetail("year", year)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a stale version from a vanished voucher.
			if _, getErr := r.GetByID(ctx, kind, year, v.ID); apperror.IsNotFound(getErr) {
				return getErr
			}
			return apperror.NewConcurrentModification("voucher", v.ID.String())
		}
		return fmt.Errorf("update %s: %w", table, err)
	}

	return nil
}

// Delete removes a voucher by id from one year's table. Other years are
// never touched.
func (r *VoucherRepo) Delete(ctx context.Context, kind vouchers.Kind, year int, voucherID id.ID) error {
	if !kind.Valid() {
		return apperror.NewInvalidKind(string(kind))
	}
	table := kind.TableName(year)

	sql, args, err := r.builder().
		Delete(table).
		Where(squirrel.Eq{"id": voucherID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	result, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return apperror.NewNotFound("voucher", voucherID.String()).
				WithDetail("year", year)
		}
		return fmt.Errorf("delete from %s: %w", table, err)
	}

	if result.RowsAffected() == 0 {
		return apperror.NewNotFound("voucher", voucherID.String()).
			WithDetail("year", year)
	}

	return nil
}

// QueryYear applies the filter against one year's table. A year whose
// table has not been created yet yields an empty result.
func (r *VoucherRepo) QueryYear(ctx context.Context, kind vouchers.Kind, year int, f vouchers.YearFilter) ([]vouchers.Voucher, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	table := kind.TableName(year)

	q := r.builder().
		Select(voucherColumns...).
		From(table)

	if f.CreatedFrom != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		q = q.Where(squirrel.Lt{"created_at": *f.CreatedTo})
	}
	if f.NewestFirst {
		q = q.OrderBy("date DESC", "created_at DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	result := make([]vouchers.Voucher, 0)
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &result, sql, args...); err != nil {
		if isUndefinedTable(err) {
			return result, nil
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	return result, nil
}

// ListYears discovers existing yearly tables for the kind by catalog
// introspection. Table names that merely share the prefix (backups,
// renamed copies) are filtered out by the strict name pattern.
func (r *VoucherRepo) ListYears(ctx context.Context, kind vouchers.Kind) ([]int, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}

	sql := `SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE $1`
	pattern := kind.TablePrefix() + `\_%`

	var names []string
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &names, sql, pattern); err != nil {
		return nil, apperror.NewStorageUnavailable(err).
			WithDetail("operation", "list_years")
	}

	years := make([]int, 0, len(names))
	for _, name := range names {
		if year, ok := kind.YearFromTable(name); ok {
			years = append(years, year)
		}
	}
	sort.Ints(years)

	return years, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
