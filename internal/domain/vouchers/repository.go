package vouchers

import (
	"context"
	"time"

	"fiscus/internal/core/id"
)

// YearFilter narrows a query against one yearly table.
type YearFilter struct {
	// CreatedFrom/CreatedTo bound createdAt as [from, to). Nil means
	// unbounded on that side.
	CreatedFrom *time.Time
	CreatedTo   *time.Time

	// NewestFirst sorts by date descending. The sort applies within one
	// yearly table only; cross-year aggregation imposes no global order.
	NewestFirst bool

	// Limit caps the result count. Zero means no cap.
	Limit int
}

// Repository defines storage operations for vouchers. Implementations
// resolve the physical yearly table through the partition registry.
type Repository interface {
	// Create inserts the voucher (header plus initial rows) as one
	// document into the table for the year of its date, creating the
	// table on first use.
	Create(ctx context.Context, kind Kind, v *Voucher) error

	// GetByID retrieves a voucher from the given year's table.
	GetByID(ctx context.Context, kind Kind, year int, voucherID id.ID) (*Voucher, error)

	// Update persists the full voucher with an optimistic version check.
	// The row list replaces the stored voucher_rows value in one write.
	Update(ctx context.Context, kind Kind, year int, v *Voucher) error

	// Delete removes a voucher by id. Never cascades to other years.
	Delete(ctx context.Context, kind Kind, year int, voucherID id.ID) error

	// QueryYear applies the filter against one year's table. A year
	// whose table does not exist yields an empty result, not an error.
	QueryYear(ctx context.Context, kind Kind, year int, f YearFilter) ([]Voucher, error)

	// ListYears discovers which yearly tables currently exist for the
	// kind by introspecting the store catalog. Distinct years, no false
	// positives.
	ListYears(ctx context.Context, kind Kind) ([]int, error)
}
