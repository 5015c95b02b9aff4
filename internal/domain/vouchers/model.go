package vouchers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
)

// Voucher is a single accounting transaction document: header fields plus
// an embedded list of line items. The calendar year of Date selects the
// physical table the voucher lives in; moving a voucher across years is
// not supported.
type Voucher struct {
	ID id.ID `db:"id" json:"id"`

	// Date is the business date; its year is the partition key.
	Date time.Time `db:"date" json:"date"`

	Group            string `db:"group_name" json:"group"`
	Company          string `db:"company" json:"company"`
	Project          string `db:"project" json:"project"`
	TransactionType  string `db:"transaction_type" json:"transactionType"`
	AccountingPeriod string `db:"accounting_period" json:"accountingPeriod"`
	Currency         string `db:"currency" json:"currency"`

	// LastVoucher is a free-text label referencing the preceding voucher.
	LastVoucher string `db:"last_voucher" json:"lastVoucher"`

	// Counterpart is the other party: paidFrom for payment vouchers,
	// receivedFrom for received vouchers. The DTO layer renders the
	// kind-specific field name.
	Counterpart string `db:"counterpart" json:"counterpart"`

	// CashBalance is the running cash balance after this voucher.
	CashBalance decimal.Decimal `db:"cash_balance" json:"cashBalance"`

	// Status is voucher-level approval: true = approved, false = pending.
	Status bool `db:"status" json:"status"`

	// Rows are the line items, stored embedded with the header as one
	// JSONB value and always written as a whole list.
	Rows []VoucherRow `db:"voucher_rows" json:"voucherRows"`

	// Version supports optimistic locking on updates.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// VoucherRow is one line item within a voucher, individually identified
// and individually approvable. Its lifetime is bound to the parent.
type VoucherRow struct {
	ID             id.ID           `json:"id"`
	ExpenseHead    string          `json:"expenseHead"`
	CostCenter     string          `json:"costCenter"`
	Reference      string          `json:"reference"`
	AmountFC       decimal.Decimal `json:"amountFC"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
	AmountBDT      decimal.Decimal `json:"amountBDT"`
	Narration      string          `json:"narration"`
	ChequeNo       string          `json:"chequeNo"`
	PaidTo         string          `json:"paidTo"`
	Status         bool            `json:"status"`
}

// TaggedVoucher is a voucher annotated with the yearly table it was read
// from during cross-year aggregation. SourceYear is a read-time annotation
// and is never persisted.
type TaggedVoucher struct {
	Voucher
	SourceYear int `json:"sourceYear"`
}

// NewVoucher creates a voucher with a generated id and timestamps.
// Row ids are assigned for any rows that arrived without one.
func NewVoucher(date time.Time) *Voucher {
	now := time.Now().UTC()
	return &Voucher{
		ID:        id.New(),
		Date:      date,
		Rows:      make([]VoucherRow, 0),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AssignRowIDs gives store-generated identifiers to rows that have none.
// Existing row ids are immutable and never touched.
func (v *Voucher) AssignRowIDs() {
	for i := range v.Rows {
		if id.IsNil(v.Rows[i].ID) {
			v.Rows[i].ID = id.New()
		}
	}
}

// EffectiveRowStatus reports whether a row counts as approved for
// aggregate and report computations: the parent being approved approves
// every row, an approved row stands on its own. Logical OR, not AND.
func (v *Voucher) EffectiveRowStatus(row VoucherRow) bool {
	return v.Status || row.Status
}

// ApprovedAmount sums AmountBDT over effectively approved rows.
func (v *Voucher) ApprovedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, row := range v.Rows {
		if v.EffectiveRowStatus(row) {
			total = total.Add(row.AmountBDT)
		}
	}
	return total
}

// Touch updates the modification timestamp and bumps the version.
func (v *Voucher) Touch() {
	v.UpdatedAt = time.Now().UTC()
	v.Version++
}

// Validate checks voucher invariants that need no database access.
func (v *Voucher) Validate(ctx context.Context) error {
	if v.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}

	seen := make(map[id.ID]struct{}, len(v.Rows))
	for i, row := range v.Rows {
		if id.IsNil(row.ID) {
			return apperror.NewValidation("row id is required").
				WithDetail("field", "voucherRows").
				WithDetail("rowNo", i+1)
		}
		if _, dup := seen[row.ID]; dup {
			return apperror.NewValidation("duplicate row id").
				WithDetail("field", "voucherRows").
				WithDetail("rowId", row.ID.String())
		}
		seen[row.ID] = struct{}{}
	}

	return nil
}
