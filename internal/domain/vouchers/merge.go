package vouchers

import (
	"github.com/shopspring/decimal"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
)

// UnmatchedRowPolicy decides what happens to a patch whose id matches no
// existing row.
type UnmatchedRowPolicy int

const (
	// UnmatchedIgnore silently drops unmatched patches.
	UnmatchedIgnore UnmatchedRowPolicy = iota

	// UnmatchedAppend appends unmatched patches as new rows at the end
	// of the list, assigning an id if the patch carries none.
	UnmatchedAppend

	// UnmatchedReject fails the whole update with a validation error.
	UnmatchedReject
)

// RowPatch is a partial update to a single voucher row. Nil fields keep
// the existing value. The id is a raw string because clients submit row
// ids in whatever form their serializer produced; both sides of the match
// are normalized before comparison.
type RowPatch struct {
	ID             string           `json:"id"`
	ExpenseHead    *string          `json:"expenseHead"`
	CostCenter     *string          `json:"costCenter"`
	Reference      *string          `json:"reference"`
	AmountFC       *decimal.Decimal `json:"amountFC"`
	ConversionRate *decimal.Decimal `json:"conversionRate"`
	AmountBDT      *decimal.Decimal `json:"amountBDT"`
	Narration      *string          `json:"narration"`
	ChequeNo       *string          `json:"chequeNo"`
	PaidTo         *string          `json:"paidTo"`
	Status         *bool            `json:"status"`
}

// applyTo overlays the patch onto a full row. Patch fields win; absent
// fields retain the row's value.
func (p RowPatch) applyTo(row VoucherRow) VoucherRow {
	if p.ExpenseHead != nil {
		row.ExpenseHead = *p.ExpenseHead
	}
	if p.CostCenter != nil {
		row.CostCenter = *p.CostCenter
	}
	if p.Reference != nil {
		row.Reference = *p.Reference
	}
	if p.AmountFC != nil {
		row.AmountFC = *p.AmountFC
	}
	if p.ConversionRate != nil {
		row.ConversionRate = *p.ConversionRate
	}
	if p.AmountBDT != nil {
		row.AmountBDT = *p.AmountBDT
	}
	if p.Narration != nil {
		row.Narration = *p.Narration
	}
	if p.ChequeNo != nil {
		row.ChequeNo = *p.ChequeNo
	}
	if p.PaidTo != nil {
		row.PaidTo = *p.PaidTo
	}
	if p.Status != nil {
		row.Status = *p.Status
	}
	return row
}

// toRow materializes an unmatched patch as a new row (append policy).
func (p RowPatch) toRow() VoucherRow {
	row := p.applyTo(VoucherRow{})
	if rowID, err := id.Parse(p.ID); err == nil {
		row.ID = rowID
	} else {
		row.ID = id.New()
	}
	return row
}

// MergeRows reconciles incoming row patches against the stored rows of a
// voucher. Rows are matched by identifier, never by position: the client
// may submit patches in any order and omit unchanged rows. Existing rows
// with no matching patch pass through untouched, and the original row
// order is always preserved. The result must be computed completely
// before any write, because the stored row list is replaced wholesale.
func MergeRows(existing []VoucherRow, patches []RowPatch, policy UnmatchedRowPolicy) ([]VoucherRow, error) {
	byID := make(map[string]RowPatch, len(patches))
	matched := make(map[string]bool, len(patches))
	for _, p := range patches {
		key := id.Normalize(p.ID)
		byID[key] = p
	}

	merged := make([]VoucherRow, 0, len(existing))
	for _, row := range existing {
		key := id.Normalize(row.ID.String())
		if patch, ok := byID[key]; ok {
			merged = append(merged, patch.applyTo(row))
			matched[key] = true
		} else {
			merged = append(merged, row)
		}
	}

	// Unmatched patches, in submission order.
	for _, p := range patches {
		key := id.Normalize(p.ID)
		if matched[key] {
			continue
		}
		switch policy {
		case UnmatchedAppend:
			merged = append(merged, p.toRow())
			matched[key] = true
		case UnmatchedReject:
			return nil, apperror.NewValidation("row patch matches no existing row").
				WithDetail("rowId", p.ID)
		case UnmatchedIgnore:
			// dropped
		}
	}

	return merged, nil
}
