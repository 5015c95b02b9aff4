package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/internal/domain/vouchers"
)

// parseOptionalRowID accepts a client-supplied row id or blank for a
// store-assigned one.
func parseOptionalRowID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil(), nil
	}
	rowID, err := id.Parse(s)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid row id format").
			WithDetail("id", s)
	}
	return rowID, nil
}

// --- Requests ---

// CreateVoucherRowRequest is one line item on a create request. Row ids
// may be supplied by the client or left blank for the service to assign.
type CreateVoucherRowRequest struct {
	ID             string          `json:"id"`
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

// CreateVoucherRequest creates a voucher. The counterparty arrives as
// paidFrom on payment vouchers and receivedFrom on received vouchers;
// whichever is set for the kind wins.
type CreateVoucherRequest struct {
	Date             time.Time       `json:"date" binding:"required"`
	Group            string          `json:"group"`
	Company          string          `json:"company"`
	Project          string          `json:"project"`
	TransactionType  string          `json:"transactionType"`
	AccountingPeriod string          `json:"accountingPeriod"`
	Currency         string          `json:"currency"`
	LastVoucher      string          `json:"lastVoucher"`
	PaidFrom         string          `json:"paidFrom"`
	ReceivedFrom     string          `json:"receivedFrom"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	Status           bool            `json:"status"`

	Rows []CreateVoucherRowRequest `json:"voucherRows"`
}

// ToEntity builds a domain voucher from the request.
func (r CreateVoucherRequest) ToEntity(kind vouchers.Kind) (*vouchers.Voucher, error) {
	v := vouchers.NewVoucher(r.Date)
	v.Group = r.Group
	v.Company = r.Company
	v.Project = r.Project
	v.TransactionType = r.TransactionType
	v.AccountingPeriod = r.AccountingPeriod
	v.Currency = r.Currency
	v.LastVoucher = r.LastVoucher
	v.CashBalance = r.CashBalance
	v.Status = r.Status

	v.Counterpart = r.PaidFrom
	if kind == vouchers.KindReceived {
		v.Counterpart = r.ReceivedFrom
	}

	v.Rows = make([]vouchers.VoucherRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		rowID, err := parseOptionalRowID(row.ID)
		if err != nil {
			return nil, err
		}
		v.Rows = append(v.Rows, vouchers.VoucherRow{
			ID:             rowID,
			ExpenseHead:    row.ExpenseHead,
			CostCenter:     row.CostCenter,
			Reference:      row.Reference,
			AmountFC:       row.AmountFC,
			ConversionRate: row.ConversionRate,
			AmountBDT:      row.AmountBDT,
			Narration:      row.Narration,
			ChequeNo:       row.ChequeNo,
			PaidTo:         row.PaidTo,
			Status:         row.Status,
		})
	}

	return v, nil
}

// UpdateVoucherRequest is a partial voucher update. Absent fields keep
// stored values. A present voucherRows key (even an empty list) triggers
// the row merge; an absent key leaves stored rows untouched.
type UpdateVoucherRequest struct {
	Group            *string          `json:"group"`
	Company          *string          `json:"company"`
	Project          *string          `json:"project"`
	TransactionType  *string          `json:"transactionType"`
	AccountingPeriod *string          `json:"accountingPeriod"`
	Currency         *string          `json:"currency"`
	LastVoucher      *string          `json:"lastVoucher"`
	PaidFrom         *string          `json:"paidFrom"`
	ReceivedFrom     *string          `json:"receivedFrom"`
	CashBalance      *decimal.Decimal `json:"cashBalance"`
	Status           *bool            `json:"status"`

	Rows *[]vouchers.RowPatch `json:"voucherRows"`
}

// ToPatch converts the request into a domain update patch.
func (r UpdateVoucherRequest) ToPatch(kind vouchers.Kind) vouchers.UpdatePatch {
	patch := vouchers.UpdatePatch{
		Group:            r.Group,
		Company:          r.Company,
		Project:          r.Project,
		TransactionType:  r.TransactionType,
		AccountingPeriod: r.AccountingPeriod,
		Currency:         r.Currency,
		LastVoucher:      r.LastVoucher,
		CashBalance:      r.CashBalance,
		Status:           r.Status,
	}

	patch.Counterpart = r.PaidFrom
	if kind == vouchers.KindReceived {
		patch.Counterpart = r.ReceivedFrom
	}

	if r.Rows != nil {
		patch.Rows = *r.Rows
		patch.HasRows = true
	}

	return patch
}

// DeleteVoucherRequest carries the target id when the client sends it in
// the request body instead of a query parameter.
type DeleteVoucherRequest struct {
	ID string `json:"id"`
}

// --- Responses ---

// VoucherRowResponse is one line item on a response.
type VoucherRowResponse struct {
	ID             string          `json:"id"`
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

// VoucherResponse renders a voucher. The counterparty field name depends
// on the kind: paidFrom for payment vouchers, receivedFrom for received.
type VoucherResponse struct {
	ID               string          `json:"id"`
	Date             time.Time       `json:"date"`
	Group            string          `json:"group"`
	Company          string          `json:"company"`
	Project          string          `json:"project"`
	TransactionType  string          `json:"transactionType"`
	AccountingPeriod string          `json:"accountingPeriod"`
	Currency         string          `json:"currency"`
	LastVoucher      string          `json:"lastVoucher"`
	PaidFrom         string          `json:"paidFrom,omitempty"`
	ReceivedFrom     string          `json:"receivedFrom,omitempty"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	Status           bool            `json:"status"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`

	Rows []VoucherRowResponse `json:"voucherRows"`
}

// ChangeHistoryEntryResponse is one recorded mutation of a voucher.
// Payload is the voucher state captured at the time of the change.
type ChangeHistoryEntryResponse struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AggregateVoucherResponse is a voucher annotated with the yearly table
// it was read from.
type AggregateVoucherResponse struct {
	VoucherResponse
	SourceYear int `json:"sourceYear"`
}

// FromVoucher creates VoucherResponse from a domain voucher.
func FromVoucher(kind vouchers.Kind, v *vouchers.Voucher) VoucherResponse {
	resp := VoucherResponse{
		ID:               v.ID.String(),
		Date:             v.Date,
		Group:            v.Group,
		Company:          v.Company,
		Project:          v.Project,
		TransactionType:  v.TransactionType,
		AccountingPeriod: v.AccountingPeriod,
		Currency:         v.Currency,
		LastVoucher:      v.LastVoucher,
		CashBalance:      v.CashBalance,
		Status:           v.Status,
		Version:          v.Version,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
		Rows:             make([]VoucherRowResponse, 0, len(v.Rows)),
	}

	if kind == vouchers.KindReceived {
		resp.ReceivedFrom = v.Counterpart
	} else {
		resp.PaidFrom = v.Counterpart
	}

	for _, row := range v.Rows {
		resp.Rows = append(resp.Rows, VoucherRowResponse{
			ID:             row.ID.String(),
			ExpenseHead:    row.ExpenseHead,
			CostCenter:     row.CostCenter,
			Reference:      row.Reference,
			AmountFC:       row.AmountFC,
			ConversionRate: row.ConversionRate,
			AmountBDT:      row.AmountBDT,
			Narration:      row.Narration,
			ChequeNo:       row.ChequeNo,
			PaidTo:         row.PaidTo,
			Status:         row.Status,
		})
	}

	return resp
}

// FromVoucherList maps a year listing.
func FromVoucherList(kind vouchers.Kind, list []vouchers.Voucher) []VoucherResponse {
	out := make([]VoucherResponse, 0, len(list))
	for i := range list {
		out = append(out, FromVoucher(kind, &list[i]))
	}
	return out
}

// FromTaggedVouchers maps a cross-year aggregation result.
func FromTaggedVouchers(kind vouchers.Kind, list []vouchers.TaggedVoucher) []AggregateVoucherResponse {
	out := make([]AggregateVoucherResponse, 0, len(list))
	for i := range list {
		out = append(out, AggregateVoucherResponse{
			VoucherResponse: FromVoucher(kind, &list[i].Voucher),
			SourceYear:      list[i].SourceYear,
		})
	}
	return out
}
