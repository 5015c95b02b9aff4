package vouchers

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/internal/core/tx"
	"fiscus/pkg/logger"
)

// ChangeRecorder captures voucher mutations for the audit trail.
// Implementations are best-effort: a failed recording must never fail
// the business write.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, action string, kind Kind, voucherID id.ID, payload any)
}

// ServiceConfig holds voucher service options.
type ServiceConfig struct {
	// UnmatchedPolicy decides the fate of row patches naming no existing
	// row. Default is to ignore them.
	UnmatchedPolicy UnmatchedRowPolicy

	// ListCap bounds single-year listings.
	ListCap int
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		UnmatchedPolicy: UnmatchedIgnore,
		ListCap:         100,
	}
}

// Service provides business operations for payment and received vouchers.
type Service struct {
	repo       Repository
	aggregator *Aggregator
	txManager  tx.Manager // optional; nil runs without a transaction
	recorder   ChangeRecorder
	cfg        ServiceConfig
}

// NewService creates a voucher service.
func NewService(repo Repository, aggregator *Aggregator, txManager tx.Manager, recorder ChangeRecorder, cfg ServiceConfig) *Service {
	if cfg.ListCap <= 0 {
		cfg.ListCap = DefaultServiceConfig().ListCap
	}
	return &Service{
		repo:       repo,
		aggregator: aggregator,
		txManager:  txManager,
		recorder:   recorder,
		cfg:        cfg,
	}
}

func (s *Service) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txManager == nil {
		return fn(ctx)
	}
	return s.txManager.RunInTransaction(ctx, fn)
}

func (s *Service) record(ctx context.Context, action string, kind Kind, voucherID id.ID, payload any) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordChange(ctx, action, kind, voucherID, payload)
}

// Create inserts a voucher into the yearly table derived from its date.
// Header and initial rows land atomically as one document.
func (s *Service) Create(ctx context.Context, kind Kind, v *Voucher) error {
	if !kind.Valid() {
		return apperror.NewInvalidKind(string(kind))
	}

	v.AssignRowIDs()
	if err := v.Validate(ctx); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, kind, v); err != nil {
		return err
	}

	// The insert may have created this year's table for the first time.
	s.aggregator.InvalidateYears(kind)

	s.record(ctx, "create", kind, v.ID, v)
	logger.Info(ctx, "voucher created",
		"kind", kind,
		"id", v.ID,
		"year", PartitionYear(v.Date),
		"rows", len(v.Rows),
	)
	return nil
}

// GetByID fetches one voucher from the given year's table.
func (s *Service) GetByID(ctx context.Context, kind Kind, year int, voucherID id.ID) (*Voucher, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	return s.repo.GetByID(ctx, kind, year, voucherID)
}

// ListForYear returns one year's vouchers, most recent first, capped.
func (s *Service) ListForYear(ctx context.Context, kind Kind, year int) ([]Voucher, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	if err := ValidatePartitionYear(year); err != nil {
		return nil, err
	}
	return s.repo.QueryYear(ctx, kind, year, YearFilter{
		NewestFirst: true,
		Limit:       s.cfg.ListCap,
	})
}

// ListAcrossYears aggregates over every existing yearly table, optionally
// restricted to vouchers created during the local calendar day.
func (s *Service) ListAcrossYears(ctx context.Context, kind Kind, todayOnly, strict bool) (AggregateResult, error) {
	if todayOnly {
		return s.aggregator.Today(ctx, kind, strict)
	}
	return s.aggregator.AllYears(ctx, kind, YearFilter{NewestFirst: true}, strict)
}

// UpdatePatch is a partial voucher update. Nil header fields keep their
// stored values. A non-nil Rows slice triggers the row merge; an absent
// voucherRows key leaves the stored rows untouched.
type UpdatePatch struct {
	Group            *string
	Company          *string
	Project          *string
	TransactionType  *string
	AccountingPeriod *string
	Currency         *string
	LastVoucher      *string
	Counterpart      *string
	CashBalance      *decimal.Decimal
	Status           *bool
	Rows             []RowPatch
	HasRows          bool
}

func (p UpdatePatch) applyHeader(v *Voucher) {
	if p.Group != nil {
		v.Group = *p.Group
	}
	if p.Company != nil {
		v.Company = *p.Company
	}
	if p.Project != nil {
		v.Project = *p.Project
	}
	if p.TransactionType != nil {
		v.TransactionType = *p.TransactionType
	}
	if p.AccountingPeriod != nil {
		v.AccountingPeriod = *p.AccountingPeriod
	}
	if p.Currency != nil {
		v.Currency = *p.Currency
	}
	if p.LastVoucher != nil {
		v.LastVoucher = *p.LastVoucher
	}
	if p.Counterpart != nil {
		v.Counterpart = *p.Counterpart
	}
	if p.CashBalance != nil {
		v.CashBalance = *p.CashBalance
	}
	if p.Status != nil {
		v.Status = *p.Status
	}
}

// Update applies a partial update. When the patch carries rows, the merge
// is computed in full against the stored rows before anything is written,
// and the merged list replaces the stored voucher_rows wholesale. The
// read-merge-write cycle runs inside one transaction with an optimistic
// version check, so a concurrent update surfaces as a conflict instead of
// a silent lost write.
func (s *Service) Update(ctx context.Context, kind Kind, year int, voucherID id.ID, patch UpdatePatch) (*Voucher, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}

	var updated *Voucher
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, kind, year, voucherID)
		if err != nil {
			return err
		}

		patch.applyHeader(v)

		if patch.HasRows {
			merged, err := MergeRows(v.Rows, patch.Rows, s.cfg.UnmatchedPolicy)
			if err != nil {
				return err
			}
			v.Rows = merged
		}

		if err := v.Validate(ctx); err != nil {
			return err
		}

		if err := s.repo.Update(ctx, kind, year, v); err != nil {
			return fmt.Errorf("update voucher: %w", err)
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, "update", kind, voucherID, updated)
	logger.Info(ctx, "voucher updated",
		"kind", kind,
		"id", voucherID,
		"year", year,
		"rows_patched", len(patch.Rows),
	)
	return updated, nil
}

// Delete removes a voucher by id from one year's table. Other years are
// never touched.
func (s *Service) Delete(ctx context.Context, kind Kind, year int, voucherID id.ID) error {
	if !kind.Valid() {
		return apperror.NewInvalidKind(string(kind))
	}

	if err := s.repo.Delete(ctx, kind, year, voucherID); err != nil {
		return err
	}

	s.record(ctx, "delete", kind, voucherID, nil)
	logger.Info(ctx, "voucher deleted", "kind", kind, "id", voucherID, "year", year)
	return nil
}

// YearTotal is one year's contribution to the approved-amount summary.
type YearTotal struct {
	Year     int             `json:"year"`
	Vouchers int             `json:"vouchers"`
	Approved decimal.Decimal `json:"approved"`
}

// KindSummary aggregates effectively-approved amounts across all years of
// a kind. A row counts when its parent is approved or the row itself is.
type KindSummary struct {
	Kind        Kind            `json:"kind"`
	Total       decimal.Decimal `json:"total"`
	Vouchers    int             `json:"vouchers"`
	ByYear      []YearTotal     `json:"byYear"`
	FailedYears []int           `json:"failedYears,omitempty"`
}

// Summary computes cross-year approved totals for a kind.
func (s *Service) Summary(ctx context.Context, kind Kind, strict bool) (KindSummary, error) {
	result, err := s.aggregator.AllYears(ctx, kind, YearFilter{}, strict)
	if err != nil {
		return KindSummary{}, err
	}

	byYear := make(map[int]*YearTotal)
	total := decimal.Zero
	for _, tv := range result.Vouchers {
		yt, ok := byYear[tv.SourceYear]
		if !ok {
			yt = &YearTotal{Year: tv.SourceYear, Approved: decimal.Zero}
			byYear[tv.SourceYear] = yt
		}
		approved := tv.ApprovedAmount()
		yt.Vouchers++
		yt.Approved = yt.Approved.Add(approved)
		total = total.Add(approved)
	}

	summary := KindSummary{
		Kind:        kind,
		Total:       total,
		Vouchers:    len(result.Vouchers),
		ByYear:      make([]YearTotal, 0, len(byYear)),
		FailedYears: result.FailedYears(),
	}
	for _, yt := range byYear {
		summary.ByYear = append(summary.ByYear, *yt)
	}
	sort.Slice(summary.ByYear, func(i, j int) bool {
		return summary.ByYear[i].Year > summary.ByYear[j].Year
	})
	return summary, nil
}
