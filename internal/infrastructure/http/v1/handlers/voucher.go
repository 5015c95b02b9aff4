package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fiscus/internal/core/apperror"
	"fiscus/internal/core/id"
	"fiscus/internal/domain/vouchers"
	"fiscus/internal/infrastructure/http/v1/dto"
	"fiscus/internal/infrastructure/storage/postgres"
)

// ChangeHistory reads back recorded voucher mutations, newest first.
// Implemented by postgres.AuditRecorder.
type ChangeHistory interface {
	History(ctx context.Context, voucherID id.ID, limit int) ([]postgres.AuditEntry, error)
}

// VoucherHandler handles HTTP requests for payment and received vouchers.
// The kind arrives as a path parameter, so both kinds share one handler.
type VoucherHandler struct {
	*BaseHandler
	service *vouchers.Service
	history ChangeHistory
}

// NewVoucherHandler creates a voucher handler.
func NewVoucherHandler(base *BaseHandler, service *vouchers.Service, history ChangeHistory) *VoucherHandler {
	return &VoucherHandler{
		BaseHandler: base,
		service:     service,
		history:     history,
	}
}

func currentYear() int {
	return time.Now().Local().Year()
}

func (h *VoucherHandler) kind(c *gin.Context) (vouchers.Kind, bool) {
	kind, err := vouchers.ParseKind(c.Param("kind"))
	if err != nil {
		h.Error(c, err)
		return "", false
	}
	return kind, true
}

func (h *VoucherHandler) yearParam(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid year").WithDetail("year", c.Param("year")))
		return 0, false
	}
	if err := vouchers.ValidatePartitionYear(year); err != nil {
		h.Error(c, err)
		return 0, false
	}
	return year, true
}

func (h *VoucherHandler) idParam(c *gin.Context) (id.ID, bool) {
	voucherID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid id format").WithDetail("id", c.Param("id")))
		return id.Nil(), false
	}
	return voucherID, true
}

// Create handles POST /vouchers/:kind.
// The voucher lands in the yearly table derived from its date.
func (h *VoucherHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}

	var req dto.CreateVoucherRequest
	if !h.BindJSON(c, &req) {
		return
	}

	v, err := req.ToEntity(kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.Create(ctx, kind, v); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromVoucher(kind, v))
}

// ListYear handles GET /vouchers/:kind?year=2024 - one year's vouchers,
// newest first. Without a year parameter the current year is listed.
func (h *VoucherHandler) ListYear(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}

	year := currentYear()
	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid year").WithDetail("year", raw))
			return
		}
		year = parsed
	}

	list, err := h.service.ListForYear(ctx, kind, year)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := dto.FromVoucherList(kind, list)
	h.OK(c, dto.ListResponse{Items: items, Count: len(items)})
}

// ListAll handles GET /vouchers/:kind/all - aggregation across every
// yearly table. Query flags: today=1 restricts to vouchers created during
// the current local day; strict=1 fails the request when any year is lost
// instead of returning partial data.
func (h *VoucherHandler) ListAll(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}

	todayOnly := h.BoolQuery(c, "today")
	strict := h.BoolQuery(c, "strict")

	result, err := h.service.ListAcrossYears(ctx, kind, todayOnly, strict)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := dto.FromTaggedVouchers(kind, result.Vouchers)
	h.OK(c, dto.AggregateListResponse{
		Items:       items,
		Count:       len(items),
		FailedYears: result.FailedYears(),
	})
}

// Summary handles GET /vouchers/:kind/summary - cross-year approved
// amount totals.
func (h *VoucherHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}

	summary, err := h.service.Summary(ctx, kind, h.BoolQuery(c, "strict"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, summary)
}

// Get handles GET /vouchers/:kind/:year/:id.
func (h *VoucherHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}
	year, ok := h.yearParam(c)
	if !ok {
		return
	}
	voucherID, ok := h.idParam(c)
	if !ok {
		return
	}

	v, err := h.service.GetByID(ctx, kind, year, voucherID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromVoucher(kind, v))
}

// Update handles PATCH /vouchers/:kind/:year/:id - partial header update
// plus row merge by row id when voucherRows is present.
func (h *VoucherHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}
	year, ok := h.yearParam(c)
	if !ok {
		return
	}
	voucherID, ok := h.idParam(c)
	if !ok {
		return
	}

	var req dto.UpdateVoucherRequest
	if !h.BindJSON(c, &req) {
		return
	}

	v, err := h.service.Update(ctx, kind, year, voucherID, req.ToPatch(kind))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromVoucher(kind, v))
}

// History handles GET /vouchers/:kind/:year/:id/history - the recorded
// mutations of one voucher, newest first. The voucher itself is fetched
// first so an unknown id reads as 404, not an empty history.
func (h *VoucherHandler) History(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}
	year, ok := h.yearParam(c)
	if !ok {
		return
	}
	voucherID, ok := h.idParam(c)
	if !ok {
		return
	}

	if _, err := h.service.GetByID(ctx, kind, year, voucherID); err != nil {
		h.Error(c, err)
		return
	}

	limit := h.ParseIntQuery(c, "limit", 50)
	entries, err := h.history.History(ctx, voucherID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.ChangeHistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.ChangeHistoryEntryResponse{
			ID:        e.ID.String(),
			Action:    e.Action,
			RequestID: e.RequestID,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}

	h.OK(c, dto.ListResponse{Items: items, Count: len(items)})
}

// Delete handles DELETE /vouchers/:kind/:year - the target id arrives as
// an id query parameter or a JSON body, query winning when both are sent.
func (h *VoucherHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	kind, ok := h.kind(c)
	if !ok {
		return
	}
	year, ok := h.yearParam(c)
	if !ok {
		return
	}

	raw := c.Query("id")
	if raw == "" {
		var req dto.DeleteVoucherRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			raw = req.ID
		}
	}
	if raw == "" {
		h.Error(c, apperror.NewValidation("id is required").WithDetail("field", "id"))
		return
	}

	voucherID, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid id format").WithDetail("id", raw))
		return
	}

	if err := h.service.Delete(ctx, kind, year, voucherID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "voucher deleted")
}
