package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "fiscus/internal/core/context"
	"fiscus/internal/core/id"
	"fiscus/internal/domain/vouchers"
	"fiscus/pkg/logger"
)

// CompressionAlgo specifies the compression applied to an audit payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is one recorded voucher mutation. The payload is the full
// voucher state after the change (or the deleted id), compressed when
// large.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	Kind              string          `db:"kind"`
	VoucherID         id.ID           `db:"voucher_id"`
	Action            string          `db:"action"`
	RequestID         string          `db:"request_id"`
	Payload           json.RawMessage `db:"payload"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

const auditSchemaDDL = `
CREATE TABLE IF NOT EXISTS voucher_audit (
	id                 UUID PRIMARY KEY,
	kind               TEXT NOT NULL,
	voucher_id         UUID NOT NULL,
	action             TEXT NOT NULL,
	request_id         TEXT NOT NULL DEFAULT '',
	payload            JSONB,
	payload_compressed BYTEA,
	compression_algo   TEXT NOT NULL DEFAULT 'none',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS voucher_audit_voucher_idx ON voucher_audit (voucher_id, created_at DESC)`

// AuditRecorder persists voucher change history. Recording is
// best-effort: failures are logged and never surfaced to the business
// write that triggered them.
type AuditRecorder struct {
	txManager *TxManager
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	log       *logger.Logger

	// compressThreshold is the payload size in bytes above which zstd
	// kicks in.
	compressThreshold int
}

var _ vouchers.ChangeRecorder = (*AuditRecorder)(nil)

// NewAuditRecorder creates an audit recorder and ensures its table exists.
func NewAuditRecorder(ctx context.Context, txManager *TxManager, log *logger.Logger) (*AuditRecorder, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	r := &AuditRecorder{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		log:               log.WithComponent("audit"),
		compressThreshold: 10 * 1024,
	}

	if _, err := txManager.GetQuerier(ctx).Exec(ctx, auditSchemaDDL); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	return r, nil
}

// RecordChange implements vouchers.ChangeRecorder.
func (r *AuditRecorder) RecordChange(ctx context.Context, action string, kind vouchers.Kind, voucherID id.ID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Warnw("audit payload marshal failed", "action", action, "voucher_id", voucherID, "error", err)
		return
	}

	entry := AuditEntry{
		ID:              id.New(),
		Kind:            string(kind),
		VoucherID:       voucherID,
		Action:          action,
		RequestID:       appctx.GetRequestID(ctx),
		Payload:         raw,
		CompressionAlgo: CompressionNone,
		CreatedAt:       time.Now().UTC(),
	}

	if len(raw) > r.compressThreshold {
		entry.PayloadCompressed = r.encoder.EncodeAll(raw, nil)
		entry.Payload = nil
		entry.CompressionAlgo = CompressionZstd
	}

	sql := `
		INSERT INTO voucher_audit (
			id, kind, voucher_id, action, request_id,
			payload, payload_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql,
		entry.ID, entry.Kind, entry.VoucherID, entry.Action, entry.RequestID,
		entry.Payload, entry.PayloadCompressed, entry.CompressionAlgo, entry.CreatedAt,
	); err != nil {
		r.log.Warnw("audit insert failed", "action", action, "voucher_id", voucherID, "error", err)
	}
}

// History returns the most recent audit entries for a voucher, newest
// first, with compressed payloads inflated.
func (r *AuditRecorder) History(ctx context.Context, voucherID id.ID, limit int) ([]AuditEntry, error) {
	sql := `
		SELECT id, kind, voucher_id, action, request_id,
			   payload, payload_compressed, compression_algo, created_at
		FROM voucher_audit
		WHERE voucher_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.txManager.GetQuerier(ctx).Query(ctx, sql, voucherID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.Kind, &e.VoucherID, &e.Action, &e.RequestID,
			&e.Payload, &e.PayloadCompressed, &e.CompressionAlgo, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		if e.CompressionAlgo == CompressionZstd && len(e.PayloadCompressed) > 0 {
			inflated, err := r.decoder.DecodeAll(e.PayloadCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress audit payload: %w", err)
			}
			e.Payload = inflated
			e.PayloadCompressed = nil
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
