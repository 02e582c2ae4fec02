package repository

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/forward-settlement/internal/domain"
)

var dbTracer = otel.Tracer("postgres")

// PostgresRepository is the durable settlement archive, the source of truth
// for settlement history and fee aggregates.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InitSchema creates the archive table when it does not exist.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			seq           BIGINT PRIMARY KEY,
			pool_id       TEXT NOT NULL,
			order_id      BIGINT NOT NULL,
			outcome       TEXT NOT NULL,
			fee           BIGINT NOT NULL,
			seller_payout BIGINT NOT NULL,
			buyer_payout  BIGINT NOT NULL,
			settled_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS settlements_pool_idx ON settlements (pool_id, seq DESC)
	`)
	return err
}

// ArchiveSettlement inserts one settled order. The sequence primary key makes
// redelivery idempotent.
func (r *PostgresRepository) ArchiveSettlement(ctx context.Context, rec SettlementRecord) error {
	ctx, span := dbTracer.Start(ctx, "postgres.archive_settlement",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "settlements"),
			attribute.String("pool_id", rec.PoolID),
			attribute.Int64("seq", int64(rec.Seq)),
		))
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settlements (seq, pool_id, order_id, outcome, fee, seller_payout, buyer_payout)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (seq) DO NOTHING
	`, rec.Seq, rec.PoolID, rec.OrderID, string(rec.Outcome), rec.Fee, rec.SellerPayout, rec.BuyerPayout)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// TopPoolsByFee aggregates accrued fee per pool.
func (r *PostgresRepository) TopPoolsByFee(ctx context.Context, n int) ([]PoolFeeEntry, error) {
	ctx, span := dbTracer.Start(ctx, "postgres.top_pools_by_fee",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "settlements"),
			attribute.Int("limit", n),
		))
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			pool_id,
			SUM(fee) AS total_fee,
			RANK() OVER (ORDER BY SUM(fee) DESC) AS rank
		FROM settlements
		GROUP BY pool_id
		ORDER BY total_fee DESC
		LIMIT $1
	`, n)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var entries []PoolFeeEntry
	for rows.Next() {
		var entry PoolFeeEntry
		if err := rows.Scan(&entry.PoolID, &entry.Fee, &entry.Rank); err != nil {
			span.RecordError(err)
			return nil, err
		}
		entries = append(entries, entry)
	}

	span.SetAttributes(attribute.Int("result.count", len(entries)))
	return entries, rows.Err()
}

// RecentSettlements returns the latest settlements of one pool, newest first.
func (r *PostgresRepository) RecentSettlements(ctx context.Context, poolID string, limit int) ([]SettlementRecord, error) {
	ctx, span := dbTracer.Start(ctx, "postgres.recent_settlements",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "settlements"),
			attribute.String("pool_id", poolID),
		))
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, pool_id, order_id, outcome, fee, seller_payout, buyer_payout, settled_at
		FROM settlements
		WHERE pool_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, poolID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var records []SettlementRecord
	for rows.Next() {
		var rec SettlementRecord
		var outcome string
		if err := rows.Scan(&rec.Seq, &rec.PoolID, &rec.OrderID, &outcome, &rec.Fee, &rec.SellerPayout, &rec.BuyerPayout, &rec.SettledAt); err != nil {
			span.RecordError(err)
			return nil, err
		}
		rec.Outcome = domain.SettlementOutcome(outcome)
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("result.count", len(records)))
	return records, rows.Err()
}
