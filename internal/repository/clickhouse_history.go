package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/woodid012/plugit/internal/domain/models"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	pkgch "github.com/woodid012/plugit/pkg/clickhouse"
)

// HistorySchema creates the append-only price history table. Every accepted
// field write lands here once; the latest state lives in the document store.
var HistorySchema = []string{
	`CREATE DATABASE IF NOT EXISTS nem`,
	`CREATE TABLE IF NOT EXISTS nem.price_history (
        region      LowCardinality(String),
        ts          DateTime('UTC'),
        class       LowCardinality(String),
        file_id     String,
        price       Float64,
        recorded_at DateTime('UTC')
    ) ENGINE = MergeTree()
    PARTITION BY toYYYYMM(ts)
    ORDER BY (region, ts, class, file_id)`,
}

// ClickHouseHistory implements HistorySink against nem.price_history.
type ClickHouseHistory struct {
	db    *sql.DB
	table string
}

// NewClickHouseHistory creates the sink.
func NewClickHouseHistory(ch *pkgch.Client) domrepo.HistorySink {
	return &ClickHouseHistory{db: ch.DB(), table: "nem.price_history"}
}

func (h *ClickHouseHistory) Append(ctx context.Context, entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	// One multi-row insert per batch; a sync pass produces at most a few
	// hundred entries.
	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*6)
	for _, e := range entries {
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.Region,
			e.Timestamp.UTC(),
			e.Class.String(),
			e.FileID,
			e.Price,
			e.RecordedAt.UTC(),
		)
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (region, ts, class, file_id, price, recorded_at) VALUES %s",
		h.table, strings.Join(values, ","),
	)
	if _, err := h.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// NopHistory drops entries; used when the archive is disabled.
type NopHistory struct{}

func (NopHistory) Append(context.Context, []models.HistoryEntry) error { return nil }

var _ domrepo.HistorySink = NopHistory{}
