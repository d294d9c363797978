package repository

import (
	"context"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
)

// RecordStore is the persistent collection of region/interval records.
// Absence is expressed as (nil, nil), not an error; only infrastructure
// failures surface as errors.
type RecordStore interface {
	EnsureIndexes(ctx context.Context) error
	Get(ctx context.Context, region string, ts time.Time) (*models.RegionIntervalRecord, error)
	Upsert(ctx context.Context, rec *models.RegionIntervalRecord) (inserted bool, err error)
	Range(ctx context.Context, region string, from, to time.Time, limit int) ([]*models.RegionIntervalRecord, error)
	// Nearest returns the record closest to at within the given window, or
	// (nil, nil) when none qualifies.
	Nearest(ctx context.Context, region string, at time.Time, within time.Duration) (*models.RegionIntervalRecord, error)
	// ForecastsBefore returns records with settlement older than cutoff that
	// still carry at least one forecast field.
	ForecastsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.RegionIntervalRecord, error)
	// FutureHistorical returns records carrying historical_price for
	// settlements after the given instant.
	FutureHistorical(ctx context.Context, after time.Time) ([]*models.RegionIntervalRecord, error)
	// Stats summarises record counts, interval span and source-field
	// population per region.
	Stats(ctx context.Context) ([]models.RegionStats, error)
	Delete(ctx context.Context, region string, ts time.Time) error
	Clear(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// UpdateSink receives one event per accepted record change.
type UpdateSink interface {
	Publish(ctx context.Context, update *models.RecordUpdate) error
	Close() error
}

// HistorySink archives accepted per-field updates for long-term charting.
type HistorySink interface {
	Append(ctx context.Context, entries []models.HistoryEntry) error
}

// Metrics records pipeline observability counters.
type Metrics interface {
	RecordSyncOutcome(region, outcome string)
	RecordFetchAttempt(class string)
	RecordRowDropped(reason string)
	RecordStaleWrite(class string)
	RecordBestPrice(region string, price float64)
	RecordSyncDuration(kind string, seconds float64)
}
