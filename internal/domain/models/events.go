package models

import "time"

// RecordUpdate is the event published after a record is inserted or updated,
// for downstream dashboards and cost calculators.
type RecordUpdate struct {
	Region        string    `json:"region"`
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"` // inserted or updated
	ExportPrice   *float64  `json:"export_price"`
	ForecastPrice *float64  `json:"forecast_price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HistoryEntry is one accepted per-field update appended to the long-term
// price history archive.
type HistoryEntry struct {
	Region     string
	Timestamp  time.Time
	Class      ReportClass
	FileID     string
	Price      float64
	RecordedAt time.Time
}
