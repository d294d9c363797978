package models

import (
	"sort"
	"time"
)

// ReportClass identifies one of the three NEMweb report families feeding the
// pipeline.
type ReportClass int

const (
	// ClassHistorical is the actual dispatch settlement price. Authoritative.
	ClassHistorical ReportClass = iota
	// ClassFiveMinForecast is the P5MIN short-term predispatch forecast.
	ClassFiveMinForecast
	// ClassThirtyMinForecast is the full predispatch forecast.
	ClassThirtyMinForecast
)

// Classes lists all report classes in merge priority order.
func Classes() []ReportClass {
	return []ReportClass{ClassHistorical, ClassFiveMinForecast, ClassThirtyMinForecast}
}

// String returns the cache/wire name of the class. These match the source
// key names used by the unified cache file.
func (c ReportClass) String() string {
	switch c {
	case ClassHistorical:
		return "dispatch"
	case ClassFiveMinForecast:
		return "p5min"
	case ClassThirtyMinForecast:
		return "predispatch"
	default:
		return "unknown"
	}
}

// ClassFromString is the inverse of String. Returns false for unknown names.
func ClassFromString(s string) (ReportClass, bool) {
	switch s {
	case "dispatch":
		return ClassHistorical, true
	case "p5min":
		return ClassFiveMinForecast, true
	case "predispatch":
		return ClassThirtyMinForecast, true
	default:
		return 0, false
	}
}

// PricePoint is one settlement interval's price as parsed from a report.
// Timestamp carries the fixed +10:00 market offset. Immutable once parsed.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// ParsedReport is the output of fetching and parsing one report file.
// Never mutated after creation.
type ParsedReport struct {
	Class      ReportClass             `json:"class"`
	FileID     string                  `json:"file_id"` // YYYYMMDDHHMM from the filename
	SourceFile string                  `json:"source_file"`
	FetchedAt  time.Time               `json:"fetched_at"`
	Prices     map[string][]PricePoint `json:"prices"` // region -> points ordered by timestamp
}

// Regions returns the region codes present in the report, sorted.
func (r *ParsedReport) Regions() []string {
	out := make([]string, 0, len(r.Prices))
	for region := range r.Prices {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}

// PointCount is the total number of price points across all regions.
func (r *ParsedReport) PointCount() int {
	n := 0
	for _, pts := range r.Prices {
		n += len(pts)
	}
	return n
}

// MarshalJSON/UnmarshalJSON for ReportClass keep the cache snapshot readable.
func (c ReportClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ReportClass) UnmarshalText(b []byte) error {
	if parsed, ok := ClassFromString(string(b)); ok {
		*c = parsed
	}
	return nil
}
