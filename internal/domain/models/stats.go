package models

import "time"

// RegionStats summarises the stored records for one region.
type RegionStats struct {
	Region         string    `bson:"_id" json:"region"`
	Records        int64     `bson:"records" json:"records"`
	First          time.Time `bson:"first" json:"first"`
	Last           time.Time `bson:"last" json:"last"`
	WithHistorical int64     `bson:"with_historical" json:"with_historical"`
	WithFiveMin    int64     `bson:"with_5min" json:"with_5min"`
	WithThirtyMin  int64     `bson:"with_30min" json:"with_30min"`
}

// Coverage reports the fraction of step-aligned intervals between First and
// Last that hold a record.
func (s RegionStats) Coverage(step time.Duration) float64 {
	if s.Records == 0 || step <= 0 {
		return 0
	}
	expected := int64(s.Last.Sub(s.First)/step) + 1
	if expected < 1 {
		return 0
	}
	return float64(s.Records) / float64(expected)
}
