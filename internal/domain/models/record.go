package models

import "time"

// PriceSource is the provenance block persisted for one source class on a
// region/interval record: the price plus which file supplied it and when.
type PriceSource struct {
	Price      float64   `bson:"price" json:"price"`
	SourceFile string    `bson:"source_file" json:"source_file"`
	FileID     string    `bson:"file_timestamp" json:"file_timestamp"`
	FetchedAt  time.Time `bson:"fetched_at" json:"fetched_at"`
}

// RegionIntervalRecord is the persisted unit, keyed by (region, timestamp).
// Field names mirror the live collection: historical_price holds the actual
// dispatch settlement, dispatch_5min/dispatch_30min the two forecast tiers,
// Export_Price/Forecast_Price the derived best values.
type RegionIntervalRecord struct {
	Region       string       `bson:"region" json:"region"`
	Timestamp    time.Time    `bson:"timestamp" json:"timestamp"`
	Historical   *PriceSource `bson:"historical_price" json:"historical_price"`
	FiveMin      *PriceSource `bson:"dispatch_5min" json:"dispatch_5min"`
	ThirtyMin    *PriceSource `bson:"dispatch_30min" json:"dispatch_30min"`
	BestPrice    *float64     `bson:"Export_Price" json:"export_price"`
	BestForecast *float64     `bson:"Forecast_Price" json:"forecast_price"`
	LastUpdated  time.Time    `bson:"last_updated" json:"last_updated"`
}

// source returns the provenance field for a class.
func (r *RegionIntervalRecord) source(c ReportClass) **PriceSource {
	switch c {
	case ClassHistorical:
		return &r.Historical
	case ClassFiveMinForecast:
		return &r.FiveMin
	default:
		return &r.ThirtyMin
	}
}

// Source returns the stored provenance block for a class, or nil.
func (r *RegionIntervalRecord) Source(c ReportClass) *PriceSource {
	return *r.source(c)
}

// Offer proposes a value for one source class under the monotonic-write
// rule: the field is replaced only when the offered file identifier is not
// older than the one already stored. Reports whether the field changed.
// Derived prices are not touched; call Recompute afterwards.
func (r *RegionIntervalRecord) Offer(c ReportClass, src PriceSource) bool {
	slot := r.source(c)
	if existing := *slot; existing != nil {
		if src.FileID < existing.FileID {
			return false
		}
		if existing.FileID == src.FileID && existing.Price == src.Price {
			return false
		}
	}
	cp := src
	*slot = &cp
	return true
}

// Recompute rederives Export_Price and Forecast_Price from the source
// fields. Export_Price prefers historical, then 5-minute, then 30-minute;
// Forecast_Price ignores historical by definition.
func (r *RegionIntervalRecord) Recompute() {
	r.BestPrice = nil
	r.BestForecast = nil

	switch {
	case r.Historical != nil:
		p := r.Historical.Price
		r.BestPrice = &p
	case r.FiveMin != nil:
		p := r.FiveMin.Price
		r.BestPrice = &p
	case r.ThirtyMin != nil:
		p := r.ThirtyMin.Price
		r.BestPrice = &p
	}

	switch {
	case r.FiveMin != nil:
		p := r.FiveMin.Price
		r.BestForecast = &p
	case r.ThirtyMin != nil:
		p := r.ThirtyMin.Price
		r.BestForecast = &p
	}
}

// DropForecasts unsets both forecast fields, leaving historical_price
// intact. Reports whether anything changed. Used by the retention pass.
func (r *RegionIntervalRecord) DropForecasts() bool {
	if r.FiveMin == nil && r.ThirtyMin == nil {
		return false
	}
	r.FiveMin = nil
	r.ThirtyMin = nil
	return true
}

// DataEqual reports whether two records hold the same source and derived
// data, ignoring last_updated. The sync engine uses it to decide whether an
// upsert would be a no-op.
func (r *RegionIntervalRecord) DataEqual(o *RegionIntervalRecord) bool {
	if o == nil {
		return false
	}
	return r.Region == o.Region &&
		r.Timestamp.Equal(o.Timestamp) &&
		sourceEqual(r.Historical, o.Historical) &&
		sourceEqual(r.FiveMin, o.FiveMin) &&
		sourceEqual(r.ThirtyMin, o.ThirtyMin) &&
		floatPtrEqual(r.BestPrice, o.BestPrice) &&
		floatPtrEqual(r.BestForecast, o.BestForecast)
}

// Clone returns a deep copy.
func (r *RegionIntervalRecord) Clone() *RegionIntervalRecord {
	cp := *r
	if r.Historical != nil {
		h := *r.Historical
		cp.Historical = &h
	}
	if r.FiveMin != nil {
		f := *r.FiveMin
		cp.FiveMin = &f
	}
	if r.ThirtyMin != nil {
		t := *r.ThirtyMin
		cp.ThirtyMin = &t
	}
	if r.BestPrice != nil {
		p := *r.BestPrice
		cp.BestPrice = &p
	}
	if r.BestForecast != nil {
		p := *r.BestForecast
		cp.BestForecast = &p
	}
	return &cp
}

func sourceEqual(a, b *PriceSource) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Price == b.Price && a.FileID == b.FileID && a.SourceFile == b.SourceFile
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
