package models

// PricesRequest asks for records in a settlement window.
type PricesRequest struct {
	Region string `query:"region" json:"region" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"288" validate:"gte=0,lte=10000"`
}

// LatestPricesRequest asks for the most recent records for a region.
type LatestPricesRequest struct {
	Region string `query:"region" json:"region" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"12" validate:"gte=0,lte=1000"`
}

// PriceAtRequest asks for the record nearest to one instant.
type PriceAtRequest struct {
	Region string `query:"region" json:"region" validate:"required"`
	At     string `query:"t" json:"t" validate:"required"`
}

// PricesResponse wraps a window of records.
type PricesResponse struct {
	Region  string                  `json:"region"`
	Count   int                     `json:"count"`
	Records []*RegionIntervalRecord `json:"records"`
}
