// Package api exposes the read-only price API over Echo.
package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/internal/usecase"
	xhttp "github.com/woodid012/plugit/pkg/http"
	xlogger "github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

// PricesHandler serves reconciled region/interval records.
type PricesHandler struct {
	logger *xlogger.Logger
	lookup *usecase.Lookup
}

func NewPricesHandler(logger *xlogger.Logger, lookup *usecase.Lookup) *PricesHandler {
	return &PricesHandler{logger: logger, lookup: lookup}
}

func (h *PricesHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/prices", h.Prices)
	g.GET("/prices/latest", h.LatestPrices)
	g.GET("/price/at", h.PriceAt)
	e.GET("/healthz", h.Health)
}

// Prices returns records for a region window, ascending by settlement.
// Defaults to the trailing 24 hours.
func (h *PricesHandler) Prices(c echo.Context) error {
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := marketime.Now()
	from := xhttp.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, now)
	if !from.Before(to) {
		return xhttp.BadRequestResponse(c, "from must precede to")
	}

	recs, err := h.lookup.Range(c.Request().Context(), req.Region, from, to, req.Limit)
	if err != nil {
		h.logger.Error("prices lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, &models.PricesResponse{
		Region:  req.Region,
		Count:   len(recs),
		Records: recs,
	})
}

// LatestPrices returns the tail of a region's records, newest last.
func (h *PricesHandler) LatestPrices(c echo.Context) error {
	req := &models.LatestPricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	recs, err := h.lookup.Latest(c.Request().Context(), req.Region, req.Limit)
	if err != nil {
		h.logger.Error("latest prices lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, &models.PricesResponse{
		Region:  req.Region,
		Count:   len(recs),
		Records: recs,
	})
}

// PriceAt returns the record nearest to one instant, or 404 when no
// interval lies close enough.
func (h *PricesHandler) PriceAt(c echo.Context) error {
	req := &models.PriceAtRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	at, ok := xhttp.ParseTime(req.At)
	if !ok {
		return xhttp.BadRequestResponse(c, "t must be RFC3339 or unix seconds")
	}

	rec, err := h.lookup.At(c.Request().Context(), req.Region, at)
	if err != nil {
		h.logger.Error("price at lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if rec == nil {
		return xhttp.NotFoundResponse(c, "no interval near requested instant")
	}
	return xhttp.SuccessResponse(c, rec)
}

// Health reports store reachability.
func (h *PricesHandler) Health(c echo.Context) error {
	if err := h.lookup.Health(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}
