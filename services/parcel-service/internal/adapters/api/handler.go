// Package api is the registration API's HTTP layer: request
// validation, read-through caching, and the errors.Is-based mapping
// from domain errors to status codes. It is the only place in this
// repository that knows about transport.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/cache"
	"github.com/floroz/parcel-registry/pkg/document"
)

const sessionHeader = "X-Session-Id"

// Handler wires the registration service and caches into echo
// handlers.
type Handler struct {
	service *parcel.RegistrationService
	cache   *cache.ReadThroughCache
	audit   *document.AuditStore
}

func NewHandler(service *parcel.RegistrationService, rc *cache.ReadThroughCache, audit *document.AuditStore) *Handler {
	return &Handler{service: service, cache: rc, audit: audit}
}

func sessionID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(sessionHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnprocessableEntity, "missing "+sessionHeader+" header")
	}
	return id, nil
}

// mapDomainError turns a sentinel domain error into the HTTP status
// this system's wire contract assigns it.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, parcel.ErrParcelNotFound), errors.Is(err, parcel.ErrCompanyNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, parcel.ErrParcelAlreadyBound), errors.Is(err, parcel.ErrParcelAlreadyExists), errors.Is(err, parcel.ErrOutboxDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, parcel.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, parcel.ErrOutboxPersistence):
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) CreateParcel(c echo.Context) error {
	sid, err := sessionID(c)
	if err != nil {
		return err
	}

	var req createParcelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid request body")
	}
	if req.WeightKg < 0.01 || req.WeightKg > 100 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "weight_kg must be in [0.01, 100]")
	}
	if req.TypeID < 1 || req.TypeID > 3 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "type_id must be in [1, 3]")
	}
	if req.CostAdjustmentUSD < 0.1 || req.CostAdjustmentUSD > 1e6 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "cost_adjustment_usd must be in [0.1, 1e6]")
	}

	id, err := h.service.Register(c.Request().Context(), parcel.RegisterCommand{
		SessionID:         sid,
		Name:              req.Name,
		WeightKg:          req.WeightKg,
		TypeID:            req.TypeID,
		CostAdjustmentUSD: req.CostAdjustmentUSD,
	})
	if err != nil {
		return mapDomainError(err)
	}

	return c.JSON(http.StatusCreated, createParcelResponse{ParcelID: id, Message: "parcel registration accepted"})
}

func (h *Handler) BindCompany(c echo.Context) error {
	parcelID := c.Param("id")

	var req bindCompanyRequest
	if err := c.Bind(&req); err != nil || req.CompanyID < 1 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "company_id must be >= 1")
	}

	if err := h.service.BindCompany(c.Request().Context(), parcel.BindCompanyCommand{
		ParcelID:  parcelID,
		CompanyID: req.CompanyID,
	}); err != nil {
		return mapDomainError(err)
	}

	return c.JSON(http.StatusOK, bindCompanyResponse{Message: "company bound"})
}

func (h *Handler) GetParcel(c echo.Context) error {
	sid, err := sessionID(c)
	if err != nil {
		return err
	}
	parcelID := c.Param("id")

	key := cache.DetailKey(sid, parcelID)
	var cached parcelDetailResponse
	if h.cache.Get(c.Request().Context(), key, &cached) {
		return c.JSON(http.StatusOK, cached)
	}

	summary, err := h.service.GetDetail(c.Request().Context(), parcel.DetailQuery{ParcelID: parcelID, SessionID: sid})
	if err != nil {
		return mapDomainError(err)
	}

	resp := toDetailResponse(summary)
	h.cache.Set(c.Request().Context(), key, resp, cache.DetailTTL)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListParcels(c echo.Context) error {
	sid, err := sessionID(c)
	if err != nil {
		return err
	}

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			limit = n
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	hasDeliveryPrice := true
	if v := c.QueryParam("has_delivery_price"); v != "" {
		hasDeliveryPrice = v == "true"
	}
	var typeID *int
	if v := c.QueryParam("type_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			typeID = &n
		}
	}

	cacheable := offset == 0
	key := cache.ListKey(sid, offset, limit, typeID, hasDeliveryPrice)
	var cached parcelListResponse
	if cacheable && h.cache.Get(c.Request().Context(), key, &cached) {
		return c.JSON(http.StatusOK, cached)
	}

	summaries, total, err := h.service.List(c.Request().Context(), parcel.ListQuery{
		SessionID:        sid,
		TypeID:           typeID,
		Limit:            limit,
		Offset:           offset,
		HasDeliveryPrice: hasDeliveryPrice,
	})
	if err != nil {
		return mapDomainError(err)
	}

	items := make([]parcelDetailResponse, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, toDetailResponse(s))
	}
	resp := parcelListResponse{Items: items, Total: total}

	if cacheable {
		h.cache.Set(c.Request().Context(), key, resp, cache.ListTTL)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListParcelTypes(c echo.Context) error {
	key := cache.TypesKey()
	var cached []parcelTypeResponse
	if h.cache.Get(c.Request().Context(), key, &cached) {
		return c.JSON(http.StatusOK, cached)
	}

	types, err := h.service.ListTypes(c.Request().Context())
	if err != nil {
		return mapDomainError(err)
	}

	resp := make([]parcelTypeResponse, 0, len(types))
	for _, t := range types {
		resp = append(resp, parcelTypeResponse{ID: t.ID, Name: t.Name})
	}

	h.cache.Set(c.Request().Context(), key, resp, cache.TypesTTL)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DebugRecalculate(c echo.Context) error {
	if err := h.service.DebugRecalculate(c.Request().Context()); err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, recalculateResponse{Message: "Ok"})
}

func (h *Handler) DeliverySummary(c echo.Context) error {
	dateParam := c.QueryParam("date")
	start := time.Now().UTC().Truncate(24 * time.Hour)
	if dateParam != "" {
		parsed, err := time.Parse("2006-01-02", dateParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		start = parsed
	}
	end := start.Add(24 * time.Hour)

	totals, err := h.audit.AggregateByDate(c.Request().Context(), start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	items := make([]deliveryCostItem, 0, len(totals))
	for typeID, total := range totals {
		items = append(items, deliveryCostItem{Type: typeID, Total: roundTo2(total)})
	}

	return c.JSON(http.StatusOK, analyticsResponse{Date: start.Format("2006-01-02"), GroupBy: "type", Items: items})
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
