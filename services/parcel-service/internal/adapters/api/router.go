package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floroz/parcel-registry/pkg/config"
)

// NewRouter builds the full HTTP surface: the core parcel endpoints
// plus the ambient monitoring/debug endpoints this system's wire
// contract also names. meta advertises the application's own identity
// at the root, the way the original ASGI app did through its FastAPI
// title/version/description.
func NewRouter(h *Handler, pool *pgxpool.Pool, meta config.Meta) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"title":       meta.Title,
			"version":     meta.Version,
			"description": meta.Description,
		})
	})

	v1 := e.Group("/v1")

	parcels := v1.Group("/parcels")
	parcels.POST("/", h.CreateParcel)
	parcels.GET("/all", h.ListParcels)
	parcels.GET("/parcels-types/", h.ListParcelTypes)
	parcels.GET("/:id", h.GetParcel)
	parcels.POST("/:id/bind-company", h.BindCompany)

	v1.GET("/debug/recalculate", h.DebugRecalculate)

	v1.GET("/analytics/delivery/summary", h.DeliverySummary)

	mon := v1.Group("/monitoring")
	mon.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	mon.GET("/live", func(c echo.Context) error { return c.String(http.StatusOK, "alive") })
	mon.GET("/ready", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"database": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"database": "ok"})
	})
	mon.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
