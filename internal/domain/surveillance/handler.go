package surveillance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/export"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	read := api.Group("/surveillance", auth.RequireRole(auth.Everyone...))
	read.GET("/rates", h.GetRates)
	read.GET("/rates/trend", h.GetTrend)
	read.GET("/rates/export", h.ExportRates)
	read.GET("/rates/trend/export", h.ExportTrend)
}

func periodFromQuery(c echo.Context) (Period, error) {
	p, err := ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return p, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return p, nil
}

func (h *Handler) GetRates(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Rates(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

// trend loads the monthly trend for ?year, defaulting to the current year.
func (h *Handler) trend(c echo.Context) (int, []MonthlyRates, error) {
	year := time.Now().Year()
	if y := c.QueryParam("year"); y != "" {
		v, err := strconv.Atoi(y)
		if err != nil {
			return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
		year = v
	}
	months, err := h.svc.MonthlyTrend(c.Request().Context(), year)
	if err != nil {
		if errors.Is(err, ErrInvalidYear) {
			return 0, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return 0, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return year, months, nil
}

func (h *Handler) GetTrend(c echo.Context) error {
	year, months, err := h.trend(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"year": year, "months": months})
}

func (h *Handler) ExportTrend(c echo.Context) error {
	format, err := export.Negotiate(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	year, months, err := h.trend(c)
	if err != nil {
		return err
	}
	return export.Send(c, format, fmt.Sprintf("infection-rate-trend-%d", year), TrendTable(months))
}

func (h *Handler) ExportRates(c echo.Context) error {
	format, err := export.Negotiate(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Rates(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return export.Send(c, format, "infection-rates", RatesTable(snap.Report))
}
