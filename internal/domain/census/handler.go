package census

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	read := api.Group("/census", auth.RequireRole(auth.Everyone...))
	read.GET("", h.List)
	read.GET("/:date", h.Get)

	write := api.Group("/census", auth.RequireRole(auth.Staff...))
	write.PUT("/:date", h.Put)

	admin := api.Group("/census", auth.RequireRole(auth.RoleIPCOfficer))
	admin.DELETE("/:date", h.Delete)
}

func (h *Handler) Put(c echo.Context) error {
	var dc DailyCensus
	if err := c.Bind(&dc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dc.Date = c.Param("date")
	if err := h.svc.Record(c.Request().Context(), &dc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, dc)
}

func (h *Handler) Get(c echo.Context) error {
	dc, err := h.svc.Get(c.Request().Context(), c.Param("date"))
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "census not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, dc)
}

func (h *Handler) List(c echo.Context) error {
	p, err := surveillance.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), p, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Delete(c echo.Context) error {
	err := h.svc.Delete(c.Request().Context(), c.Param("date"))
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "census not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
