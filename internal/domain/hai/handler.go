package hai

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/export"
	"github.com/ipc/ipc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	read := api.Group("/hai-cases", auth.RequireRole(auth.Everyone...))
	read.GET("", h.ListCases)
	read.GET("/export", h.ExportLineList)
	read.GET("/:id", h.GetCase)

	write := api.Group("/hai-cases", auth.RequireRole(auth.Staff...))
	write.POST("", h.ReportCase)
	write.PUT("/:id", h.UpdateCase)

	review := api.Group("/hai-cases", auth.RequireRole(auth.RoleIPCOfficer))
	review.POST("/:id/validate", h.ValidateCase)
	review.POST("/:id/reject", h.RejectCase)
	review.DELETE("/:id", h.DeleteCase)
}

type reviewRequest struct {
	Note string `json:"note"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotPending):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ReportCase(c echo.Context) error {
	var hc Case
	if err := c.Bind(&hc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Report(c.Request().Context(), &hc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, hc)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "hai case not found")
	}
	return c.JSON(http.StatusOK, hc)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"status", "area", "hai_type", "from", "to"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	if _, err := surveillance.ParsePeriod(params["from"], params["to"]); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var hc Case
	if err := c.Bind(&hc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hc.ID = id
	if err := h.svc.Update(c.Request().Context(), &hc); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, hc)
}

func (h *Handler) DeleteCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ValidateCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hc, err := h.svc.Validate(c.Request().Context(), id, req.Note)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, hc)
}

func (h *Handler) RejectCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hc, err := h.svc.Reject(c.Request().Context(), id, req.Note)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, hc)
}

func (h *Handler) ExportLineList(c echo.Context) error {
	format, err := export.Negotiate(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := surveillance.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.LineList(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return export.Send(c, format, "hai-line-list", t)
}
