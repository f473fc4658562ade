package audit

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
	read := api.Group("/audits", auth.RequireRole(auth.Everyone...))
	read.GET("", h.ListAudits)
	read.GET("/compliance", h.GetCompliance)
	read.GET("/compliance/export", h.ExportCompliance)
	read.GET("/:id", h.GetAudit)

	write := api.Group("/audits", auth.RequireRole(auth.Staff...))
	write.POST("", h.RecordAudit)
	write.PUT("/:id", h.UpdateAudit)

	admin := api.Group("/audits", auth.RequireRole(auth.RoleIPCOfficer))
	admin.DELETE("/:id", h.DeleteAudit)
}

func statusFor(err error) int {
	if errors.Is(err, db.ErrNotFound) {
		return http.StatusNotFound
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

func (h *Handler) RecordAudit(c echo.Context) error {
	var a Audit
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Record(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAudit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAudits(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"kind", "area", "bundle", "from", "to"} {
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

func (h *Handler) UpdateAudit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a Audit
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.Update(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAudit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) compliance(c echo.Context) ([]ComplianceSummary, error) {
	p, err := surveillance.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind := c.QueryParam("kind")
	if kind != "" && !oneOf(Kinds, kind) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown kind "+kind)
	}
	rows, err := h.svc.Compliance(c.Request().Context(), p, kind)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rows, nil
}

func (h *Handler) GetCompliance(c echo.Context) error {
	rows, err := h.compliance(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summaries": rows})
}

func (h *Handler) ExportCompliance(c echo.Context) error {
	format, err := export.Negotiate(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := h.compliance(c)
	if err != nil {
		return err
	}
	return export.Send(c, format, "audit-compliance", ComplianceTable(rows))
}
