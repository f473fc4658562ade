package registry

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
	read := api.Group("", auth.RequireRole(auth.Everyone...))
	write := api.Group("", auth.RequireRole(auth.Staff...))
	officer := api.Group("", auth.RequireRole(auth.RoleIPCOfficer))

	// Notifiable reports
	read.GET("/notifiable-reports", h.ListNotifiable)
	read.GET("/notifiable-reports/:id", h.GetNotifiable)
	write.POST("/notifiable-reports", h.CreateNotifiable)
	write.PUT("/notifiable-reports/:id", h.UpdateNotifiable)
	officer.POST("/notifiable-reports/:id/validate", h.reviewNotifiable(StatusValidated))
	officer.POST("/notifiable-reports/:id/reject", h.reviewNotifiable(StatusRejected))
	officer.DELETE("/notifiable-reports/:id", h.DeleteNotifiable)

	// Isolation admissions
	read.GET("/isolation-admissions", h.ListIsolation)
	read.GET("/isolation-admissions/:id", h.GetIsolation)
	write.POST("/isolation-admissions", h.CreateIsolation)
	write.PUT("/isolation-admissions/:id", h.UpdateIsolation)
	write.POST("/isolation-admissions/:id/discharge", h.DischargeIsolation)
	officer.DELETE("/isolation-admissions/:id", h.DeleteIsolation)

	// Sharps injuries
	read.GET("/sharps-injuries", h.ListSharps)
	read.GET("/sharps-injuries/:id", h.GetSharps)
	write.POST("/sharps-injuries", h.CreateSharps)
	write.PUT("/sharps-injuries/:id", h.UpdateSharps)
	officer.DELETE("/sharps-injuries/:id", h.DeleteSharps)

	// Culture results
	read.GET("/culture-results", h.ListCultures)
	read.GET("/culture-results/:id", h.GetCulture)
	write.POST("/culture-results", h.CreateCulture)
	write.PUT("/culture-results/:id", h.UpdateCulture)
	officer.DELETE("/culture-results/:id", h.DeleteCulture)

	read.GET("/antibiogram", h.GetAntibiogram)
	read.GET("/antibiogram/export", h.ExportAntibiogram)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrAlreadyDischarged):
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

// queryParams collects the non-empty query values for keys and checks any
// from/to range.
func queryParams(c echo.Context, keys ...string) (map[string]string, error) {
	params := map[string]string{}
	for _, k := range append(keys, "from", "to") {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	if _, err := surveillance.ParsePeriod(params["from"], params["to"]); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return params, nil
}

type reviewRequest struct {
	Note string `json:"note"`
}

type dischargeRequest struct {
	DischargedAt string `json:"discharged_at"`
}

// =========== Notifiable Reports ===========

func (h *Handler) CreateNotifiable(c echo.Context) error {
	var r NotifiableReport
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReportNotifiable(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetNotifiable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetNotifiable(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "notifiable report not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListNotifiable(c echo.Context) error {
	pg := pagination.FromContext(c)
	params, err := queryParams(c, "status", "disease", "area", "hospital_number")
	if err != nil {
		return err
	}
	items, total, err := h.svc.SearchNotifiable(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateNotifiable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var r NotifiableReport
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if err := h.svc.UpdateNotifiable(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteNotifiable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNotifiable(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) reviewNotifiable(status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		var req reviewRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		r, err := h.svc.ReviewNotifiable(c.Request().Context(), id, status, req.Note)
		if err != nil {
			return echo.NewHTTPError(statusFor(err), err.Error())
		}
		return c.JSON(http.StatusOK, r)
	}
}

// =========== Isolation Admissions ===========

func (h *Handler) CreateIsolation(c echo.Context) error {
	var a IsolationAdmission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AdmitIsolation(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetIsolation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetIsolation(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "isolation admission not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListIsolation(c echo.Context) error {
	pg := pagination.FromContext(c)
	params, err := queryParams(c, "precaution", "area", "hospital_number", "active")
	if err != nil {
		return err
	}
	items, total, err := h.svc.SearchIsolation(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateIsolation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a IsolationAdmission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.UpdateIsolation(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DischargeIsolation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Discharge(c.Request().Context(), id, req.DischargedAt)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteIsolation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteIsolation(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// =========== Sharps Injuries ===========

func (h *Handler) CreateSharps(c echo.Context) error {
	var s SharpsInjury
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReportSharps(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSharps(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSharps(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "sharps injury not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSharps(c echo.Context) error {
	pg := pagination.FromContext(c)
	params, err := queryParams(c, "area", "staff_role")
	if err != nil {
		return err
	}
	items, total, err := h.svc.SearchSharps(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateSharps(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var s SharpsInjury
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ID = id
	if err := h.svc.UpdateSharps(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteSharps(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSharps(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// =========== Culture Results ===========

func (h *Handler) CreateCulture(c echo.Context) error {
	var cr CultureResult
	if err := c.Bind(&cr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecordCulture(c.Request().Context(), &cr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cr)
}

func (h *Handler) GetCulture(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cr, err := h.svc.GetCulture(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "culture result not found")
	}
	return c.JSON(http.StatusOK, cr)
}

func (h *Handler) ListCultures(c echo.Context) error {
	pg := pagination.FromContext(c)
	params, err := queryParams(c, "organism", "specimen", "area", "hospital_number")
	if err != nil {
		return err
	}
	items, total, err := h.svc.SearchCultures(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCulture(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cr CultureResult
	if err := c.Bind(&cr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr.ID = id
	if err := h.svc.UpdateCulture(c.Request().Context(), &cr); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, cr)
}

func (h *Handler) DeleteCulture(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCulture(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// =========== Antibiogram ===========

func (h *Handler) GetAntibiogram(c echo.Context) error {
	p, err := surveillance.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entries, err := h.svc.Antibiogram(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) ExportAntibiogram(c echo.Context) error {
	format, err := export.Negotiate(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := surveillance.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entries, err := h.svc.Antibiogram(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return export.Send(c, format, "antibiogram", AntibiogramTable(entries))
}
