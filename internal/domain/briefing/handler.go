package briefing

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/ai"
	"github.com/ipc/ipc/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	exec := api.Group("/briefings", auth.RequireRole(auth.RoleIPCOfficer, auth.RolePhysician))
	exec.POST("/executive", h.Executive)

	advisor := api.Group("/advisor", auth.RequireRole(auth.Everyone...))
	advisor.POST("/chat", h.Chat)
}

type executiveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type chatRequest struct {
	Messages []ai.Message `json:"messages"`
}

// aiError maps generator failures onto HTTP statuses.
func aiError(err error) error {
	var up *ai.UpstreamError
	switch {
	case errors.Is(err, ai.ErrDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &up):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) Executive(c echo.Context) error {
	var req executiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := surveillance.ParsePeriod(req.From, req.To)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ExecutiveSummary(c.Request().Context(), p)
	if err != nil {
		return aiError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Chat(c.Request().Context(), req.Messages)
	if err != nil {
		var up *ai.UpstreamError
		if errors.Is(err, ai.ErrDisabled) || errors.As(err, &up) {
			return aiError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"reply": out.Text, "model": out.Model})
}
