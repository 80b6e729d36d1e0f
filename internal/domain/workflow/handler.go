package workflow

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "doctor", "auditor"))
	g.GET("/workflows/:subjectId", h.GetWorkflow)
	g.GET("/workflows/:subjectId/replay", h.ReplayWorkflow)
}

func (h *Handler) GetWorkflow(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("subjectId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	rec, err := h.svc.Get(c.Request().Context(), subjectID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ReplayWorkflow(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("subjectId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	rep, err := h.svc.Replay(c.Request().Context(), subjectID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rep)
}
