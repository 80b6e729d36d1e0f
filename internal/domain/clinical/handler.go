package clinical

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	enc := api.Group("/encounters")
	enc.POST("", h.StartEncounter, auth.RequireRole("doctor"))
	enc.GET("", h.ListEncounters, auth.RequireRole("doctor", "nurse", "auditor"))
	enc.GET("/:id", h.GetEncounter, auth.RequireRole("doctor", "nurse", "auditor"))
	enc.POST("/:id/diagnosis", h.CreateDiagnosis, auth.RequireRole("doctor"))
	enc.POST("/:id/lab-orders", h.OrderLab, auth.RequireRole("doctor"))
	enc.POST("/:id/lab-results", h.CompleteLab, auth.RequireRole("lab_technician"))
	enc.POST("/:id/prescription", h.CreatePrescription, auth.RequireRole("doctor"))
	enc.POST("/:id/dispense", h.Dispense, auth.RequireRole("pharmacist"))
	enc.POST("/:id/close", h.CloseEncounter, auth.RequireRole("doctor"))
	enc.POST("/:id/insurance", h.RequestAuthorization, auth.RequireRole("doctor", "insurance_officer"))
	enc.PATCH("/:id/insurance", h.DecideAuthorization, auth.RequireRole("insurance_officer"))
}

func encounterID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	return id, nil
}

func (h *Handler) StartEncounter(c echo.Context) error {
	var req StartEncounterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.StartEncounter(c.Request().Context(), req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	hospital := c.QueryParam("hospital")
	if hospital == "" {
		hospital = actor.Hospital
	}
	p := pagination.FromContext(c)
	encs, total, err := h.svc.ListEncounters(c.Request().Context(), hospital, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, p.Limit, p.Offset))
}

func (h *Handler) CreateDiagnosis(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req CreateDiagnosisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	d, err := h.svc.CreateDiagnosis(c.Request().Context(), id, req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) OrderLab(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req OrderLabRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	o, err := h.svc.OrderLab(c.Request().Context(), id, req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) CompleteLab(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req CompleteLabRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	o, err := h.svc.CompleteLab(c.Request().Context(), id, req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req CreatePrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.CreatePrescription(c.Request().Context(), id, req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.Dispense(c.Request().Context(), id, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CloseEncounter(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	rec, err := h.svc.CloseEncounter(c.Request().Context(), id, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) RequestAuthorization(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req RequestAuthorizationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	a, err := h.svc.RequestAuthorization(c.Request().Context(), id, req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DecideAuthorization(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status AuthorizationStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	a, err := h.svc.DecideAuthorization(c.Request().Context(), id, body.Status, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
