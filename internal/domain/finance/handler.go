package finance

import (
	"net/http"
	"time"

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
	g := api.Group("", auth.RequireRole("admin", "accountant", "cashier"))
	g.POST("/payments", h.CreatePayment)
	g.GET("/payments/:id", h.GetPayment)
	g.POST("/payments/:id/finalize", h.FinalizePayment)
	g.GET("/receipts", h.ListReceipts)
	g.GET("/ledger-entries", h.ListLedgerEntries)
}

func (h *Handler) CreatePayment(c echo.Context) error {
	var req CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.CreatePayment(c.Request().Context(), req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) FinalizePayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	res, err := h.svc.FinalizePayment(c.Request().Context(), id, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListReceipts(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	hospital := c.QueryParam("hospital")
	if hospital == "" {
		hospital = actor.Hospital
	}
	p := pagination.FromContext(c)
	receipts, total, err := h.svc.ListReceipts(c.Request().Context(), hospital, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(receipts, total, p.Limit, p.Offset))
}

func (h *Handler) ListLedgerEntries(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	hospital := c.QueryParam("hospital")
	if hospital == "" {
		hospital = actor.Hospital
	}
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be RFC 3339")
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be RFC 3339")
		}
		to = &t
	}
	p := pagination.FromContext(c)
	entries, total, err := h.svc.ListLedgerEntries(c.Request().Context(), hospital, from, to, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p.Limit, p.Offset))
}
