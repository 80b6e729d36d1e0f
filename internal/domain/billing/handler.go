package billing

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
	g := api.Group("", auth.RequireRole("admin", "accountant", "cashier"))
	g.POST("/invoices", h.CreateInvoice)
	g.GET("/invoices", h.ListInvoices)
	g.GET("/invoices/:id", h.GetInvoice)
	g.POST("/billing-transactions", h.RecordTransaction)
	g.PATCH("/billing-transactions/:id/settle", h.SettleTransaction)
	g.GET("/encounters/:encounterId/billing-transactions", h.ListTransactions)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	inv, err := h.svc.CreateInvoice(c.Request().Context(), req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	hospital := c.QueryParam("hospital")
	if hospital == "" {
		hospital = actor.Hospital
	}
	p := pagination.FromContext(c)
	invs, total, err := h.svc.ListInvoices(c.Request().Context(), hospital, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invs, total, p.Limit, p.Offset))
}

func (h *Handler) RecordTransaction(c echo.Context) error {
	var req RecordTransactionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	tx, err := h.svc.RecordTransaction(c.Request().Context(), req, actor)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, tx)
}

func (h *Handler) SettleTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid transaction id")
	}
	var body struct {
		Status TransactionStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.SettleTransaction(c.Request().Context(), id, body.Status, actor); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	txs, err := h.svc.ListTransactions(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, txs)
}
