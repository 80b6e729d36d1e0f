package compliance

import (
	"net/http"

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
	g := api.Group("/compliance", auth.RequireRole("admin", "auditor"))
	g.GET("/verify", h.VerifyChain)
	g.GET("/entries", h.ListEntries)
}

// VerifyChain replays a tenant's chain. The tenant key defaults to the
// hospital-scoped chain of the caller; pass tenantKey=global for the
// unscoped chain.
func (h *Handler) VerifyChain(c echo.Context) error {
	key := c.QueryParam("tenantKey")
	if key == "" {
		actor := auth.ActorFromContext(c.Request().Context())
		key = TenantKeyFor(actor.Hospital)
	}
	report, err := h.svc.VerifyChain(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListEntries(c echo.Context) error {
	key := c.QueryParam("tenantKey")
	if key == "" {
		actor := auth.ActorFromContext(c.Request().Context())
		key = TenantKeyFor(actor.Hospital)
	}
	p := pagination.FromContext(c)
	entries, total, err := h.svc.List(c.Request().Context(), key, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p.Limit, p.Offset))
}
