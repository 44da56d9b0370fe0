package template

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radreport/radreport/internal/domain/report"
	"github.com/radreport/radreport/internal/platform/auth"
	"github.com/radreport/radreport/pkg/pagination"
)

// Handler exposes template lookup and report binding over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a template handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers template routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("radiologist", "physician")

	g := api.Group("", role)
	g.GET("/templates", h.ListTemplates)
	g.GET("/templates/:id", h.GetTemplate)
	g.POST("/reports/:id/template", h.BindTemplate)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("modality"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type bindRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	TemplateID      string `json:"template_id"`
}

func (h *Handler) BindTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req bindRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TemplateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template_id is required")
	}
	rep, err := h.svc.BindToReport(c.Request().Context(), id, req.ExpectedVersion, req.TemplateID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return report.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}
