package export

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radreport/radreport/internal/domain/report"
	"github.com/radreport/radreport/internal/platform/auth"
)

// Handler exposes snapshot builds and share links over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates an export handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers export routes. The shared-snapshot route is
// registered on the public group: share tokens are the capability.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	role := auth.RequireRole("radiologist", "physician")

	g := api.Group("", role)
	g.POST("/reports/:id/export", h.BuildSnapshot)
	g.POST("/reports/:id/share-links", h.CreateShareLink)

	public.GET("/shared/:token", h.ResolveShareLink)
}

type exportRequest struct {
	Layout  Layout  `json:"layout"`
	Options Options `json:"options"`
}

func (h *Handler) BuildSnapshot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.svc.BuildSnapshot(c.Request().Context(), id, req.Layout, req.Options)
	if errors.Is(err, ErrExportTimeout) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"code":    "export_timeout",
			"message": err.Error(),
		})
	}
	if err != nil {
		return report.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) CreateShareLink(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	link, err := h.svc.CreateShareLink(c.Request().Context(), id)
	if errors.Is(err, ErrShareNotFinal) {
		return c.JSON(http.StatusConflict, map[string]string{
			"code":    "share_requires_final",
			"message": err.Error(),
		})
	}
	if err != nil {
		return report.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) ResolveShareLink(c echo.Context) error {
	snap, err := h.svc.ResolveShareLink(c.Request().Context(), c.Param("token"))
	if errors.Is(err, ErrShareNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "share link not found or expired")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if snap.Markup != "" {
		return c.HTML(http.StatusOK, snap.Markup)
	}
	return c.JSON(http.StatusOK, snap)
}
