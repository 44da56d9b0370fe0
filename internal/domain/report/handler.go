package report

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radreport/radreport/internal/platform/auth"
	"github.com/radreport/radreport/pkg/pagination"
)

// Handler exposes the report lifecycle over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a report handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers report routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("radiologist", "physician")

	g := api.Group("", role)
	g.POST("/reports", h.CreateReport)
	g.GET("/reports", h.ListReports)
	g.GET("/reports/:id", h.GetReport)
	g.PATCH("/reports/:id", h.UpdateReport)
	g.POST("/reports/:id/finalize", h.FinalizeReport)
	g.POST("/reports/:id/sign", h.SignReport)
	g.POST("/reports/:id/addenda", h.AddAddendum)
	g.POST("/reports/:id/critical-communications", h.DocumentCriticalCommunication)
}

// conflictBody is the structured payload for optimistic-lock misses,
// carrying enough detail for a reload-vs-overwrite decision.
type conflictBody struct {
	Code              string   `json:"code"`
	ServerVersion     int      `json:"server_version"`
	ConflictingFields []string `json:"conflicting_fields"`
}

// WriteError maps domain errors onto HTTP responses. Shared with the
// template and export handlers so every route reports conflicts the
// same way.
func WriteError(c echo.Context, err error) error {
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return c.JSON(http.StatusConflict, conflictBody{
			Code:              "version_conflict",
			ServerVersion:     conflict.ServerVersion,
			ConflictingFields: conflict.ConflictingFields,
		})
	}
	var invalid *ValidationFailedError
	if errors.As(err, &invalid) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"code":   "validation_failed",
			"errors": invalid.Errors,
		})
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, ErrSignedImmutable):
		return c.JSON(http.StatusConflict, map[string]string{
			"code":    "signed_immutable",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAddendumOnNonFinal):
		return c.JSON(http.StatusConflict, map[string]string{
			"code":    "addendum_on_non_final",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNoCriticalFinding):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"code":    "no_critical_finding",
			"message": err.Error(),
		})
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) CreateReport(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rep, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{
		"study":   c.QueryParam("study"),
		"patient": c.QueryParam("patient"),
		"status":  c.QueryParam("status"),
	}
	items, total, err := h.svc.List(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type updateRequest struct {
	ExpectedVersion int   `json:"expected_version"`
	Patch           Patch `json:"patch"`
}

func (h *Handler) UpdateReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.Update(c.Request().Context(), id, req.ExpectedVersion, req.Patch)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type finalizeRequest struct {
	ExpectedVersion int             `json:"expected_version"`
	Signature       *SignatureInput `json:"signature,omitempty"`
}

func (h *Handler) FinalizeReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.Finalize(c.Request().Context(), id, req.ExpectedVersion, req.Signature)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type signRequest struct {
	ExpectedVersion int            `json:"expected_version"`
	Signature       SignatureInput `json:"signature"`
}

func (h *Handler) SignReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.Sign(c.Request().Context(), id, req.ExpectedVersion, req.Signature)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type addendumRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Content         string `json:"content"`
	Reason          string `json:"reason"`
}

func (h *Handler) AddAddendum(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req addendumRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	addedBy := auth.UserIDFromContext(c.Request().Context())
	rep, err := h.svc.AddAddendum(c.Request().Context(), id, req.ExpectedVersion, req.Content, req.Reason, addedBy)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type criticalCommRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Recipient       string `json:"recipient"`
	Method          string `json:"method"`
	Notes           string `json:"notes"`
}

func (h *Handler) DocumentCriticalCommunication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req criticalCommRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	by := auth.UserIDFromContext(c.Request().Context())
	rep, err := h.svc.DocumentCriticalCommunication(c.Request().Context(), id, req.ExpectedVersion,
		req.Recipient, req.Method, req.Notes, by)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}
