package cohort

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cohort/pkg/pagination"
)

// Handler exposes the Service over echo.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the cohort routes under api/cohort.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cohort")
	g.POST("/compile", h.Compile)
	g.POST("/classify", h.Classify)
	g.POST("/mutations", h.Mutate)

	g.POST("/requests/:id/snapshots", h.SaveSnapshot)
	g.GET("/requests/:id/snapshots", h.ListSnapshots)
	g.GET("/snapshots/:id", h.GetSnapshot)
}

type compileRequest struct {
	State            State    `json:"state"`
	SourcePopulation []string `json:"sourcePopulation,omitempty"`
}

type mutateRequest struct {
	State    State    `json:"state"`
	Mutation Mutation `json:"mutation"`
}

type snapshotResponse struct {
	Snapshot    *Snapshot    `json:"snapshot"`
	Compilation *Compilation `json:"compilation"`
}

func (h *Handler) Compile(c echo.Context) error {
	var req compileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Build(c.Request().Context(), req.State, req.SourcePopulation)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Classify(c echo.Context) error {
	var req compileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Classify(c.Request().Context(), req.State)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Mutate(c echo.Context) error {
	var req mutateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Apply(c.Request().Context(), req.State, req.Mutation)
	switch {
	case errors.Is(err, ErrRootGroup):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SaveSnapshot(c echo.Context) error {
	var req compileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, comp, err := h.svc.SaveSnapshot(c.Request().Context(), c.Param("id"), req.State, req.SourcePopulation)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusCreated, snapshotResponse{Snapshot: snap, Compilation: comp})
}

func (h *Handler) ListSnapshots(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSnapshots(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	snap, err := h.svc.GetSnapshot(c.Request().Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "snapshot not found")
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errRequestIDRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
