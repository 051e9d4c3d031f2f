package laborder

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/orders", h.ListOrders)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/samples/:sample/collect", h.CollectSample)
	api.POST("/orders/:id/samples/:sample/accession", h.AccessionSample)
	api.POST("/orders/:id/samples/:sample/start", h.StartTesting)
	api.POST("/orders/:id/samples/:sample/reject", h.RejectSample)
	api.POST("/samples/:accession/results", h.VerifyResults)
	api.POST("/samples/:accession/tests/:code/verify", h.ApproveTest)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type resultsRequest struct {
	Results []ResultInput `json:"results"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o, err := h.svc.CreateOrder(c.Request().Context(), actor, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	o, err := h.svc.GetOrder(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	f := Filter{
		PhysicianID: c.QueryParam("physician_id"),
		Status:      OrderStatus(c.QueryParam("status")),
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOrders(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Order{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CollectSample(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.svc.CollectSample(c.Request().Context(), actor, c.Param("id"), c.Param("sample"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) AccessionSample(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.svc.AccessionSample(c.Request().Context(), actor, c.Param("id"), c.Param("sample"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) StartTesting(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.svc.StartTesting(c.Request().Context(), actor, c.Param("id"), c.Param("sample"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RejectSample(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.RejectSample(c.Request().Context(), actor, c.Param("id"), c.Param("sample"), req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) VerifyResults(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req resultsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.VerifyResults(c.Request().Context(), actor, c.Param("accession"), req.Results)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ApproveTest(c echo.Context) error {
	actor, err := audit.ActorFrom(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.svc.ApproveTest(c.Request().Context(), actor, c.Param("accession"), c.Param("code"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
