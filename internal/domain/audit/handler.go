package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/auth"
	"github.com/ehr/lims/pkg/pagination"
)

// ActorFrom builds the audit actor for a request from its authenticated
// principal and client address.
func ActorFrom(c echo.Context) (Actor, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return Actor{}, apperr.Unauthenticated("authentication required")
	}
	return Actor{ID: p.Subject, Role: p.Role, Origin: c.RealIP()}, nil
}

type Handler struct {
	rec *Recorder
}

func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-logs", h.ListAuditLogs)
}

// ListAuditLogs returns the full trail of one entity when collection and
// target_id are both given, otherwise a filtered page.
func (h *Handler) ListAuditLogs(c echo.Context) error {
	f := Filter{
		Action:     Action(c.QueryParam("action")),
		ActorID:    c.QueryParam("actor"),
		Collection: c.QueryParam("collection"),
		TargetID:   c.QueryParam("target_id"),
	}
	ctx := c.Request().Context()

	if f.Collection != "" && f.TargetID != "" && f.Action == "" && f.ActorID == "" {
		items, err := h.rec.ListByTarget(ctx, f.Collection, f.TargetID)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		if items == nil {
			items = []*Entry{}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
	}

	pg := pagination.FromContext(c)
	items, total, err := h.rec.Search(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
