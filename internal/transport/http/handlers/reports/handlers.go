package reportshandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/reports"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
)

type Handler struct {
	Service *reports.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *reports.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermReportsRead, h.Perms)).Get("/summary", h.handleSummary)
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.Summary(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}
