package movementshandler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/domain/movement"
	"evaltrack/internal/domain/reports"
	"evaltrack/internal/platform/metrics"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
	"evaltrack/internal/transport/http/shared"
)

type Handler struct {
	Service *movement.Service
	Perms   middleware.PermissionStore
	Audit   shared.AuditRecorder
	Metrics *metrics.Collector
	now     func() time.Time
}

func NewHandler(service *movement.Service, perms middleware.PermissionStore, recorder shared.AuditRecorder, collector *metrics.Collector) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: recorder, Metrics: collector, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/movements", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermMovementsSelf, h.Perms)).Post("/check-out", h.handleCheckOut)
		r.With(middleware.RequirePermission(auth.PermMovementsSelf, h.Perms)).Post("/check-in", h.handleCheckIn)
		r.With(middleware.RequirePermission(auth.PermMovementsSelf, h.Perms)).Get("/me", h.handleMe)
		r.With(middleware.RequirePermission(auth.PermMovementsRead, h.Perms)).Get("/active", h.handleActive)
		r.With(middleware.RequirePermission(auth.PermMovementsRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermMovementsExport, h.Perms)).Get("/export.csv", h.handleExport)
	})
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	var payload movement.CheckOutInput
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	entry, err := h.Service.CheckOut(r.Context(), user.UserID, payload)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	h.Metrics.RecordTransition("movement.check_out")
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "movement.check_out", EntityType: "movementLog", EntityID: entry.ID, After: entry})
	api.Created(w, entry, requestID)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	entry, err := h.Service.CheckIn(r.Context(), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	h.Metrics.RecordTransition("movement.check_in")
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "movement.check_in", EntityType: "movementLog", EntityID: entry.ID, After: entry})
	api.Success(w, entry, requestID)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	presence, err := h.Service.Current(r.Context(), user.UserID)
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, presence, middleware.GetRequestID(r.Context()))
}

// handleActive is the live board of who is out; employees cannot see it.
func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	if user.Is(auth.RoleEmployee) {
		api.FailError(w, fmt.Errorf("%w: active movements", errs.ErrForbidden), requestID)
		return
	}
	active, err := h.Service.ListActive(r.Context())
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, active, requestID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	if user.Is(auth.RoleEmployee) {
		if filter.EmployeeID != "" && filter.EmployeeID != user.UserID {
			api.FailError(w, fmt.Errorf("%w: employees can only list their own movements", errs.ErrForbidden), requestID)
			return
		}
		filter.EmployeeID = user.UserID
	}
	logs, err := h.Service.List(r.Context(), filter)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, logs, requestID)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	logs, err := h.Service.List(r.Context(), filter)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=movements.csv")
	if err := reports.WriteMovementsCSV(w, logs, h.now()); err != nil {
		slog.Warn("movement export failed", "err", err)
	}
}

var listStatuses = []string{movement.StatusOutOfOffice, movement.StatusOverdue, movement.StatusOnTime}

func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (movement.ListFilter, bool) {
	q := r.URL.Query()
	filter := movement.ListFilter{
		EmployeeID: strings.TrimSpace(q.Get("employeeId")),
		Department: strings.TrimSpace(q.Get("department")),
		Status:     strings.ToUpper(strings.TrimSpace(q.Get("status"))),
	}
	v := shared.NewValidator()
	v.Enum("status", filter.Status, listStatuses, "must be OUT_OF_OFFICE, OVERDUE or ON_TIME")
	if raw := queryAlias(q, "from", "fromDate"); raw != "" {
		if from, ok := v.Date("from", raw); ok {
			filter.From = &from
		}
	}
	if raw := queryAlias(q, "to", "toDate"); raw != "" {
		if to, ok := v.RangeEnd("to", raw); ok {
			filter.To = &to
		}
	}
	if filter.From != nil && filter.To != nil {
		v.DateOrder("from", *filter.From, "to", *filter.To)
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return movement.ListFilter{}, false
	}
	return filter, true
}

func queryAlias(q url.Values, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
