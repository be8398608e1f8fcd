package assignmentshandler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evaltrack/internal/domain/assignment"
	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
	"evaltrack/internal/transport/http/shared"
)

type Handler struct {
	Service *assignment.Service
	Perms   middleware.PermissionStore
	Audit   shared.AuditRecorder
}

func NewHandler(service *assignment.Service, perms middleware.PermissionStore, recorder shared.AuditRecorder) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: recorder}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evaluator-assignments", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermAssignmentsRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermAssignmentsWrite, h.Perms)).Post("/", h.handleCreate)
		r.With(middleware.RequirePermission(auth.PermAssignmentsWrite, h.Perms)).Put("/{assignmentID}", h.handleUpdate)
		r.With(middleware.RequirePermission(auth.PermAssignmentsWrite, h.Perms)).Delete("/{assignmentID}", h.handleDelete)
	})
}

type createRequest struct {
	EvaluatorID string `json:"evaluatorId"`
	EmployeeID  string `json:"employeeId"`
}

// handleList lets hr browse all assignments; a supervisor only sees their own.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	q := r.URL.Query()
	filter := assignment.ListFilter{
		EvaluatorID:     q.Get("evaluatorId"),
		EmployeeID:      q.Get("employeeId"),
		IncludeInactive: q.Get("includeInactive") == "true",
	}
	if !user.Is(auth.RoleHR) {
		if filter.EvaluatorID != "" && filter.EvaluatorID != user.UserID {
			api.FailError(w, fmt.Errorf("%w: supervisors can only list their own assignments", errs.ErrForbidden), requestID)
			return
		}
		filter.EvaluatorID = user.UserID
	}

	found, err := h.Service.List(r.Context(), filter)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, found, requestID)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	var payload createRequest
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	v.Required("evaluatorId", payload.EvaluatorID, "is required")
	v.Required("employeeId", payload.EmployeeID, "is required")
	if v.Reject(w, requestID) {
		return
	}

	created, err := h.Service.Assign(r.Context(), payload.EvaluatorID, payload.EmployeeID, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "assignment.create", EntityType: "evaluatorAssignment", EntityID: created.ID, After: created})
	api.Created(w, created, requestID)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	id := chi.URLParam(r, "assignmentID")
	var payload assignment.UpdateInput
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	before, err := h.Service.Get(r.Context(), id)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	updated, err := h.Service.Update(r.Context(), id, payload)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "assignment.update", EntityType: "evaluatorAssignment", EntityID: id, Before: before, After: updated})
	api.Success(w, updated, requestID)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	id := chi.URLParam(r, "assignmentID")
	updated, err := h.Service.Unassign(r.Context(), id)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "assignment.delete", EntityType: "evaluatorAssignment", EntityID: id, After: updated})
	api.Success(w, updated, requestID)
}
