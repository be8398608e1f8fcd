package corehandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evaltrack/internal/domain/access"
	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/domain/users"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
	"evaltrack/internal/transport/http/shared"
)

// Handler serves the user directory: hr-managed accounts and the employee
// lists supervisors evaluate.
type Handler struct {
	Users    *users.Service
	Sessions SessionRevoker
	Access   *access.Filter
	Perms    middleware.PermissionStore
	Audit    shared.AuditRecorder
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

func NewHandler(userService *users.Service, sessions SessionRevoker, filter *access.Filter, perms middleware.PermissionStore, recorder shared.AuditRecorder) *Handler {
	return &Handler{Users: userService, Sessions: sessions, Access: filter, Perms: perms, Audit: recorder}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermEmployeesRead, h.Perms)).Get("/employees", h.handleListEmployees)
	r.Route("/users", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/", h.handleListUsers)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Post("/", h.handleCreateUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/", h.handleGetUser)
			r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Put("/", h.handleUpdateUser)
			r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Delete("/", h.handleDeleteUser)
		})
	})
}

func (h *Handler) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())

	scope, err := h.Access.Employees(r.Context(), user, r.URL.Query().Get("evaluatorId"))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	var found []users.User
	if scope.All {
		found, err = h.Users.List(r.Context(), auth.RoleEmployee)
	} else {
		found, err = h.Users.ListByIDs(r.Context(), scope.IDs)
	}
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, profiles(found), requestID)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	found, err := h.Users.List(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, profiles(found), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, u.Profile(), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload users.CreateInput
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	v.Required("id", payload.ID, "is required")
	v.Required("name", payload.Name, "is required")
	v.Required("password", payload.Password, "is required")
	v.Enum("role", payload.Role, []string{auth.RoleHR, auth.RoleManagement, auth.RoleEmployee, "evaluator"}, "must be hr, management or employee")
	if v.Reject(w, requestID) {
		return
	}

	created, err := h.Users.Create(r.Context(), payload)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "user.create", EntityType: "user", EntityID: created.ID, After: created.Profile()})
	api.Created(w, created.Profile(), requestID)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")
	var payload users.UpdateInput
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}

	before, err := h.Users.Get(r.Context(), userID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	updated, err := h.Users.Update(r.Context(), userID, payload)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if updated.Role != before.Role || payload.Password != nil {
		if err := h.Sessions.RevokeAll(r.Context(), userID); err != nil {
			api.FailError(w, err, requestID)
			return
		}
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "user.update", EntityType: "user", EntityID: userID, Before: before.Profile(), After: updated.Profile()})
	api.Success(w, updated.Profile(), requestID)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	userID := chi.URLParam(r, "userID")
	if userID == user.UserID {
		api.FailError(w, errs.Invalid("id", "cannot delete your own account"), requestID)
		return
	}

	before, err := h.Users.Get(r.Context(), userID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if err := h.Users.Delete(r.Context(), userID); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if err := h.Sessions.RevokeAll(r.Context(), userID); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "user.delete", EntityType: "user", EntityID: userID, Before: before.Profile()})
	api.Success(w, map[string]string{"status": "deleted"}, requestID)
}

func profiles(found []users.User) []users.Profile {
	out := make([]users.Profile, 0, len(found))
	for _, u := range found {
		out = append(out, u.Profile())
	}
	return out
}
