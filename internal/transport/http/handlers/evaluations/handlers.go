package evaluationshandler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evaltrack/internal/domain/access"
	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/evaluation"
	"evaltrack/internal/domain/reports"
	"evaltrack/internal/platform/metrics"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
	"evaltrack/internal/transport/http/shared"
)

type Handler struct {
	Service *evaluation.Service
	Access  *access.Filter
	Perms   middleware.PermissionStore
	Audit   shared.AuditRecorder
	Metrics *metrics.Collector
}

func NewHandler(service *evaluation.Service, filter *access.Filter, perms middleware.PermissionStore, recorder shared.AuditRecorder, collector *metrics.Collector) *Handler {
	return &Handler{Service: service, Access: filter, Perms: perms, Audit: recorder, Metrics: collector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/criteria", h.handleCriteria)
	r.Route("/evaluations", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermEvaluationsRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermEvaluationsWrite, h.Perms)).Post("/", h.handleSave)
		r.Route("/{evaluationID}", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermEvaluationsRead, h.Perms)).Get("/", h.handleGet)
			r.With(middleware.RequirePermission(auth.PermEvaluationsRead, h.Perms)).Get("/pdf", h.handlePDF)
			r.With(middleware.RequirePermission(auth.PermEvaluationsDelete, h.Perms)).Delete("/", h.handleDelete)
			r.With(middleware.RequirePermission(auth.PermEvaluationsWrite, h.Perms)).Post("/submit", h.handleSubmit)
			r.With(middleware.RequirePermission(auth.PermEvaluationsRespond, h.Perms)).Post("/respond", h.handleRespond)
			r.With(middleware.RequirePermission(auth.PermEvaluationsWrite, h.Perms)).Post("/finalize", h.handleFinalize)
		})
	})
}

type submitRequest struct {
	SupervisorSignature string `json:"supervisorSignature"`
}

// respondRequest also takes the employeeAgreement/employeeComments names
// older clients send.
type respondRequest struct {
	Agreement         string `json:"agreement"`
	Comments          string `json:"comments"`
	EmployeeAgreement string `json:"employeeAgreement"`
	EmployeeComments  string `json:"employeeComments"`
	EmployeeSignature string `json:"employeeSignature"`
}

func (p respondRequest) agreement() string {
	if p.Agreement != "" {
		return p.Agreement
	}
	return p.EmployeeAgreement
}

func (p respondRequest) comments() string {
	if p.Comments != "" {
		return p.Comments
	}
	return p.EmployeeComments
}

type finalizeRequest struct {
	ManagerDecision string `json:"managerDecision"`
}

func (h *Handler) handleCriteria(w http.ResponseWriter, r *http.Request) {
	api.Success(w, map[string]any{
		"criteria":  h.Service.Criteria(),
		"minRating": evaluation.MinRating,
		"maxRating": evaluation.MaxRating,
		"levels":    evaluation.Levels(),
	}, middleware.GetRequestID(r.Context()))
}

// handleList returns nothing unless the caller names an employee, an
// evaluator or mode=all.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	q := r.URL.Query()
	found, err := h.Access.ListEvaluations(r.Context(), user, access.EvaluationQuery{
		EmployeeID:  q.Get("employeeId"),
		EvaluatorID: q.Get("evaluatorId"),
		All:         q.Get("mode") == "all",
	})
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, found, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	ev, err := h.Access.GetEvaluation(r.Context(), user, chi.URLParam(r, "evaluationID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, ev, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	ev, err := h.Access.GetEvaluation(r.Context(), user, chi.URLParam(r, "evaluationID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	doc, err := reports.EvaluationPDF(ev, h.Service.Criteria())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "pdf_failed", "failed to render evaluation", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=evaluation-%s.pdf", ev.ID))
	if _, err := w.Write(doc); err != nil {
		slog.Warn("write pdf failed", "evaluationId", ev.ID, "err", err)
	}
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	var draft evaluation.Draft
	if !shared.DecodeJSON(w, r, &draft, requestID) {
		return
	}
	saved, err := h.Service.Save(r.Context(), user, draft)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	h.Metrics.RecordTransition("evaluation.save")
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "evaluation.save", EntityType: "evaluation", EntityID: saved.ID, After: statusSnapshot(saved)})
	api.Success(w, saved, requestID)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "evaluationID")
	if err := h.Service.Delete(r.Context(), user, id); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	h.Metrics.RecordTransition("evaluation.delete")
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "evaluation.delete", EntityType: "evaluation", EntityID: id})
	api.Success(w, map[string]string{"status": "deleted"}, requestID)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	h.transition(w, r, "submit", func(user auth.UserContext, id string) (evaluation.Evaluation, error) {
		return h.Service.SubmitToEmployee(r.Context(), user, id, payload.SupervisorSignature)
	})
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var payload respondRequest
	if !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	h.transition(w, r, "respond", func(user auth.UserContext, id string) (evaluation.Evaluation, error) {
		return h.Service.Respond(r.Context(), user, id, payload.agreement(), payload.comments(), payload.EmployeeSignature)
	})
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var payload finalizeRequest
	if !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	h.transition(w, r, "finalize", func(user auth.UserContext, id string) (evaluation.Evaluation, error) {
		return h.Service.Finalize(r.Context(), user, id, payload.ManagerDecision)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string, apply func(auth.UserContext, string) (evaluation.Evaluation, error)) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "evaluationID")
	updated, err := apply(user, id)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	h.Metrics.RecordTransition("evaluation." + name)
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "evaluation." + name, EntityType: "evaluation", EntityID: id, After: statusSnapshot(updated)})
	api.Success(w, updated, requestID)
}

// statusSnapshot keeps signatures out of the audit trail.
func statusSnapshot(ev evaluation.Evaluation) map[string]any {
	return map[string]any{
		"status":           ev.Status,
		"employeeId":       ev.EmployeeID,
		"score":            ev.Score,
		"performanceLevel": ev.PerformanceLevel,
	}
}
