// Package access scopes evaluation and employee queries to what the verified
// requester may see. Query parameters only narrow inside that scope.
package access

import (
	"context"
	"fmt"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/domain/evaluation"
	"evaltrack/internal/platform/recordstore"
)

// Identity comes from the session middleware, never from request parameters.
type Identity = auth.UserContext

type EvaluationQuery struct {
	EmployeeID  string
	EvaluatorID string
	// All is the explicit mode=all intent.
	All bool
}

func (q EvaluationQuery) unscoped() bool {
	return q.EmployeeID == "" && q.EvaluatorID == "" && !q.All
}

type EvaluationReader interface {
	Get(ctx context.Context, id string) (evaluation.Evaluation, error)
	List(ctx context.Context, filter recordstore.Filter) ([]evaluation.Evaluation, error)
}

type Roster interface {
	EmployeesFor(ctx context.Context, evaluatorID string) ([]string, error)
}

// EmployeeScope is the set of employees a requester may list.
type EmployeeScope struct {
	All bool
	IDs []string
}

type Filter struct {
	evaluations EvaluationReader
	roster      Roster
}

func NewFilter(evaluations EvaluationReader, roster Roster) *Filter {
	return &Filter{evaluations: evaluations, roster: roster}
}

var visibleToEmployee = []string{
	evaluation.StatusPendingEmployee,
	evaluation.StatusPendingSupervisor,
	evaluation.StatusCompleted,
}

// EvaluationFilter returns the store filter for q. ok is false when the query
// is unscoped and must yield nothing.
func EvaluationFilter(id Identity, q EvaluationQuery) (recordstore.Filter, bool, error) {
	if id.UserID == "" {
		return recordstore.Filter{}, false, fmt.Errorf("%w: no identity", errs.ErrAuth)
	}
	switch id.RoleName {
	case auth.RoleEmployee:
		if (q.EmployeeID != "" && q.EmployeeID != id.UserID) || q.EvaluatorID != "" {
			return recordstore.Filter{}, false, fmt.Errorf("%w: employees may only list their own evaluations", errs.ErrForbidden)
		}
		if q.unscoped() {
			return recordstore.Filter{}, false, nil
		}
		return recordstore.Filter{
			Where: map[string]any{"employeeId": id.UserID},
			In:    map[string][]string{"status": visibleToEmployee},
		}, true, nil

	case auth.RoleManagement:
		if q.EvaluatorID != "" && q.EvaluatorID != id.UserID {
			return recordstore.Filter{}, false, fmt.Errorf("%w: evaluators may only list their own evaluations", errs.ErrForbidden)
		}
		if q.unscoped() {
			return recordstore.Filter{}, false, nil
		}
		f := recordstore.Filter{AnyOf: ownedBy(id.UserID)}
		if q.EmployeeID != "" {
			f.Where = map[string]any{"employeeId": q.EmployeeID}
		}
		return f, true, nil

	case auth.RoleHR:
		if q.unscoped() {
			return recordstore.Filter{}, false, nil
		}
		f := recordstore.Filter{}
		if q.EmployeeID != "" {
			f.Where = map[string]any{"employeeId": q.EmployeeID}
		}
		if q.EvaluatorID != "" {
			f.AnyOf = ownedBy(q.EvaluatorID)
		}
		return f, true, nil
	}
	return recordstore.Filter{}, false, fmt.Errorf("%w: role %q", errs.ErrForbidden, id.RoleName)
}

func ownedBy(userID string) []map[string]any {
	return []map[string]any{
		{"createdBy": userID},
		{"assignedEvaluatorId": userID},
	}
}

func (f *Filter) ListEvaluations(ctx context.Context, id Identity, q EvaluationQuery) ([]evaluation.Evaluation, error) {
	filter, ok, err := EvaluationFilter(id, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []evaluation.Evaluation{}, nil
	}
	return f.evaluations.List(ctx, filter)
}

// GetEvaluation loads one evaluation and applies CanView.
func (f *Filter) GetEvaluation(ctx context.Context, id Identity, evaluationID string) (evaluation.Evaluation, error) {
	ev, err := f.evaluations.Get(ctx, evaluationID)
	if err != nil {
		return evaluation.Evaluation{}, err
	}
	if err := CanView(id, ev); err != nil {
		return evaluation.Evaluation{}, err
	}
	return ev, nil
}

// CanView applies the list rules to a single record.
func CanView(id Identity, ev evaluation.Evaluation) error {
	switch id.RoleName {
	case auth.RoleHR:
		return nil
	case auth.RoleManagement:
		if ev.CreatedBy == id.UserID || ev.AssignedEvaluatorID == id.UserID {
			return nil
		}
	case auth.RoleEmployee:
		if ev.EmployeeID == id.UserID && ev.Status != evaluation.StatusDraft {
			return nil
		}
	}
	return fmt.Errorf("%w: evaluation %s", errs.ErrForbidden, ev.ID)
}

// Employees resolves which employees the requester may list. HR sees every
// employee unless an evaluator is named; management sees its own roster.
func (f *Filter) Employees(ctx context.Context, id Identity, evaluatorID string) (EmployeeScope, error) {
	switch id.RoleName {
	case auth.RoleHR:
		if evaluatorID == "" {
			return EmployeeScope{All: true}, nil
		}
		ids, err := f.roster.EmployeesFor(ctx, evaluatorID)
		return EmployeeScope{IDs: ids}, err
	case auth.RoleManagement:
		if evaluatorID != "" && evaluatorID != id.UserID {
			return EmployeeScope{}, fmt.Errorf("%w: evaluators may only list their own employees", errs.ErrForbidden)
		}
		ids, err := f.roster.EmployeesFor(ctx, id.UserID)
		return EmployeeScope{IDs: ids}, err
	}
	return EmployeeScope{}, fmt.Errorf("%w: employee listing", errs.ErrForbidden)
}
