package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

// pairSlots holds one slot per (evaluator, employee) pair naming its active assignment.
const pairSlots = "assignmentPairs"

type Assignment struct {
	ID          string    `json:"id"`
	EvaluatorID string    `json:"evaluatorId"`
	EmployeeID  string    `json:"employeeId"`
	AssignedBy  string    `json:"assignedBy"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Directory reports a user's role; errs.ErrNotFound for unknown users.
type Directory interface {
	Role(ctx context.Context, userID string) (string, error)
}

type ListFilter struct {
	EvaluatorID     string
	EmployeeID      string
	IncludeInactive bool
}

type UpdateInput struct {
	EvaluatorID *string `json:"evaluatorId"`
	EmployeeID  *string `json:"employeeId"`
	IsActive    *bool   `json:"isActive"`
}

type Service struct {
	assignments recordstore.Collection[Assignment]
	pairs       recordstore.Slots
	directory   Directory
	now         func() time.Time
}

func NewService(store recordstore.Store, directory Directory) *Service {
	s := &Service{
		assignments: recordstore.NewCollection[Assignment](store, recordstore.EvaluatorAssignments),
		directory:   directory,
		now:         time.Now,
	}
	s.pairs = recordstore.NewSlots(store, pairSlots, s.activeHolder).WithClock(func() time.Time { return s.now() })
	return s
}

// activeHolder reports whether the assignment named by a pair slot is still active.
func (s *Service) activeHolder(ctx context.Context, id string) (bool, error) {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return a.IsActive, nil
}

func (s *Service) Get(ctx context.Context, id string) (Assignment, error) {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return Assignment{}, fmt.Errorf("assignment %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Assignment, error) {
	where := map[string]any{}
	if f.EvaluatorID != "" {
		where["evaluatorId"] = f.EvaluatorID
	}
	if f.EmployeeID != "" {
		where["employeeId"] = f.EmployeeID
	}
	if !f.IncludeInactive {
		where["isActive"] = true
	}
	return s.assignments.Find(ctx, recordstore.Filter{Where: where})
}

// EmployeesFor lists employees with an active assignment to evaluatorID.
func (s *Service) EmployeesFor(ctx context.Context, evaluatorID string) ([]string, error) {
	active, err := s.List(ctx, ListFilter{EvaluatorID: evaluatorID})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(active))
	out := make([]string, 0, len(active))
	for _, a := range active {
		if _, dup := seen[a.EmployeeID]; dup {
			continue
		}
		seen[a.EmployeeID] = struct{}{}
		out = append(out, a.EmployeeID)
	}
	return out, nil
}

// EvaluatorFor returns the employee's evaluator. With several active
// assignments the most recently created one wins and the condition is logged.
func (s *Service) EvaluatorFor(ctx context.Context, employeeID string) (string, bool, error) {
	active, err := s.List(ctx, ListFilter{EmployeeID: employeeID})
	if err != nil {
		return "", false, err
	}
	switch len(active) {
	case 0:
		return "", false, nil
	case 1:
		return active[0].EvaluatorID, true, nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})
	evaluators := make([]string, 0, len(active))
	for _, a := range active {
		evaluators = append(evaluators, a.EvaluatorID)
	}
	slog.Error("data integrity: employee has multiple active evaluators",
		"employeeId", employeeID, "evaluators", evaluators, "picked", active[0].EvaluatorID)
	return active[0].EvaluatorID, true, nil
}

func (s *Service) Assign(ctx context.Context, evaluatorID, employeeID, assignedBy string) (Assignment, error) {
	evaluatorID = strings.TrimSpace(evaluatorID)
	employeeID = strings.TrimSpace(employeeID)
	if err := s.validatePair(ctx, evaluatorID, employeeID); err != nil {
		return Assignment{}, err
	}

	now := s.now().UTC()
	a := Assignment{
		ID:          uuid.NewString(),
		EvaluatorID: evaluatorID,
		EmployeeID:  employeeID,
		AssignedBy:  assignedBy,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	key := pairKey(evaluatorID, employeeID)
	if err := s.pairs.Claim(ctx, key, a.ID, s.resolvePair(evaluatorID, employeeID)); err != nil {
		return Assignment{}, s.claimError(evaluatorID, employeeID, err)
	}
	if err := s.assignments.Insert(ctx, a); err != nil {
		if relErr := s.pairs.Release(ctx, key, a.ID); relErr != nil {
			slog.Warn("release assignment slot failed", "key", key, "err", relErr)
		}
		return Assignment{}, err
	}
	return a, nil
}

// Unassign soft-deletes an assignment. Repeating it is a no-op.
func (s *Service) Unassign(ctx context.Context, id string) (Assignment, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !current.IsActive {
		return current, nil
	}
	updated, err := s.assignments.Upsert(ctx, id,
		recordstore.Patch{"isActive": false, "updatedAt": s.now().UTC()},
		recordstore.Conditions{"isActive": true})
	if errors.Is(err, recordstore.ErrConditionFailed) {
		return s.Get(ctx, id)
	}
	if err != nil {
		return Assignment{}, err
	}
	s.release(ctx, pairKey(current.EvaluatorID, current.EmployeeID), id)
	return updated, nil
}

// Update changes the pair or active flag, keeping one active assignment per pair.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Assignment, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	next := current
	if in.EvaluatorID != nil {
		next.EvaluatorID = strings.TrimSpace(*in.EvaluatorID)
	}
	if in.EmployeeID != nil {
		next.EmployeeID = strings.TrimSpace(*in.EmployeeID)
	}
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}

	pairChanged := next.EvaluatorID != current.EvaluatorID || next.EmployeeID != current.EmployeeID
	if !pairChanged && next.IsActive == current.IsActive {
		return current, nil
	}
	if pairChanged {
		if err := s.validatePair(ctx, next.EvaluatorID, next.EmployeeID); err != nil {
			return Assignment{}, err
		}
	}

	oldKey := pairKey(current.EvaluatorID, current.EmployeeID)
	newKey := pairKey(next.EvaluatorID, next.EmployeeID)
	claimed := false
	if next.IsActive && (!current.IsActive || pairChanged) {
		if err := s.pairs.Claim(ctx, newKey, id, s.resolvePair(next.EvaluatorID, next.EmployeeID)); err != nil {
			return Assignment{}, s.claimError(next.EvaluatorID, next.EmployeeID, err)
		}
		claimed = true
	}

	updated, err := s.assignments.Upsert(ctx, id, recordstore.Patch{
		"evaluatorId": next.EvaluatorID,
		"employeeId":  next.EmployeeID,
		"isActive":    next.IsActive,
		"updatedAt":   s.now().UTC(),
	}, recordstore.Conditions{
		"evaluatorId": current.EvaluatorID,
		"employeeId":  current.EmployeeID,
		"isActive":    current.IsActive,
	})
	if err != nil {
		if claimed {
			s.release(ctx, newKey, id)
		}
		if errors.Is(err, recordstore.ErrConditionFailed) {
			return Assignment{}, fmt.Errorf("assignment %s changed concurrently: %w", id, errs.ErrConflict)
		}
		return Assignment{}, err
	}
	if current.IsActive && (!next.IsActive || pairChanged) {
		s.release(ctx, oldKey, id)
	}
	if claimed {
		// The slot was claimed while this record was still inactive, so another
		// claim could have taken it over as stale in between.
		holder, err := s.pairs.Holder(ctx, newKey, nil)
		if err != nil {
			return Assignment{}, err
		}
		if holder != id {
			if _, err := s.assignments.Upsert(ctx, id, recordstore.Patch{"isActive": false, "updatedAt": s.now().UTC()}, nil); err != nil {
				slog.Error("deactivate assignment after lost slot", "id", id, "err", err)
			}
			return Assignment{}, s.claimError(next.EvaluatorID, next.EmployeeID, recordstore.ErrSlotTaken)
		}
	}
	return updated, nil
}

func (s *Service) validatePair(ctx context.Context, evaluatorID, employeeID string) error {
	if evaluatorID == "" {
		return errs.Invalid("evaluatorId", "is required")
	}
	if employeeID == "" {
		return errs.Invalid("employeeId", "is required")
	}
	if evaluatorID == employeeID {
		return errs.Invalid("employeeId", "cannot be assigned to themselves")
	}
	if s.directory == nil {
		return nil
	}
	role, err := s.directory.Role(ctx, evaluatorID)
	if err != nil {
		return fmt.Errorf("evaluator %s: %w", evaluatorID, err)
	}
	if role != auth.RoleManagement && role != auth.RoleHR {
		return errs.Invalid("evaluatorId", "must be a management or hr user")
	}
	role, err = s.directory.Role(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("employee %s: %w", employeeID, err)
	}
	if role != auth.RoleEmployee {
		return errs.Invalid("employeeId", "must be an employee")
	}
	return nil
}

// resolvePair finds the active assignment for a pair whose slot was never
// claimed, e.g. rows imported from a fixture.
func (s *Service) resolvePair(evaluatorID, employeeID string) recordstore.Resolve {
	return func(ctx context.Context) (string, error) {
		active, err := s.assignments.Find(ctx, recordstore.Filter{Where: map[string]any{
			"evaluatorId": evaluatorID,
			"employeeId":  employeeID,
			"isActive":    true,
		}})
		if err != nil || len(active) == 0 {
			return "", err
		}
		return active[0].ID, nil
	}
}

func (s *Service) release(ctx context.Context, key, holder string) {
	if err := s.pairs.Release(ctx, key, holder); err != nil {
		slog.Warn("release assignment slot failed", "key", key, "holder", holder, "err", err)
	}
}

func (s *Service) claimError(evaluatorID, employeeID string, err error) error {
	if errors.Is(err, recordstore.ErrSlotTaken) {
		return fmt.Errorf("%w: %s already has an active assignment for %s", errs.ErrConflict, evaluatorID, employeeID)
	}
	return err
}

func pairKey(evaluatorID, employeeID string) string {
	return strconv.Quote(evaluatorID) + "/" + strconv.Quote(employeeID)
}
