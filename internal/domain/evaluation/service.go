package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

// EvaluatorLookup resolves an employee's current evaluator.
type EvaluatorLookup interface {
	EvaluatorFor(ctx context.Context, employeeID string) (string, bool, error)
}

// SignatureSealer protects signature blobs at rest.
type SignatureSealer interface {
	Seal(value string) (string, error)
	Open(value string) (string, error)
}

type Service struct {
	evaluations recordstore.Collection[Evaluation]
	evaluators  EvaluatorLookup
	sealer      SignatureSealer
	criteria    Criteria
	now         func() time.Time
}

func NewService(store recordstore.Store, evaluators EvaluatorLookup, sealer SignatureSealer) *Service {
	return &Service{
		evaluations: recordstore.NewCollection[Evaluation](store, recordstore.Evaluations),
		evaluators:  evaluators,
		sealer:      sealer,
		criteria:    DefaultCriteria(),
		now:         time.Now,
	}
}

func (s *Service) Criteria() Criteria {
	return s.criteria
}

func (s *Service) Get(ctx context.Context, id string) (Evaluation, error) {
	stored, err := s.evaluations.Get(ctx, id)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation %s: %w", id, err)
	}
	return s.present(stored)
}

func (s *Service) List(ctx context.Context, filter recordstore.Filter) ([]Evaluation, error) {
	stored, err := s.evaluations.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Evaluation, 0, len(stored))
	for _, ev := range stored {
		presented, err := s.present(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, presented)
	}
	return out, nil
}

// Save creates or edits a draft. Records that left DRAFT cannot be saved.
func (s *Service) Save(ctx context.Context, actor auth.UserContext, d Draft) (Evaluation, error) {
	if !actor.Is(auth.RoleManagement) && !actor.Is(auth.RoleHR) {
		return Evaluation{}, fmt.Errorf("%w: only supervisors and hr can edit evaluations", errs.ErrForbidden)
	}
	if d.Status != "" && d.Status != StatusDraft {
		return Evaluation{}, fmt.Errorf("%w: evaluations are saved as %s, got %s", errs.ErrInvalidState, StatusDraft, d.Status)
	}
	if err := s.validateDraft(d); err != nil {
		return Evaluation{}, err
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
		return s.create(ctx, actor, d)
	}
	stored, err := s.evaluations.Get(ctx, d.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return s.create(ctx, actor, d)
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation %s: %w", d.ID, err)
	}
	return s.update(ctx, actor, stored, d)
}

func (s *Service) create(ctx context.Context, actor auth.UserContext, d Draft) (Evaluation, error) {
	now := s.now().UTC()
	createdBy := actor.UserID
	if actor.Is(auth.RoleHR) && d.CreatedBy != "" {
		createdBy = d.CreatedBy
	}
	ev := Evaluation{
		ID:                  d.ID,
		EmployeeID:          d.EmployeeID,
		CreatedBy:           createdBy,
		AssignedEvaluatorID: d.AssignedEvaluatorID,
		EmployeeName:        d.EmployeeName,
		JobTitle:            d.JobTitle,
		Department:          d.Department,
		PeriodFrom:          d.PeriodFrom,
		PeriodTo:            d.PeriodTo,
		Ratings:             ratingsOrEmpty(d.Ratings),
		Status:              StatusDraft,
		SupervisorComments:  d.SupervisorComments,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if ev.AssignedEvaluatorID == "" && s.evaluators != nil {
		evaluatorID, ok, err := s.evaluators.EvaluatorFor(ctx, ev.EmployeeID)
		if err != nil {
			return Evaluation{}, fmt.Errorf("resolve evaluator: %w", err)
		}
		if ok {
			ev.AssignedEvaluatorID = evaluatorID
		}
	}
	ev.Score = s.criteria.Score(ev.Ratings)
	ev.PerformanceLevel = PerformanceLevel(ev.Score)

	if err := s.evaluations.Insert(ctx, ev); err != nil {
		if errors.Is(err, recordstore.ErrDuplicate) {
			return Evaluation{}, fmt.Errorf("evaluation %s was created concurrently: %w", ev.ID, err)
		}
		return Evaluation{}, err
	}
	return s.present(ev)
}

func (s *Service) update(ctx context.Context, actor auth.UserContext, stored Evaluation, d Draft) (Evaluation, error) {
	if err := canSupervise(actor, stored); err != nil {
		return Evaluation{}, err
	}
	if stored.Status != StatusDraft {
		return Evaluation{}, fmt.Errorf("%w: evaluation %s is %s and can no longer be edited", errs.ErrInvalidState, stored.ID, stored.Status)
	}

	ratings := ratingsOrEmpty(d.Ratings)
	score := s.criteria.Score(ratings)
	patch := recordstore.Patch{
		"employeeId":         d.EmployeeID,
		"employeeName":       d.EmployeeName,
		"jobTitle":           d.JobTitle,
		"department":         d.Department,
		"periodFrom":         d.PeriodFrom,
		"periodTo":           d.PeriodTo,
		"ratings":            ratings,
		"supervisorComments": d.SupervisorComments,
		"score":              score,
		"performanceLevel":   PerformanceLevel(score),
		"updatedAt":          s.now().UTC(),
	}
	if d.AssignedEvaluatorID != "" {
		patch["assignedEvaluatorId"] = d.AssignedEvaluatorID
	}
	updated, err := s.evaluations.Upsert(ctx, stored.ID, patch, recordstore.Conditions{"status": StatusDraft})
	if err != nil {
		return Evaluation{}, s.writeError(stored.ID, err)
	}
	return s.present(updated)
}

func (s *Service) validateDraft(d Draft) error {
	if strings.TrimSpace(d.EmployeeID) == "" {
		return errs.Invalid("employeeId", "is required")
	}
	for id, rating := range d.Ratings {
		if _, ok := s.criteria.Subcriterion(id); !ok {
			return errs.Invalid("ratings."+id, "unknown criterion")
		}
		if rating < MinRating || rating > MaxRating {
			return errs.Invalid("ratings."+id, fmt.Sprintf("must be between %d and %d", MinRating, MaxRating))
		}
	}
	return nil
}

// SubmitToEmployee signs the draft as supervisor and hands it to the employee.
func (s *Service) SubmitToEmployee(ctx context.Context, actor auth.UserContext, id, supervisorSignature string) (Evaluation, error) {
	return s.transition(ctx, id, step{
		name: "submit",
		from: StatusDraft,
		to:   StatusPendingEmployee,
		authorize: func(ev Evaluation) error {
			return canSupervise(actor, ev)
		},
		validate: func() error {
			if strings.TrimSpace(supervisorSignature) == "" {
				return errs.Invalid("supervisorSignature", "is required")
			}
			return nil
		},
		patch: func(ev Evaluation, now time.Time) (recordstore.Patch, error) {
			sealed, err := s.seal(supervisorSignature)
			if err != nil {
				return nil, err
			}
			sigs := ev.Signatures
			sigs.Supervisor = sealed
			sigs.SupervisorTimestamp = &now
			return recordstore.Patch{"signatures": sigs, "submittedAt": now}, nil
		},
	})
}

// Respond records the employee's agreement, comments and signature.
func (s *Service) Respond(ctx context.Context, actor auth.UserContext, id, agreement, comments, employeeSignature string) (Evaluation, error) {
	return s.transition(ctx, id, step{
		name: "respond",
		from: StatusPendingEmployee,
		to:   StatusPendingSupervisor,
		authorize: func(ev Evaluation) error {
			if actor.UserID != ev.EmployeeID {
				return fmt.Errorf("%w: only the evaluated employee can respond", errs.ErrForbidden)
			}
			return nil
		},
		validate: func() error {
			if agreement != AgreementAgree && agreement != AgreementDisagree {
				return errs.Invalid("agreement", "must be agree or disagree")
			}
			if strings.TrimSpace(employeeSignature) == "" {
				return errs.Invalid("employeeSignature", "is required")
			}
			return nil
		},
		patch: func(ev Evaluation, now time.Time) (recordstore.Patch, error) {
			sealed, err := s.seal(employeeSignature)
			if err != nil {
				return nil, err
			}
			sigs := ev.Signatures
			sigs.Employee = sealed
			sigs.EmployeeTimestamp = &now
			return recordstore.Patch{
				"signatures":        sigs,
				"respondedAt":       now,
				"employeeAgreement": agreement,
				"employeeComments":  comments,
			}, nil
		},
	})
}

// Finalize closes the evaluation with the manager's decision.
func (s *Service) Finalize(ctx context.Context, actor auth.UserContext, id, managerDecision string) (Evaluation, error) {
	return s.transition(ctx, id, step{
		name: "finalize",
		from: StatusPendingSupervisor,
		to:   StatusCompleted,
		authorize: func(ev Evaluation) error {
			return canSupervise(actor, ev)
		},
		validate: func() error {
			if strings.TrimSpace(managerDecision) == "" {
				return errs.Invalid("managerDecision", "is required")
			}
			return nil
		},
		patch: func(_ Evaluation, now time.Time) (recordstore.Patch, error) {
			return recordstore.Patch{"managerDecision": managerDecision, "finalizedAt": now}, nil
		},
	})
}

// Delete removes a draft. Only hr may delete.
func (s *Service) Delete(ctx context.Context, actor auth.UserContext, id string) error {
	if !actor.Is(auth.RoleHR) {
		return fmt.Errorf("%w: only hr can delete evaluations", errs.ErrForbidden)
	}
	stored, err := s.evaluations.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("evaluation %s: %w", id, err)
	}
	if stored.Status != StatusDraft {
		return fmt.Errorf("%w: evaluation %s is %s; only drafts can be deleted", errs.ErrInvalidState, id, stored.Status)
	}
	err = s.evaluations.DeleteIf(ctx, id, recordstore.Conditions{"status": StatusDraft})
	if errors.Is(err, recordstore.ErrConditionFailed) {
		return fmt.Errorf("%w: evaluation %s left %s while deleting", errs.ErrInvalidState, id, StatusDraft)
	}
	return err
}

type step struct {
	name      string
	from, to  string
	authorize func(Evaluation) error
	validate  func() error
	patch     func(stored Evaluation, now time.Time) (recordstore.Patch, error)
}

// transition applies one workflow step as a single conditional write on the
// source status. Any failure leaves the stored record untouched.
func (s *Service) transition(ctx context.Context, id string, st step) (Evaluation, error) {
	stored, err := s.evaluations.Get(ctx, id)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation %s: %w", id, err)
	}
	if err := st.authorize(stored); err != nil {
		return Evaluation{}, err
	}
	if err := st.validate(); err != nil {
		return Evaluation{}, err
	}
	if stored.Status != st.from {
		return Evaluation{}, fmt.Errorf("%w: cannot %s evaluation %s in status %s", errs.ErrInvalidState, st.name, id, stored.Status)
	}

	now := s.now().UTC()
	patch, err := st.patch(stored, now)
	if err != nil {
		return Evaluation{}, err
	}
	patch["status"] = st.to
	patch["updatedAt"] = now

	updated, err := s.evaluations.Upsert(ctx, id, patch, recordstore.Conditions{"status": st.from})
	if err != nil {
		return Evaluation{}, s.writeError(id, err)
	}
	return s.present(updated)
}

func (s *Service) writeError(id string, err error) error {
	if errors.Is(err, recordstore.ErrConditionFailed) {
		return fmt.Errorf("evaluation %s changed concurrently: %w", id, errs.ErrConflict)
	}
	return fmt.Errorf("evaluation %s: %w", id, err)
}

// present decrypts signatures and recomputes derived fields.
func (s *Service) present(ev Evaluation) (Evaluation, error) {
	ev.Ratings = ratingsOrEmpty(ev.Ratings)
	ev.Score = s.criteria.Score(ev.Ratings)
	ev.PerformanceLevel = PerformanceLevel(ev.Score)
	if s.sealer != nil {
		var err error
		if ev.Signatures.Supervisor, err = s.sealer.Open(ev.Signatures.Supervisor); err != nil {
			return Evaluation{}, fmt.Errorf("open supervisor signature: %w", err)
		}
		if ev.Signatures.Employee, err = s.sealer.Open(ev.Signatures.Employee); err != nil {
			return Evaluation{}, fmt.Errorf("open employee signature: %w", err)
		}
	}
	return ev, nil
}

func (s *Service) seal(signature string) (string, error) {
	if s.sealer == nil {
		return signature, nil
	}
	sealed, err := s.sealer.Seal(signature)
	if err != nil {
		return "", fmt.Errorf("seal signature: %w", err)
	}
	return sealed, nil
}

func canSupervise(actor auth.UserContext, ev Evaluation) error {
	if actor.Is(auth.RoleHR) {
		return nil
	}
	if actor.UserID != "" && (ev.CreatedBy == actor.UserID || ev.AssignedEvaluatorID == actor.UserID) {
		return nil
	}
	return fmt.Errorf("%w: evaluation %s is not assigned to %s", errs.ErrForbidden, ev.ID, actor.UserID)
}

func ratingsOrEmpty(r map[string]int) map[string]int {
	if r == nil {
		return map[string]int{}
	}
	return r
}
