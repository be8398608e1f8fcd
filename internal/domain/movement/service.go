package movement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

const (
	CategoryWork     = "work"
	CategoryPersonal = "personal"

	// presenceSlots holds one slot per employee naming the open movement.
	presenceSlots = "movementPresence"
)

type Log struct {
	ID                    string     `json:"id"`
	EmployeeID            string     `json:"employeeId"`
	EmployeeName          string     `json:"employeeName"`
	Department            string     `json:"department"`
	Category              string     `json:"category"`
	Destination           string     `json:"destination"`
	Reason                string     `json:"reason"`
	ExpectedReturnTime    time.Time  `json:"expectedReturnTime"`
	DepartureTimestamp    time.Time  `json:"departureTimestamp"`
	ActualReturnTimestamp *time.Time `json:"actualReturnTimestamp,omitempty"`
	// Status is recomputed on every read; the stored value is only a hint.
	Status string `json:"status"`
}

func (l Log) Open() bool {
	return l.ActualReturnTimestamp == nil
}

type CheckOutInput struct {
	Category           string    `json:"category"`
	Destination        string    `json:"destination"`
	Reason             string    `json:"reason"`
	ExpectedReturnTime time.Time `json:"expectedReturnTime"`
}

type Employee struct {
	Name       string
	Department string
}

// EmployeeLookup returns the directory entry copied onto new movements.
type EmployeeLookup func(ctx context.Context, employeeID string) (Employee, error)

type Presence struct {
	EmployeeID string `json:"employeeId"`
	Status     string `json:"status"`
	Movement   *Log   `json:"movement,omitempty"`
}

type ListFilter struct {
	EmployeeID string
	Department string
	Status     string
	From       *time.Time
	To         *time.Time
}

type Service struct {
	logs     recordstore.Collection[Log]
	presence recordstore.Slots
	lookup   EmployeeLookup
	now      func() time.Time
}

func NewService(store recordstore.Store, lookup EmployeeLookup) *Service {
	s := &Service{
		logs:   recordstore.NewCollection[Log](store, recordstore.MovementLogs),
		lookup: lookup,
		now:    time.Now,
	}
	s.presence = recordstore.NewSlots(store, presenceSlots, s.openHolder).WithClock(func() time.Time { return s.now() })
	return s
}

// openHolder reports whether the movement named by a presence slot is still open.
func (s *Service) openHolder(ctx context.Context, id string) (bool, error) {
	entry, err := s.logs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return entry.Open(), nil
}

func (s *Service) CheckOut(ctx context.Context, employeeID string, in CheckOutInput) (Log, error) {
	now := s.now().UTC()
	category := strings.ToLower(strings.TrimSpace(in.Category))
	switch {
	case category != CategoryWork && category != CategoryPersonal:
		return Log{}, errs.Invalid("category", "must be work or personal")
	case strings.TrimSpace(in.Destination) == "":
		return Log{}, errs.Invalid("destination", "is required")
	case strings.TrimSpace(in.Reason) == "":
		return Log{}, errs.Invalid("reason", "is required")
	case in.ExpectedReturnTime.IsZero():
		return Log{}, errs.Invalid("expectedReturnTime", "is required")
	case !in.ExpectedReturnTime.After(now):
		return Log{}, errs.Invalid("expectedReturnTime", "must be after departure")
	}

	entry := Log{
		ID:                 uuid.NewString(),
		EmployeeID:         employeeID,
		Category:           category,
		Destination:        strings.TrimSpace(in.Destination),
		Reason:             strings.TrimSpace(in.Reason),
		ExpectedReturnTime: in.ExpectedReturnTime.UTC(),
		DepartureTimestamp: now,
		Status:             StatusOutOfOffice,
	}
	if s.lookup != nil {
		emp, err := s.lookup(ctx, employeeID)
		if err != nil {
			return Log{}, fmt.Errorf("employee %s: %w", employeeID, err)
		}
		entry.EmployeeName = emp.Name
		entry.Department = emp.Department
	}

	if err := s.presence.Claim(ctx, employeeID, entry.ID, s.resolveOpen(employeeID)); err != nil {
		if errors.Is(err, recordstore.ErrSlotTaken) {
			return Log{}, fmt.Errorf("%w: %s is already checked out", errs.ErrConflict, employeeID)
		}
		return Log{}, err
	}
	if err := s.logs.Insert(ctx, entry); err != nil {
		if relErr := s.presence.Release(ctx, employeeID, entry.ID); relErr != nil {
			slog.Warn("release presence failed", "employeeId", employeeID, "err", relErr)
		}
		return Log{}, err
	}
	return s.present(entry), nil
}

func (s *Service) CheckIn(ctx context.Context, employeeID string) (Log, error) {
	openID, err := s.presence.Holder(ctx, employeeID, s.resolveOpen(employeeID))
	if err != nil {
		return Log{}, err
	}
	if openID == "" {
		return Log{}, fmt.Errorf("%w: %s has no open movement", errs.ErrNotFound, employeeID)
	}
	entry, err := s.logs.Get(ctx, openID)
	if err != nil {
		return Log{}, fmt.Errorf("movement %s: %w", openID, err)
	}
	if err := s.presence.Release(ctx, employeeID, openID); err != nil {
		if errors.Is(err, recordstore.ErrSlotTaken) {
			return Log{}, fmt.Errorf("%w: %s checked in concurrently", errs.ErrConflict, employeeID)
		}
		return Log{}, err
	}

	now := s.now().UTC()
	updated, err := s.logs.Upsert(ctx, openID, recordstore.Patch{
		"actualReturnTimestamp": now,
		"status":                DeriveStatus(entry.ExpectedReturnTime, &now, now),
	}, nil)
	if err != nil {
		if claimErr := s.presence.Claim(ctx, employeeID, openID, nil); claimErr != nil {
			slog.Error("restore presence after failed check-in", "employeeId", employeeID, "movementId", openID, "err", claimErr)
		}
		return Log{}, err
	}
	return s.present(updated), nil
}

// ListActive returns movements without a return, oldest departure first.
func (s *Service) ListActive(ctx context.Context) ([]Log, error) {
	all, err := s.logs.Find(ctx, recordstore.Filter{})
	if err != nil {
		return nil, err
	}
	out := []Log{}
	for _, entry := range all {
		if entry.Open() {
			out = append(out, s.present(entry))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepartureTimestamp.Before(out[j].DepartureTimestamp)
	})
	return out, nil
}

// List returns movements newest first. From and To bound the departure time.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Log, error) {
	where := map[string]any{}
	if f.EmployeeID != "" {
		where["employeeId"] = f.EmployeeID
	}
	if f.Department != "" {
		where["department"] = f.Department
	}
	all, err := s.logs.Find(ctx, recordstore.Filter{Where: where})
	if err != nil {
		return nil, err
	}
	out := []Log{}
	for _, entry := range all {
		if f.From != nil && entry.DepartureTimestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && entry.DepartureTimestamp.After(*f.To) {
			continue
		}
		entry = s.present(entry)
		if f.Status != "" && entry.Status != f.Status {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepartureTimestamp.After(out[j].DepartureTimestamp)
	})
	return out, nil
}

func (s *Service) Current(ctx context.Context, employeeID string) (Presence, error) {
	open, err := s.openMovement(ctx, employeeID)
	if err != nil {
		return Presence{}, err
	}
	p := Presence{EmployeeID: employeeID, Status: PresenceStatus(open, s.now())}
	if open != nil {
		presented := s.present(*open)
		p.Movement = &presented
	}
	return p, nil
}

func (s *Service) openMovement(ctx context.Context, employeeID string) (*Log, error) {
	entries, err := s.logs.Find(ctx, recordstore.Eq("employeeId", employeeID))
	if err != nil {
		return nil, err
	}
	var open *Log
	for i := range entries {
		if !entries[i].Open() {
			continue
		}
		if open == nil || entries[i].DepartureTimestamp.After(open.DepartureTimestamp) {
			open = &entries[i]
		}
	}
	return open, nil
}

// resolveOpen seeds the presence slot from stored logs the first time an employee is seen.
func (s *Service) resolveOpen(employeeID string) recordstore.Resolve {
	return func(ctx context.Context) (string, error) {
		open, err := s.openMovement(ctx, employeeID)
		if err != nil || open == nil {
			return "", err
		}
		return open.ID, nil
	}
}

func (s *Service) present(entry Log) Log {
	entry.Status = DeriveStatus(entry.ExpectedReturnTime, entry.ActualReturnTimestamp, s.now())
	return entry
}
