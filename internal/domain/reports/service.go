package reports

import (
	"context"
	"time"

	"evaltrack/internal/domain/evaluation"
	"evaltrack/internal/domain/movement"
	"evaltrack/internal/platform/recordstore"
)

type EvaluationSource interface {
	List(ctx context.Context, filter recordstore.Filter) ([]evaluation.Evaluation, error)
}

type MovementSource interface {
	List(ctx context.Context, f movement.ListFilter) ([]movement.Log, error)
}

type Summary struct {
	EvaluationsTotal    int            `json:"evaluationsTotal"`
	EvaluationsByStatus map[string]int `json:"evaluationsByStatus"`
	// AverageCompletedScore is 0 when nothing is completed.
	AverageCompletedScore float64        `json:"averageCompletedScore"`
	LevelDistribution     map[string]int `json:"levelDistribution"`
	MovementsTotal        int            `json:"movementsTotal"`
	CurrentlyOut          int            `json:"currentlyOut"`
	Overdue               int            `json:"overdue"`
	GeneratedAt           time.Time      `json:"generatedAt"`
}

type Service struct {
	evaluations EvaluationSource
	movements   MovementSource
	now         func() time.Time
}

func NewService(evaluations EvaluationSource, movements MovementSource) *Service {
	return &Service{evaluations: evaluations, movements: movements, now: time.Now}
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	evs, err := s.evaluations.List(ctx, recordstore.Filter{})
	if err != nil {
		return Summary{}, err
	}
	logs, err := s.movements.List(ctx, movement.ListFilter{})
	if err != nil {
		return Summary{}, err
	}
	return BuildSummary(evs, logs, s.now()), nil
}

// BuildSummary aggregates evaluations and movements. Movement statuses are
// derived against now.
func BuildSummary(evs []evaluation.Evaluation, logs []movement.Log, now time.Time) Summary {
	sum := Summary{
		EvaluationsTotal:    len(evs),
		EvaluationsByStatus: map[string]int{},
		LevelDistribution:   map[string]int{},
		MovementsTotal:      len(logs),
		GeneratedAt:         now.UTC(),
	}
	for _, st := range evaluation.Statuses {
		sum.EvaluationsByStatus[st] = 0
	}
	for _, lvl := range evaluation.Levels() {
		sum.LevelDistribution[lvl] = 0
	}

	completed := 0
	total := 0.0
	for _, ev := range evs {
		sum.EvaluationsByStatus[ev.Status]++
		if ev.Status != evaluation.StatusCompleted {
			continue
		}
		score := evaluation.ComputeScore(ev.Ratings)
		completed++
		total += score
		sum.LevelDistribution[evaluation.PerformanceLevel(score)]++
	}
	if completed > 0 {
		sum.AverageCompletedScore = total / float64(completed)
	}

	for _, m := range logs {
		if !m.Open() {
			continue
		}
		sum.CurrentlyOut++
		if movement.DeriveStatus(m.ExpectedReturnTime, nil, now) == movement.StatusOverdue {
			sum.Overdue++
		}
	}
	return sum
}
