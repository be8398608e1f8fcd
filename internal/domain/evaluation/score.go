package evaluation

import "math"

// ComputeScore sums rating × multiplier over the default table. Missing ratings count as 0.
func ComputeScore(ratings map[string]int) float64 {
	return defaultCriteria.Score(ratings)
}

func (c Criteria) Score(ratings map[string]int) float64 {
	total := 0.0
	for _, cat := range c.Categories {
		for _, s := range cat.Subcriteria {
			total += float64(ratings[s.ID]) * s.Multiplier
		}
	}
	return roundScore(total)
}

// ItemScore is the contribution of one subcriterion.
func (c Criteria) ItemScore(id string, rating int) float64 {
	s, ok := c.Subcriterion(id)
	if !ok {
		return 0
	}
	return roundScore(float64(rating) * s.Multiplier)
}

// roundScore trims float noise such as 99.99999999999999 from summed multipliers.
func roundScore(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

type level struct {
	min   float64
	label string
}

var levels = []level{
	{90, "Excellent"},
	{70, "Very Good"},
	{50, "Good"},
	{30, "Low"},
	{20, "Very Low"},
}

const LevelUnsatisfactory = "Unsatisfactory"

func PerformanceLevel(score float64) string {
	for _, l := range levels {
		if score >= l.min {
			return l.label
		}
	}
	return LevelUnsatisfactory
}

// Levels lists all labels from best to worst.
func Levels() []string {
	out := make([]string, 0, len(levels)+1)
	for _, l := range levels {
		out = append(out, l.label)
	}
	return append(out, LevelUnsatisfactory)
}
