package evaluation

import (
	"strings"
	"testing"
)

func allRatings(v int) map[string]int {
	out := map[string]int{}
	for _, cat := range DefaultCriteria().Categories {
		for _, s := range cat.Subcriteria {
			out[s.ID] = v
		}
	}
	return out
}

func TestComputeScoreBounds(t *testing.T) {
	if got := ComputeScore(allRatings(5)); got != 100 {
		t.Fatalf("all fives should score 100, got %v", got)
	}
	if got := ComputeScore(allRatings(0)); got != 0 {
		t.Fatalf("all zeros should score 0, got %v", got)
	}
	if got := ComputeScore(nil); got != 0 {
		t.Fatalf("missing ratings should score 0, got %v", got)
	}
}

func TestComputeScorePartial(t *testing.T) {
	got := ComputeScore(map[string]int{"1_1": 4, "2_4": 3, "3_2": 5})
	want := 4*6.0 + 3*1.0 + 5*3.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeScoreOrderIndependent(t *testing.T) {
	a := map[string]int{}
	b := map[string]int{}
	ids := []string{"1_1", "1_2", "1_3", "2_1", "2_2", "2_3", "2_4", "2_5", "2_6", "3_1", "3_2"}
	for i, id := range ids {
		a[id] = i % 6
	}
	for i := len(ids) - 1; i >= 0; i-- {
		b[ids[i]] = i % 6
	}
	for i := 0; i < 20; i++ {
		if ComputeScore(a) != ComputeScore(b) {
			t.Fatal("score must not depend on map order")
		}
	}
}

func TestPerformanceLevelBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{100, "Excellent"},
		{90, "Excellent"},
		{89.99, "Very Good"},
		{70, "Very Good"},
		{69.99, "Good"},
		{50, "Good"},
		{30, "Low"},
		{29.99, "Very Low"},
		{20, "Very Low"},
		{19.99, "Unsatisfactory"},
		{0, "Unsatisfactory"},
	}
	for _, tc := range cases {
		if got := PerformanceLevel(tc.score); got != tc.want {
			t.Fatalf("PerformanceLevel(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestDefaultCriteriaTable(t *testing.T) {
	c := DefaultCriteria()
	if got := c.MultiplierSum(); got != 20 {
		t.Fatalf("multipliers must sum to 20, got %v", got)
	}
	if len(c.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(c.Categories))
	}
	weights := []float64{48, 21, 31}
	for i, cat := range c.Categories {
		if cat.Weight != weights[i] {
			t.Fatalf("category %s weight %v, want %v", cat.Name, cat.Weight, weights[i])
		}
	}
	s, ok := c.Subcriterion("1_3")
	if !ok || s.Name != "Potential" || s.Multiplier != 1.6 {
		t.Fatalf("unexpected 1_3: %+v", s)
	}
	if len(Levels()) != 6 {
		t.Fatalf("expected 6 levels, got %v", Levels())
	}
}

func TestLoadCriteriaRejectsInconsistentTable(t *testing.T) {
	bad := `
categories:
  - id: 1
    name: Only
    weight: 100
    subcriteria:
      - id: "a"
        name: A
        weight: 100
        multiplier: 10
`
	_, err := LoadCriteria([]byte(bad))
	if err == nil || !strings.Contains(err.Error(), "multiplier") {
		t.Fatalf("expected multiplier error, got %v", err)
	}

	short := `
categories:
  - id: 1
    name: Only
    weight: 50
    subcriteria:
      - id: "a"
        name: A
        weight: 50
        multiplier: 10
`
	if _, err := LoadCriteria([]byte(short)); err == nil {
		t.Fatal("expected error for weights not summing to 100")
	}
}
