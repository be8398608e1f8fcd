package reports

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"evaltrack/internal/domain/evaluation"
	"evaltrack/internal/domain/movement"
)

func allRatings(v int) map[string]int {
	out := map[string]int{}
	for _, cat := range evaluation.DefaultCriteria().Categories {
		for _, sub := range cat.Subcriteria {
			out[sub.ID] = v
		}
	}
	return out
}

func TestEvaluationPDF(t *testing.T) {
	signed := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	ev := evaluation.Evaluation{
		ID:                 "E1",
		EmployeeName:       "Ada Lovelace",
		Department:         "Engineering",
		PeriodFrom:         "2025-01-01",
		PeriodTo:           "2025-03-31",
		Status:             evaluation.StatusCompleted,
		Ratings:            allRatings(4),
		SupervisorComments: "Solid quarter.",
		EmployeeAgreement:  evaluation.AgreementAgree,
		ManagerDecision:    "promote",
		Signatures:         evaluation.Signatures{Supervisor: "sigA", SupervisorTimestamp: &signed, Employee: "sigB"},
	}
	out, err := EvaluationPDF(ev, evaluation.DefaultCriteria())
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF")
	}
	if bytes.Contains(out, []byte("/Subtype /Image")) {
		t.Fatal("non-image signatures must fall back to the label")
	}

	ev.Signatures.Supervisor = signaturePNG(t)
	ev.Signatures.Employee = "data:image/png;base64,bm90IGEgcG5n"
	out, err = EvaluationPDF(ev, evaluation.DefaultCriteria())
	if err != nil {
		t.Fatalf("pdf with signature image: %v", err)
	}
	if got := bytes.Count(out, []byte("/Subtype /Image")); got != 1 {
		t.Fatalf("expected one embedded signature image, got %d", got)
	}
}

func signaturePNG(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 60, 20))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for x := 5; x < 55; x++ {
		img.SetGray(x, 10, color.Gray{Y: 0})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestWriteMovementsCSV(t *testing.T) {
	now := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	expected := now.Add(-time.Hour)
	late := expected.Add(time.Minute)
	logs := []movement.Log{
		{EmployeeID: "emp01", EmployeeName: "Ada", Category: "work", Destination: "Site", Reason: "Install\nstep two", DepartureTimestamp: now.Add(-2 * time.Hour), ExpectedReturnTime: expected, ActualReturnTimestamp: &expected, Status: movement.StatusOutOfOffice},
		{EmployeeID: "emp02", EmployeeName: "Bo", Category: "personal", Destination: "Bank", Reason: "Errand", DepartureTimestamp: now.Add(-2 * time.Hour), ExpectedReturnTime: expected, ActualReturnTimestamp: &late},
		{EmployeeID: "emp03", EmployeeName: "Cy", Category: "work", Destination: "HQ", Reason: "Meeting", DepartureTimestamp: now.Add(-2 * time.Hour), ExpectedReturnTime: expected},
	}
	var buf bytes.Buffer
	if err := WriteMovementsCSV(&buf, logs, now); err != nil {
		t.Fatalf("csv: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 4 || rows[0][0] != "Employee ID" {
		t.Fatalf("unexpected csv: %v", rows)
	}
	want := []string{movement.StatusOnTime, movement.StatusOverdue, movement.StatusOverdue}
	for i, status := range want {
		if got := rows[i+1][9]; got != status {
			t.Fatalf("row %d: expected %s, got %s", i+1, status, got)
		}
	}
	if rows[1][5] != "Install step two" {
		t.Fatalf("reason must be flattened, got %q", rows[1][5])
	}
	if rows[3][8] != "" {
		t.Fatalf("open movement must have empty actual return")
	}
}

func TestBuildSummary(t *testing.T) {
	now := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	evs := []evaluation.Evaluation{
		{Status: evaluation.StatusDraft},
		{Status: evaluation.StatusCompleted, Ratings: allRatings(5)},
		{Status: evaluation.StatusCompleted, Ratings: allRatings(0)},
		{Status: evaluation.StatusPendingEmployee},
	}
	logs := []movement.Log{
		{ExpectedReturnTime: now.Add(-time.Minute)},
		{ExpectedReturnTime: now.Add(time.Hour)},
		{ExpectedReturnTime: now.Add(-time.Hour), ActualReturnTimestamp: &now},
	}
	sum := BuildSummary(evs, logs, now)
	if sum.EvaluationsTotal != 4 || sum.EvaluationsByStatus[evaluation.StatusCompleted] != 2 || sum.EvaluationsByStatus[evaluation.StatusPendingSupervisor] != 0 {
		t.Fatalf("unexpected status counts: %+v", sum.EvaluationsByStatus)
	}
	if sum.AverageCompletedScore != 50 {
		t.Fatalf("expected average 50, got %v", sum.AverageCompletedScore)
	}
	if sum.LevelDistribution["Excellent"] != 1 || sum.LevelDistribution[evaluation.LevelUnsatisfactory] != 1 {
		t.Fatalf("unexpected levels: %+v", sum.LevelDistribution)
	}
	if sum.CurrentlyOut != 2 || sum.Overdue != 1 {
		t.Fatalf("expected 2 out and 1 overdue, got %d and %d", sum.CurrentlyOut, sum.Overdue)
	}
}
