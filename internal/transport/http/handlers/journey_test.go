package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"evaltrack/internal/app/server"
	"evaltrack/internal/platform/config"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type client struct {
	t  *testing.T
	ts *httptest.Server
}

func newApp(t *testing.T) client {
	t.Helper()
	cfg := config.Config{
		StoreBackend:       config.BackendMemory,
		Environment:        "test",
		JWTSecret:          "test-secret",
		TokenTTL:           time.Hour,
		RunSeed:            true,
		SeedHRID:           "hr",
		SeedHRPassword:     "hrpass123",
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 1000,
		MetricsEnabled:     true,
	}
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	ts := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Close()
	})
	return client{t: t, ts: ts}
}

func (c client) raw(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.ts.URL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.ts.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c client) call(method, path, token string, body any) (int, envelope) {
	c.t.Helper()
	resp := c.raw(method, path, token, body)
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (c client) expect(method, path, token string, body any, want int, out any) {
	c.t.Helper()
	status, env := c.call(method, path, token, body)
	if status != want {
		code := ""
		if env.Error != nil {
			code = env.Error.Code
		}
		c.t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, want, status, code)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
}

func (c client) login(id, password string) string {
	c.t.Helper()
	var data struct {
		Token string `json:"token"`
	}
	c.expect(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"id": id, "password": password}, http.StatusOK, &data)
	return data.Token
}

type evaluationView struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	AssignedEvaluatorID string  `json:"assignedEvaluatorId"`
	Score               float64 `json:"score"`
	PerformanceLevel    string  `json:"performanceLevel"`
	EmployeeAgreement   string  `json:"employeeAgreement"`
	EmployeeComments    string  `json:"employeeComments"`
}

func TestEvaluationAndMovementJourney(t *testing.T) {
	c := newApp(t)
	hr := c.login("hr", "hrpass123")

	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "mgr1", "name": "Mia", "role": "evaluator", "password": "manager123"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "emp1", "name": "Eli", "role": "employee", "password": "employee123", "department": "Engineering", "jobTitle": "Developer"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/evaluator-assignments", hr, map[string]string{"evaluatorId": "mgr1", "employeeId": "emp1"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/evaluator-assignments", hr, map[string]string{"evaluatorId": "mgr1", "employeeId": "emp1"}, http.StatusConflict, nil)

	mgr := c.login("mgr1", "manager123")
	emp := c.login("emp1", "employee123")

	var roster []struct {
		ID string `json:"id"`
	}
	c.expect(http.MethodGet, "/api/v1/employees", mgr, nil, http.StatusOK, &roster)
	if len(roster) != 1 || roster[0].ID != "emp1" {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	c.expect(http.MethodGet, "/api/v1/employees", emp, nil, http.StatusForbidden, nil)

	var criteria struct {
		Criteria struct {
			Categories []struct {
				Subcriteria []struct {
					ID string `json:"id"`
				} `json:"subcriteria"`
			} `json:"categories"`
		} `json:"criteria"`
	}
	c.expect(http.MethodGet, "/api/v1/criteria", emp, nil, http.StatusOK, &criteria)
	ratings := map[string]int{}
	for _, cat := range criteria.Criteria.Categories {
		for _, sub := range cat.Subcriteria {
			ratings[sub.ID] = 5
		}
	}

	var draft evaluationView
	c.expect(http.MethodPost, "/api/v1/evaluations", mgr, map[string]any{
		"employeeId":   "emp1",
		"employeeName": "Eli",
		"periodFrom":   "2026-01-01",
		"periodTo":     "2026-06-30",
		"ratings":      ratings,
	}, http.StatusOK, &draft)
	if draft.Status != "DRAFT" || draft.AssignedEvaluatorID != "mgr1" || draft.Score != 100 {
		t.Fatalf("unexpected draft: %+v", draft)
	}
	c.expect(http.MethodPost, "/api/v1/evaluations", emp, map[string]any{"employeeId": "emp1"}, http.StatusForbidden, nil)

	var visible []evaluationView
	c.expect(http.MethodGet, "/api/v1/evaluations?employeeId=emp1", emp, nil, http.StatusOK, &visible)
	if len(visible) != 0 {
		t.Fatalf("draft must be hidden from the employee, got %+v", visible)
	}
	c.expect(http.MethodGet, "/api/v1/evaluations/"+draft.ID, emp, nil, http.StatusForbidden, nil)

	c.expect(http.MethodPost, "/api/v1/evaluations/"+draft.ID+"/submit", mgr, map[string]string{"supervisorSignature": "data:image/png;base64,AAAA"}, http.StatusOK, nil)
	c.expect(http.MethodPost, "/api/v1/evaluations", mgr, map[string]any{"id": draft.ID, "employeeId": "emp1", "ratings": ratings}, http.StatusConflict, nil)

	c.expect(http.MethodGet, "/api/v1/evaluations?employeeId=emp1", emp, nil, http.StatusOK, &visible)
	if len(visible) != 1 || visible[0].Status != "PENDING_EMPLOYEE" {
		t.Fatalf("expected the submitted evaluation, got %+v", visible)
	}
	c.expect(http.MethodPost, "/api/v1/evaluations/"+draft.ID+"/finalize", mgr, map[string]string{"managerDecision": "Promote"}, http.StatusConflict, nil)
	c.expect(http.MethodPost, "/api/v1/evaluations/"+draft.ID+"/respond", emp, map[string]string{"employeeAgreement": "agree", "employeeComments": "Thanks", "employeeSignature": "data:image/png;base64,BBBB"}, http.StatusOK, nil)

	var final evaluationView
	c.expect(http.MethodPost, "/api/v1/evaluations/"+draft.ID+"/finalize", mgr, map[string]string{"managerDecision": "Promote"}, http.StatusOK, &final)
	if final.Status != "COMPLETED" || final.Score != 100 || final.PerformanceLevel == "" || final.EmployeeAgreement != "agree" || final.EmployeeComments != "Thanks" {
		t.Fatalf("unexpected final evaluation: %+v", final)
	}

	pdf := c.raw(http.MethodGet, "/api/v1/evaluations/"+draft.ID+"/pdf", emp, nil)
	defer pdf.Body.Close()
	if pdf.StatusCode != http.StatusOK || pdf.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf, got %d %s", pdf.StatusCode, pdf.Header.Get("Content-Type"))
	}

	c.expect(http.MethodGet, "/api/v1/evaluations", hr, nil, http.StatusOK, &visible)
	if len(visible) != 0 {
		t.Fatalf("unscoped query must be empty, got %d", len(visible))
	}
	c.expect(http.MethodGet, "/api/v1/evaluations?mode=all", hr, nil, http.StatusOK, &visible)
	if len(visible) != 1 {
		t.Fatalf("expected one evaluation with mode=all, got %d", len(visible))
	}

	checkOut := map[string]any{
		"category":           "work",
		"destination":        "Client site",
		"reason":             "Workshop",
		"expectedReturnTime": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}
	c.expect(http.MethodPost, "/api/v1/movements/check-out", emp, checkOut, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/movements/check-out", emp, checkOut, http.StatusConflict, nil)

	var presence struct {
		Status string `json:"status"`
	}
	c.expect(http.MethodGet, "/api/v1/movements/me", emp, nil, http.StatusOK, &presence)
	if presence.Status != "OUT_OF_OFFICE" {
		t.Fatalf("expected OUT_OF_OFFICE, got %q", presence.Status)
	}
	var active []struct {
		EmployeeID string `json:"employeeId"`
		Department string `json:"department"`
	}
	c.expect(http.MethodGet, "/api/v1/movements/active", hr, nil, http.StatusOK, &active)
	if len(active) != 1 || active[0].EmployeeID != "emp1" || active[0].Department != "Engineering" {
		t.Fatalf("unexpected active movements: %+v", active)
	}
	c.expect(http.MethodGet, "/api/v1/movements/active", emp, nil, http.StatusForbidden, nil)
	c.expect(http.MethodGet, "/api/v1/movements?employeeId=mgr1", emp, nil, http.StatusForbidden, nil)

	c.expect(http.MethodPost, "/api/v1/movements/check-in", emp, nil, http.StatusOK, nil)
	c.expect(http.MethodPost, "/api/v1/movements/check-in", emp, nil, http.StatusNotFound, nil)
	c.expect(http.MethodGet, "/api/v1/movements/me", emp, nil, http.StatusOK, &presence)
	if presence.Status != "IN_OFFICE" {
		t.Fatalf("expected IN_OFFICE, got %q", presence.Status)
	}

	var window []struct {
		EmployeeID string `json:"employeeId"`
	}
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	c.expect(http.MethodGet, "/api/v1/movements?fromDate="+yesterday+"&toDate="+tomorrow, emp, nil, http.StatusOK, &window)
	if len(window) != 1 {
		t.Fatalf("expected the recent movement with fromDate/toDate, got %d", len(window))
	}
	c.expect(http.MethodGet, "/api/v1/movements?fromDate=2000-01-01&toDate=2000-01-02", emp, nil, http.StatusOK, &window)
	if len(window) != 0 {
		t.Fatalf("expected no movements in 2000, got %d", len(window))
	}

	export := c.raw(http.MethodGet, "/api/v1/movements/export.csv?department=Engineering", hr, nil)
	defer export.Body.Close()
	body, _ := io.ReadAll(export.Body)
	if export.StatusCode != http.StatusOK || !strings.Contains(string(body), "emp1") || !strings.Contains(string(body), "ON_TIME") {
		t.Fatalf("unexpected export: %d %s", export.StatusCode, body)
	}

	var summary struct {
		EvaluationsTotal int `json:"evaluationsTotal"`
		MovementsTotal   int `json:"movementsTotal"`
		CurrentlyOut     int `json:"currentlyOut"`
	}
	c.expect(http.MethodGet, "/api/v1/reports/summary", hr, nil, http.StatusOK, &summary)
	if summary.EvaluationsTotal != 1 || summary.MovementsTotal != 1 || summary.CurrentlyOut != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var events []struct {
		Action string `json:"action"`
	}
	c.expect(http.MethodGet, "/api/v1/audit?entityType=evaluation", hr, nil, http.StatusOK, &events)
	if len(events) < 4 {
		t.Fatalf("expected evaluation audit events, got %d", len(events))
	}
	c.expect(http.MethodGet, "/api/v1/audit", mgr, nil, http.StatusForbidden, nil)
}

func TestAccessBoundaries(t *testing.T) {
	c := newApp(t)

	health := c.raw(http.MethodGet, "/healthz", "", nil)
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", health.StatusCode)
	}
	ready := c.raw(http.MethodGet, "/readyz", "", nil)
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("expected readyz 200, got %d", ready.StatusCode)
	}

	c.expect(http.MethodGet, "/api/v1/users", "", nil, http.StatusUnauthorized, nil)
	c.expect(http.MethodGet, "/api/v1/evaluations?mode=all", "", nil, http.StatusUnauthorized, nil)

	hr := c.login("hr", "hrpass123")
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "emp2", "name": "Em", "role": "employee", "password": "employee123"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "emp2", "name": "Em", "role": "employee", "password": "employee123"}, http.StatusConflict, nil)
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "x", "name": "X", "role": "admin", "password": "employee123"}, http.StatusBadRequest, nil)

	emp := c.login("emp2", "employee123")
	c.expect(http.MethodGet, "/api/v1/users", emp, nil, http.StatusForbidden, nil)
	c.expect(http.MethodGet, "/api/v1/evaluations?mode=all", emp, nil, http.StatusOK, nil)
	c.expect(http.MethodGet, "/api/v1/evaluations?employeeId=hr", emp, nil, http.StatusForbidden, nil)
	c.expect(http.MethodGet, "/api/v1/reports/summary", emp, nil, http.StatusForbidden, nil)

	var me struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	c.expect(http.MethodGet, "/api/v1/auth/me", emp, nil, http.StatusOK, &me)
	if me.ID != "emp2" || me.Role != "employee" {
		t.Fatalf("unexpected me: %+v", me)
	}

	c.expect(http.MethodDelete, "/api/v1/users/emp2", hr, nil, http.StatusOK, nil)
	c.expect(http.MethodGet, "/api/v1/auth/me", emp, nil, http.StatusUnauthorized, nil)
	c.expect(http.MethodDelete, "/api/v1/users/hr", hr, nil, http.StatusBadRequest, nil)
}

func TestUserChangesEndOldSessions(t *testing.T) {
	c := newApp(t)
	hr := c.login("hr", "hrpass123")
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "mgr9", "name": "Mo", "role": "management", "password": "manager123"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "mgr8", "name": "Max", "role": "management", "password": "manager123"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/users", hr, map[string]string{"id": "emp9", "name": "Ed", "role": "employee", "password": "employee123"}, http.StatusCreated, nil)
	c.expect(http.MethodPost, "/api/v1/evaluator-assignments", hr, map[string]string{"evaluatorId": "mgr8", "employeeId": "emp9"}, http.StatusCreated, nil)

	demoted := c.login("mgr9", "manager123")
	c.expect(http.MethodGet, "/api/v1/employees", demoted, nil, http.StatusOK, nil)

	// A profile edit keeps the session alive.
	c.expect(http.MethodPut, "/api/v1/users/mgr9", hr, map[string]string{"name": "Moe"}, http.StatusOK, nil)
	c.expect(http.MethodGet, "/api/v1/auth/me", demoted, nil, http.StatusOK, nil)

	c.expect(http.MethodPut, "/api/v1/users/mgr9", hr, map[string]string{"role": "employee"}, http.StatusOK, nil)
	c.expect(http.MethodGet, "/api/v1/employees", demoted, nil, http.StatusUnauthorized, nil)
	c.expect(http.MethodPost, "/api/v1/evaluations", demoted, map[string]any{"employeeId": "emp9"}, http.StatusUnauthorized, nil)

	relogged := c.login("mgr9", "manager123")
	c.expect(http.MethodGet, "/api/v1/employees", relogged, nil, http.StatusForbidden, nil)
	c.expect(http.MethodPost, "/api/v1/evaluations", relogged, map[string]any{"employeeId": "emp9"}, http.StatusForbidden, nil)

	removed := c.login("mgr8", "manager123")
	c.expect(http.MethodPost, "/api/v1/evaluations", removed, map[string]any{"employeeId": "emp9", "ratings": map[string]int{"1_1": 3}}, http.StatusOK, nil)
	c.expect(http.MethodDelete, "/api/v1/users/mgr8", hr, nil, http.StatusOK, nil)
	c.expect(http.MethodPost, "/api/v1/evaluations", removed, map[string]any{"employeeId": "emp9", "ratings": map[string]int{"1_1": 4}}, http.StatusUnauthorized, nil)
	c.expect(http.MethodGet, "/api/v1/employees", removed, nil, http.StatusUnauthorized, nil)
}
