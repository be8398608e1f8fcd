package evaluation

import "time"

const (
	StatusDraft             = "DRAFT"
	StatusPendingEmployee   = "PENDING_EMPLOYEE"
	StatusPendingSupervisor = "PENDING_SUPERVISOR"
	StatusCompleted         = "COMPLETED"
)

// Statuses in workflow order.
var Statuses = []string{StatusDraft, StatusPendingEmployee, StatusPendingSupervisor, StatusCompleted}

const (
	AgreementAgree    = "agree"
	AgreementDisagree = "disagree"
)

type Signatures struct {
	Employee            string     `json:"employee"`
	Supervisor          string     `json:"supervisor"`
	EmployeeTimestamp   *time.Time `json:"employeeTimestamp,omitempty"`
	SupervisorTimestamp *time.Time `json:"supervisorTimestamp,omitempty"`
}

type Evaluation struct {
	ID                  string         `json:"id"`
	EmployeeID          string         `json:"employeeId"`
	CreatedBy           string         `json:"createdBy"`
	AssignedEvaluatorID string         `json:"assignedEvaluatorId"`
	EmployeeName        string         `json:"employeeName"`
	JobTitle            string         `json:"jobTitle"`
	Department          string         `json:"department"`
	PeriodFrom          string         `json:"periodFrom"`
	PeriodTo            string         `json:"periodTo"`
	Ratings             map[string]int `json:"ratings"`
	Status              string         `json:"status"`
	SupervisorComments  string         `json:"supervisorComments"`
	EmployeeAgreement   string         `json:"employeeAgreement"`
	EmployeeComments    string         `json:"employeeComments"`
	ManagerDecision     string         `json:"managerDecision"`
	Signatures          Signatures     `json:"signatures"`
	SubmittedAt         *time.Time     `json:"submittedAt,omitempty"`
	RespondedAt         *time.Time     `json:"respondedAt,omitempty"`
	FinalizedAt         *time.Time     `json:"finalizedAt,omitempty"`
	Score               float64        `json:"score"`
	PerformanceLevel    string         `json:"performanceLevel"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Draft holds the fields a supervisor may edit while the evaluation is a draft.
type Draft struct {
	ID                  string         `json:"id"`
	EmployeeID          string         `json:"employeeId"`
	CreatedBy           string         `json:"createdBy"`
	AssignedEvaluatorID string         `json:"assignedEvaluatorId"`
	EmployeeName        string         `json:"employeeName"`
	JobTitle            string         `json:"jobTitle"`
	Department          string         `json:"department"`
	PeriodFrom          string         `json:"periodFrom"`
	PeriodTo            string         `json:"periodTo"`
	Ratings             map[string]int `json:"ratings"`
	Status              string         `json:"status"`
	SupervisorComments  string         `json:"supervisorComments"`
}
