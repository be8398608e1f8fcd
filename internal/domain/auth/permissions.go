package auth

import (
	"context"
	"strings"
)

const (
	RoleHR         = "hr"
	RoleManagement = "management"
	RoleEmployee   = "employee"

	// roleEvaluatorAlias is the legacy name for management.
	roleEvaluatorAlias = "evaluator"
)

var Roles = []string{RoleHR, RoleManagement, RoleEmployee}

// NormalizeRole maps input to a canonical role, or "" when unknown.
func NormalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == roleEvaluatorAlias {
		return RoleManagement
	}
	for _, known := range Roles {
		if role == known {
			return role
		}
	}
	return ""
}

const (
	PermUsersRead          = "users.read"
	PermUsersWrite         = "users.write"
	PermEmployeesRead      = "employees.read"
	PermAssignmentsRead    = "assignments.read"
	PermAssignmentsWrite   = "assignments.write"
	PermEvaluationsRead    = "evaluations.read"
	PermEvaluationsWrite   = "evaluations.write"
	PermEvaluationsRespond = "evaluations.respond"
	PermEvaluationsDelete  = "evaluations.delete"
	PermMovementsSelf      = "movements.self"
	PermMovementsRead      = "movements.read"
	PermMovementsExport    = "movements.export"
	PermReportsRead        = "reports.read"
	PermAuditRead          = "audit.read"
)

var DefaultPermissions = []string{
	PermUsersRead,
	PermUsersWrite,
	PermEmployeesRead,
	PermAssignmentsRead,
	PermAssignmentsWrite,
	PermEvaluationsRead,
	PermEvaluationsWrite,
	PermEvaluationsRespond,
	PermEvaluationsDelete,
	PermMovementsSelf,
	PermMovementsRead,
	PermMovementsExport,
	PermReportsRead,
	PermAuditRead,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermEvaluationsRead,
		PermEvaluationsRespond,
		PermMovementsSelf,
		PermMovementsRead,
	},
	RoleManagement: {
		PermEmployeesRead,
		PermAssignmentsRead,
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermMovementsSelf,
		PermMovementsRead,
	},
	RoleHR: {
		PermUsersRead,
		PermUsersWrite,
		PermEmployeesRead,
		PermAssignmentsRead,
		PermAssignmentsWrite,
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermEvaluationsDelete,
		PermMovementsSelf,
		PermMovementsRead,
		PermMovementsExport,
		PermReportsRead,
		PermAuditRead,
	},
}

func HasPermission(role, perm string) bool {
	for _, candidate := range RolePermissions[role] {
		if candidate == perm {
			return true
		}
	}
	return false
}

// StaticPermissions resolves permissions from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(_ context.Context, role, perm string) (bool, error) {
	return HasPermission(role, perm), nil
}
