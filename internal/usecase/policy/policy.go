package policy

import (
	"strings"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// Roles allowed to process, issue and override instruments
const (
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPERADMIN"
	RoleAccountant = "ACCOUNTANT"
)

var privilegedRoles = map[string]bool{
	RoleAdmin:      true,
	RoleSuperAdmin: true,
	RoleAccountant: true,
}

// IsAuthorized reports whether role is one of ADMIN, SUPERADMIN or ACCOUNTANT.
// Comparison is case-insensitive.
func IsAuthorized(role string) bool {
	return privilegedRoles[strings.ToUpper(strings.TrimSpace(role))]
}

// IsAuthenticated reports whether the session carried a role at all
func IsAuthenticated(caller domain.Caller) bool {
	return strings.TrimSpace(caller.Role) != ""
}

// CanWriteStage decides whether caller may submit stage against existing.
// existing is nil when the submission creates the record.
//
// Stage 1 is open to any authenticated caller when creating a record or
// editing a record they assigned themselves. Stages 2 and 3 require an
// authorized role.
func CanWriteStage(caller domain.Caller, stage domain.Stage, existing *domain.Instrument) bool {
	if !IsAuthenticated(caller) {
		return false
	}
	if IsAuthorized(caller.Role) {
		return true
	}
	if stage != domain.StageAssignment {
		return false
	}
	if existing == nil {
		return true
	}
	return isOwner(caller, existing)
}

// CheckStage is CanWriteStage returning a typed *domain.AuthorizationError
func CheckStage(caller domain.Caller, stage domain.Stage, existing *domain.Instrument) error {
	if CanWriteStage(caller, stage, existing) {
		return nil
	}
	return &domain.AuthorizationError{Role: caller.Role, Stage: stage, Action: "submit"}
}

// CheckPrivileged fails unless caller holds an authorized role
func CheckPrivileged(caller domain.Caller, action string) error {
	if IsAuthenticated(caller) && IsAuthorized(caller.Role) {
		return nil
	}
	return &domain.AuthorizationError{Role: caller.Role, Action: action}
}

func isOwner(caller domain.Caller, inst *domain.Instrument) bool {
	owner := strings.TrimSpace(inst.Assignment.AssignedBy)
	name := strings.TrimSpace(caller.Name)
	return owner != "" && strings.EqualFold(owner, name)
}
