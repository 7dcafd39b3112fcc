// models/role.go
package models

import (
	"fmt"
	"strings"
)

// Role is a stakeholder group taking part in a lease exit.
type Role string

const (
	RoleLeaseExitManagement Role = "lease_exit_management"
	RoleAdvisory            Role = "advisory"
	RoleIFM                 Role = "ifm"
	RoleLegal               Role = "legal"
	RoleMAC                 Role = "mac"
	RolePJM                 Role = "pjm"
	RoleAccounting          Role = "accounting"
)

// AllRoles lists every stakeholder role in display order.
var AllRoles = []Role{
	RoleLeaseExitManagement,
	RoleAdvisory,
	RoleIFM,
	RoleLegal,
	RoleMAC,
	RolePJM,
	RoleAccounting,
}

var roleDisplayNames = map[Role]string{
	RoleLeaseExitManagement: "Lease-Exit-Management",
	RoleAdvisory:            "Advisory",
	RoleIFM:                 "IFM",
	RoleLegal:               "Legal",
	RoleMAC:                 "MAC",
	RolePJM:                 "PJM",
	RoleAccounting:          "Accounting",
}

// ParseRole accepts canonical values and display names, case-insensitively.
// "Lease-Exit-Management", "lease exit management" and "lease_exit_management" are the same role.
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, r := range AllRoles {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) IsKnown() bool {
	_, ok := roleDisplayNames[r]
	return ok
}

// DisplayName is the human readable role name used in notification texts.
func (r Role) DisplayName() string {
	if name, ok := roleDisplayNames[r]; ok {
		return name
	}
	return string(r)
}

func (r Role) String() string {
	return string(r)
}

// ContainsRole reports whether role is in roles.
func ContainsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
