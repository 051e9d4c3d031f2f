package auth

// Roles recognised by the lab. A principal carries exactly one.
const (
	RoleManager      = "manager"
	RolePhysician    = "physician"
	RoleNurse        = "nurse"
	RolePhlebotomist = "phlebotomist"
	RoleReceptionist = "receptionist"
	RoleTechnician   = "technician"
	RolePathologist  = "pathologist"
	RolePatient      = "patient"
)

var knownRoles = map[string]bool{
	RoleManager:      true,
	RolePhysician:    true,
	RoleNurse:        true,
	RolePhlebotomist: true,
	RoleReceptionist: true,
	RoleTechnician:   true,
	RolePathologist:  true,
	RolePatient:      true,
}

func ValidRole(role string) bool {
	return knownRoles[role]
}

// AllRoles returns the role vocabulary in a stable order.
func AllRoles() []string {
	return []string{
		RoleManager, RolePhysician, RoleNurse, RolePhlebotomist,
		RoleReceptionist, RoleTechnician, RolePathologist, RolePatient,
	}
}
