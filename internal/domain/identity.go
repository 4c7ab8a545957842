package domain

// Roles known to the dispatch core. Superadmin connections receive
// events for every department of their hospital.
const (
	RoleNurse       = "nurse"
	RoleDeptManager = "dept_manager"
	RoleSuperadmin  = "superadmin"
)

// Identity is the acting user as supplied by the upstream session
// layer. The core never resolves sessions itself; handlers thread an
// Identity through every call instead of reading ambient state.
type Identity struct {
	UserID     int64
	Role       string
	HospitalID int64
	DeptID     int64
}

// AllDepartments reports whether the identity sees events across all
// departments of its hospital.
func (i Identity) AllDepartments() bool {
	return i.Role == RoleSuperadmin
}
