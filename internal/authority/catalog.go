// Package authority defines the closed set of permission names, the
// deduplicated Set used for every access decision, and the Mapper that
// derives a Set from an external token's group claims.
package authority

import "strings"

// RolePrefix namespaces the implicit authority each role contributes, so
// role membership is checkable like any other authority.
const RolePrefix = "ROLE_"

// Authority names.
const (
	CreateUser = "CREATE_USER"
	ReadUser   = "READ_USER"
	UpdateUser = "UPDATE_USER"
	DeleteUser = "DELETE_USER"

	ManageRoles = "MANAGE_ROLES"

	CreateCargo  = "CREATE_CARGO"
	ReadCargo    = "READ_CARGO"
	UpdateCargo  = "UPDATE_CARGO"
	DeleteCargo  = "DELETE_CARGO"
	InspectCargo = "INSPECT_CARGO"
	ApproveCargo = "APPROVE_CARGO"
	RejectCargo  = "REJECT_CARGO"

	CreateVehicle  = "CREATE_VEHICLE"
	ReadVehicle    = "READ_VEHICLE"
	UpdateVehicle  = "UPDATE_VEHICLE"
	DeleteVehicle  = "DELETE_VEHICLE"
	InspectVehicle = "INSPECT_VEHICLE"
	ApproveVehicle = "APPROVE_VEHICLE"
	RejectVehicle  = "REJECT_VEHICLE"

	CalculateDuty  = "CALCULATE_DUTY"
	ApproveDuty    = "APPROVE_DUTY"
	ProcessPayment = "PROCESS_PAYMENT"
	RefundDuty     = "REFUND_DUTY"

	ViewReports     = "VIEW_REPORTS"
	GenerateReports = "GENERATE_REPORTS"
	ExportData      = "EXPORT_DATA"

	SystemConfig = "SYSTEM_CONFIG"
	ViewAuditLog = "VIEW_AUDIT_LOG"
	BackupData   = "BACKUP_DATA"

	ViewDashboard = "VIEW_DASHBOARD"
)

// Definition describes one catalog authority. Category is for display
// grouping only.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"category"`
}

var catalog = []Definition{
	{CreateUser, "Create new users", "User Management"},
	{ReadUser, "View user information", "User Management"},
	{UpdateUser, "Update user information", "User Management"},
	{DeleteUser, "Delete users", "User Management"},

	{ManageRoles, "Manage user roles and permissions", "Role Management"},

	{CreateCargo, "Create cargo entries", "Cargo Operations"},
	{ReadCargo, "View cargo information", "Cargo Operations"},
	{UpdateCargo, "Update cargo information", "Cargo Operations"},
	{DeleteCargo, "Delete cargo entries", "Cargo Operations"},
	{InspectCargo, "Perform cargo inspections", "Cargo Operations"},
	{ApproveCargo, "Approve cargo clearance", "Cargo Operations"},
	{RejectCargo, "Reject cargo clearance", "Cargo Operations"},

	{CreateVehicle, "Create vehicle import entries", "Vehicle Operations"},
	{ReadVehicle, "View vehicle information", "Vehicle Operations"},
	{UpdateVehicle, "Update vehicle information", "Vehicle Operations"},
	{DeleteVehicle, "Delete vehicle entries", "Vehicle Operations"},
	{InspectVehicle, "Perform vehicle inspections", "Vehicle Operations"},
	{ApproveVehicle, "Approve vehicle clearance", "Vehicle Operations"},
	{RejectVehicle, "Reject vehicle clearance", "Vehicle Operations"},

	{CalculateDuty, "Calculate import duties", "Duty Management"},
	{ApproveDuty, "Approve duty calculations", "Duty Management"},
	{ProcessPayment, "Process duty payments", "Duty Management"},
	{RefundDuty, "Process duty refunds", "Duty Management"},

	{ViewReports, "View system reports", "Reports"},
	{GenerateReports, "Generate custom reports", "Reports"},
	{ExportData, "Export system data", "Reports"},

	{SystemConfig, "Configure system settings", "System Administration"},
	{ViewAuditLog, "View system audit logs", "System Administration"},
	{BackupData, "Backup system data", "System Administration"},

	{ViewDashboard, "View the dashboard", "Dashboard"},
}

var catalogIndex = func() map[string]Definition {
	m := make(map[string]Definition, len(catalog))
	for _, d := range catalog {
		m[d.Name] = d
	}
	return m
}()

// Catalog returns every authority definition in display order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns every catalog authority name in display order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, d := range catalog {
		out[i] = d.Name
	}
	return out
}

// Lookup returns the definition for name.
func Lookup(name string) (Definition, bool) {
	d, ok := catalogIndex[name]
	return d, ok
}

// Known reports whether name is a catalog authority.
func Known(name string) bool {
	_, ok := catalogIndex[name]
	return ok
}

// RoleAuthority returns the implicit authority contributed by a role.
func RoleAuthority(role string) string {
	return RolePrefix + strings.ToUpper(role)
}

// IsRoleAuthority reports whether name is a role authority.
func IsRoleAuthority(name string) bool {
	return strings.HasPrefix(name, RolePrefix) && len(name) > len(RolePrefix)
}

// RoleDefinition is a built-in role bundle.
type RoleDefinition struct {
	Name        string
	Description string
	Authorities []string
}

// Role names.
const (
	RoleAdmin            = "ADMIN"
	RoleCustomsOfficer   = "CUSTOMS_OFFICER"
	RoleCargoInspector   = "CARGO_INSPECTOR"
	RoleVehicleInspector = "VEHICLE_INSPECTOR"
	RoleDutyOfficer      = "DUTY_OFFICER"
	RoleSupervisor       = "SUPERVISOR"
)

// DefaultRoles returns the roles created at bootstrap.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleAdmin,
			Description: "System Administrator",
			Authorities: Names(),
		},
		{
			Name:        RoleCustomsOfficer,
			Description: "Customs Officer",
			Authorities: []string{
				ReadCargo, UpdateCargo, InspectCargo,
				ReadVehicle, UpdateVehicle, InspectVehicle,
				CalculateDuty, ProcessPayment, ViewReports,
			},
		},
		{
			Name:        RoleCargoInspector,
			Description: "Cargo Inspector",
			Authorities: []string{
				ReadCargo, UpdateCargo, InspectCargo, ApproveCargo, RejectCargo, ViewReports,
			},
		},
		{
			Name:        RoleVehicleInspector,
			Description: "Vehicle Inspector",
			Authorities: []string{
				ReadVehicle, UpdateVehicle, InspectVehicle, ApproveVehicle, RejectVehicle, ViewReports,
			},
		},
		{
			Name:        RoleDutyOfficer,
			Description: "Duty Officer",
			Authorities: []string{
				CalculateDuty, ApproveDuty, ProcessPayment, RefundDuty, ViewReports, GenerateReports,
			},
		},
		{
			Name:        RoleSupervisor,
			Description: "Supervisor",
			Authorities: []string{
				ReadCargo, ReadVehicle, ViewReports, GenerateReports, ViewAuditLog,
				ApproveCargo, ApproveVehicle, ApproveDuty,
			},
		},
	}
}
