package authz

import (
	"fmt"
)

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleFacilityAdmin Role = "facility_admin"
	RoleDoctor        Role = "doctor"
	RoleNurse         Role = "nurse"
	RoleDispatcher    Role = "dispatcher"
	RoleAmbulanceCrew Role = "ambulance_crew"
	RoleViewer        Role = "viewer"
)

type Capability string

const (
	ReferralRead    Capability = "referral:read"
	ReferralCreate  Capability = "referral:create"
	ReferralRespond Capability = "referral:respond"
	ReferralUpdate  Capability = "referral:update"
	ReferralCancel  Capability = "referral:cancel"

	DispatchRead   Capability = "dispatch:read"
	DispatchCreate Capability = "dispatch:create"
	DispatchUpdate Capability = "dispatch:update"
	DispatchCancel Capability = "dispatch:cancel"

	FleetRead   Capability = "fleet:read"
	FleetManage Capability = "fleet:manage"

	AppointmentRead     Capability = "appointment:read"
	AppointmentManage   Capability = "appointment:manage"
	AppointmentClinical Capability = "appointment:clinical"

	EquipmentRead     Capability = "equipment:read"
	EquipmentManage   Capability = "equipment:manage"
	MaintenanceManage Capability = "maintenance:manage"

	BedRead    Capability = "bed:read"
	BedReserve Capability = "bed:reserve"
	BedManage  Capability = "bed:manage"

	AuditRead  Capability = "audit:read"
	ReportRead Capability = "report:read"
)

var readCapabilities = []Capability{
	ReferralRead, DispatchRead, FleetRead, AppointmentRead, EquipmentRead, BedRead,
}

var allCapabilities = append(append([]Capability{}, readCapabilities...),
	ReferralCreate, ReferralRespond, ReferralUpdate, ReferralCancel,
	DispatchCreate, DispatchUpdate, DispatchCancel,
	FleetManage,
	AppointmentManage, AppointmentClinical,
	EquipmentManage, MaintenanceManage,
	BedReserve, BedManage,
	AuditRead, ReportRead,
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:         allCapabilities,
	RoleFacilityAdmin: allCapabilities,
	RoleDoctor: append([]Capability{
		ReferralCreate, ReferralRespond, ReferralUpdate, ReferralCancel,
		AppointmentManage, AppointmentClinical,
		BedReserve, ReportRead,
	}, readCapabilities...),
	RoleNurse: append([]Capability{
		ReferralUpdate,
		AppointmentManage,
		BedReserve, BedManage,
	}, readCapabilities...),
	RoleDispatcher: append([]Capability{
		ReferralUpdate,
		DispatchCreate, DispatchUpdate, DispatchCancel,
		FleetManage,
	}, readCapabilities...),
	RoleAmbulanceCrew: {
		DispatchRead, DispatchUpdate, FleetRead, ReferralRead,
	},
	RoleViewer: readCapabilities,
}

// ParseRole resolves a token claim into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleCapabilities[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// CapabilitySet is resolved once per caller.
type CapabilitySet map[Capability]struct{}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (r Role) Capabilities() CapabilitySet {
	caps := roleCapabilities[r]
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}
