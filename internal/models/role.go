package models

import "fmt"

// Role 是用户角色，取值固定为 patient / donor / admin。
type Role string

const (
	RolePatient Role = "patient"
	RoleDonor   Role = "donor"
	RoleAdmin   Role = "admin"
)

// Operation names an action that is gated by role.
type Operation int

const (
	OpSearchDonors Operation = iota
	OpCreateRequest
	OpListRequests
	OpUpdateRequestStatus
	OpToggleFavorite
	OpAddDonation
	OpUpdateLocation
	OpReadNotifications
	OpViewStats
)

// ParseRole validates s against the closed set of roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDonor, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Permits reports whether a user holding r may perform op.
// Ownership (e.g. "is this the request's donor") is checked by the services.
func (r Role) Permits(op Operation) bool {
	switch r {
	case RolePatient:
		switch op {
		case OpSearchDonors, OpCreateRequest, OpListRequests, OpToggleFavorite,
			OpUpdateLocation, OpReadNotifications:
			return true
		}
		return false
	case RoleDonor:
		switch op {
		case OpSearchDonors, OpListRequests, OpUpdateRequestStatus, OpToggleFavorite,
			OpAddDonation, OpUpdateLocation, OpReadNotifications:
			return true
		}
		return false
	case RoleAdmin:
		switch op {
		case OpSearchDonors, OpToggleFavorite, OpUpdateLocation, OpReadNotifications,
			OpViewStats:
			return true
		}
		return false
	}
	return false
}
