package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole selects which alert rules apply to a user.
type UserRole string

const (
	RoleCivilian       UserRole = "Civilian"
	RoleForestOfficer  UserRole = "ForestOfficer"
	RoleFireDepartment UserRole = "FireDepartment"
	RoleLocalGov       UserRole = "LocalGov"
	RoleSystemAdmin    UserRole = "SystemAdmin"
)

// ParseUserRole validates a role name.
func ParseUserRole(name string) (UserRole, error) {
	for _, r := range []UserRole{RoleCivilian, RoleForestOfficer, RoleFireDepartment, RoleLocalGov, RoleSystemAdmin} {
		if strings.EqualFold(string(r), name) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown user role %q", name)
}

// UserLocation is a cached projection of where a user is and what role they hold.
// The user record stays authoritative.
type UserLocation struct {
	UserID      uuid.UUID `json:"user_id"`
	Location    Point     `json:"location"`
	Role        UserRole  `json:"role"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
	DistanceKm  float64   `json:"distance_km,omitempty"`
}

// Contact holds the addresses the email and SMS channels deliver to.
type Contact struct {
	UserID uuid.UUID
	Email  string
	Phone  string
}

// UserAlert is the personalized delivery record for one user and one FireAlert.
type UserAlert struct {
	ID                 uuid.UUID  `json:"id"`
	FireAlertID        uuid.UUID  `json:"fire_alert_id"`
	UserID             uuid.UUID  `json:"user_id"`
	UserRole           UserRole   `json:"user_role"`
	UserLocation       Point      `json:"user_location"`
	DistanceKm         float64    `json:"distance_km"`
	Message            string     `json:"message"`
	CanProvideFeedback bool       `json:"can_provide_feedback"`
	IsDelivered        bool       `json:"is_delivered"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	ReadAt             *time.Time `json:"read_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
