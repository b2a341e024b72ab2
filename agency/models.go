package agency

import "time"

// Role is an agency-scoped right granted to a user.
type Role string

const (
	RoleAdmin      Role = "agency-admin"
	RoleCounsellor Role = "counsellor"
	RoleValidator  Role = "validator"
	RoleViewer     Role = "agency-viewer"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// UserRight is the per-user entry of an agency's rights map.
type UserRight struct {
	Roles             []Role `json:"roles"`
	IsNotifiedByEmail bool   `json:"isNotifiedByEmail"`
}

func (r UserRight) HasRole(role Role) bool {
	for _, candidate := range r.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Agency is the sponsoring-agency configuration. It is read-only from the
// convention lifecycle's perspective; only the closure sweep mutates status.
type Agency struct {
	ID                  string
	Name                string
	Status              Status
	StatusJustification *string
	RefersToAgencyID    *string
	UsersRights         map[string]UserRight
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TwoStepValidation reports whether the agency requires counsellor approval
// before validator approval, which is the case as soon as one user holds the
// counsellor role.
func (a Agency) TwoStepValidation() bool {
	for _, right := range a.UsersRights {
		if right.HasRole(RoleCounsellor) {
			return true
		}
	}
	return false
}

// UserIDsWithRole returns the ids of every user holding the role.
func (a Agency) UserIDsWithRole(role Role) []string {
	var ids []string
	for userID, right := range a.UsersRights {
		if right.HasRole(role) {
			ids = append(ids, userID)
		}
	}
	return ids
}

// NotifiedUserIDsWithRoles returns the ids of users holding at least one of
// the roles and flagged for email notification.
func (a Agency) NotifiedUserIDsWithRoles(roles ...Role) []string {
	var ids []string
	for userID, right := range a.UsersRights {
		if !right.IsNotifiedByEmail {
			continue
		}
		for _, role := range roles {
			if right.HasRole(role) {
				ids = append(ids, userID)
				break
			}
		}
	}
	return ids
}

const (
	// TopicClosedForInactivity is raised once per closure sweep run, listing
	// every agency closed in that run.
	TopicClosedForInactivity = "agency.closed_for_inactivity"
)

// ClosurePayload is the payload of TopicClosedForInactivity.
type ClosurePayload struct {
	AgencyIDs []string  `json:"agencyIds"`
	Cutoff    time.Time `json:"cutoff"`
}
