package convention

import (
	"fmt"
	"strings"

	"immersion/agency"
)

// Actor is who requests a transition: either a magic-link token carrying a
// single role, or an authenticated user whose roles are derived from the
// agency configuration.
type Actor interface {
	isActor()
}

// MagicLinkActor carries the role embedded in a signed convention link.
// ConventionID, when set, binds the link to the one convention it was minted
// for; the transition service refuses it anywhere else.
type MagicLinkActor struct {
	ConventionID string
	Role         Role
	Email        string
	Name         string
}

func (MagicLinkActor) isActor() {}

// AuthenticatedUser is the identity of a logged-in user as the lifecycle
// needs it.
type AuthenticatedUser struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	IsBackOffice bool
}

func (u AuthenticatedUser) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// AuthenticatedActor is a user acting under their agency rights.
type AuthenticatedActor struct {
	User AuthenticatedUser
}

func (AuthenticatedActor) isActor() {}

// ResolveActorRoles derives the effective role set of an actor on a
// convention. A magic link resolves to exactly its embedded role. An
// authenticated user gets the convention roles equivalent to their agency
// rights, plus establishment-representative when their email matches the
// representative signatory, plus back-office when flagged; an empty result
// is a NoRightsOnAgencyError.
func ResolveActorRoles(actor Actor, conv Convention, cfg agency.Agency) ([]Role, error) {
	switch a := actor.(type) {
	case MagicLinkActor:
		return []Role{a.Role}, nil
	case AuthenticatedActor:
		var roles []Role
		if right, ok := cfg.UsersRights[a.User.ID]; ok {
			for _, agencyRole := range right.Roles {
				if role, ok := roleFromAgencyRole(agencyRole); ok {
					roles = append(roles, role)
				}
			}
		}
		if strings.EqualFold(a.User.Email, conv.Signatories.EstablishmentRepresentative.Email) {
			roles = appendRoleOnce(roles, RoleEstablishmentRepresentative)
		}
		if a.User.IsBackOffice {
			roles = appendRoleOnce(roles, RoleBackOffice)
		}
		if len(roles) == 0 {
			return nil, NoRightsOnAgencyError{UserID: a.User.ID, AgencyID: cfg.ID}
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("convention: unknown actor type %T", actor)
	}
}

// roleFromAgencyRole maps agency rights onto convention roles. Admin and
// viewer rights grant no transition power.
func roleFromAgencyRole(agencyRole agency.Role) (Role, bool) {
	switch agencyRole {
	case agency.RoleCounsellor:
		return RoleCounsellor, true
	case agency.RoleValidator:
		return RoleValidator, true
	default:
		return "", false
	}
}

func appendRoleOnce(roles []Role, role Role) []Role {
	for _, r := range roles {
		if r == role {
			return roles
		}
	}
	return append(roles, role)
}
