package convention

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConventionNotFound is returned when no convention exists for the id.
	ErrConventionNotFound = errors.New("convention: not found")
	// ErrDuplicateConvention signals an insert hit an already-stored id.
	ErrDuplicateConvention = errors.New("convention: already exists")
	// ErrCancelConventionWithAssessment rejects cancelling a convention for
	// which an assessment was already filed.
	ErrCancelConventionWithAssessment = errors.New("convention: cannot cancel convention with an assessment")
	// ErrMissingJustification rejects a rejection or cancellation carrying no
	// status justification.
	ErrMissingJustification = errors.New("convention: status justification required")
	// ErrMagicLinkConventionMismatch rejects a magic link replayed against a
	// convention other than the one it was minted for.
	ErrMagicLinkConventionMismatch = errors.New("convention: magic link issued for another convention")
)

// BadStatusTransitionError reports a target status unreachable from the
// current one, whatever the actor's roles.
type BadStatusTransitionError struct {
	Current Status
	Target  Status
}

func (e BadStatusTransitionError) Error() string {
	return fmt.Sprintf("convention: cannot go from status %s to %s", e.Current, e.Target)
}

// TwoStepsValidationBadStatusError reports a validator acceptance attempted
// from IN_REVIEW on an agency that requires counsellor approval first.
type TwoStepsValidationBadStatusError struct {
	ConventionID string
	Target       Status
}

func (e TwoStepsValidationBadStatusError) Error() string {
	return fmt.Sprintf("convention: %s cannot go to %s, agency requires two-step validation", e.ConventionID, e.Target)
}

// BadRoleStatusChangeError reports a legal edge attempted by an actor whose
// roles do not allow it.
type BadRoleStatusChangeError struct {
	Roles        []Role
	Target       Status
	ConventionID string
}

func (e BadRoleStatusChangeError) Error() string {
	names := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		names[i] = string(r)
	}
	return fmt.Sprintf("convention: roles [%s] are not allowed to move convention %s to %s",
		strings.Join(names, ", "), e.ConventionID, e.Target)
}

// NoRightsOnAgencyError reports an authenticated user with no role at all on
// the convention's agency.
type NoRightsOnAgencyError struct {
	UserID   string
	AgencyID string
}

func (e NoRightsOnAgencyError) Error() string {
	return fmt.Sprintf("convention: user %s has no rights on agency %s", e.UserID, e.AgencyID)
}
