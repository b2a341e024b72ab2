package convention

import (
	"time"
)

// TransitionInput carries everything the engine needs besides the aggregate:
// the actor's resolved roles, the agency's validation mode, and the facts the
// enclosing use case already looked up.
type TransitionInput struct {
	Roles             []Role
	ActorName         string
	TwoStepValidation bool
	Justification     string
	HasAssessment     bool
	Now               time.Time
}

// Decision is the outcome of a legal transition: the convention snapshot to
// persist and the single topic to raise alongside it.
type Decision struct {
	Updated Convention
	Topic   string
}

type edge struct {
	from  []Status
	roles []Role
	topic string
}

// transitionEdges is the legal-edge table, keyed by target status. DRAFT and
// DEPRECATED are absent: the former is initial only, the latter is reached
// only by the housekeeping sweep.
var transitionEdges = map[Status]edge{
	StatusReadyToSign: {
		from: []Status{StatusReadyToSign, StatusPartiallySigned, StatusInReview, StatusAcceptedByCounsellor},
		roles: append(append([]Role{}, SignatoryRoles...),
			RoleBackOffice, RoleValidator, RoleCounsellor),
		topic: TopicRequiresModification,
	},
	StatusPartiallySigned: {
		from:  []Status{StatusReadyToSign, StatusPartiallySigned},
		roles: SignatoryRoles,
		topic: TopicPartiallySigned,
	},
	StatusInReview: {
		from:  []Status{StatusPartiallySigned},
		roles: SignatoryRoles,
		topic: TopicFullySigned,
	},
	StatusAcceptedByCounsellor: {
		from:  []Status{StatusInReview},
		roles: []Role{RoleCounsellor},
		topic: TopicAcceptedByCounsellor,
	},
	StatusAcceptedByValidator: {
		from:  []Status{StatusInReview, StatusAcceptedByCounsellor},
		roles: []Role{RoleValidator},
		topic: TopicAcceptedByValidator,
	},
	StatusRejected: {
		from:  []Status{StatusReadyToSign, StatusPartiallySigned, StatusInReview, StatusAcceptedByCounsellor},
		roles: []Role{RoleBackOffice, RoleValidator, RoleCounsellor},
		topic: TopicRejected,
	},
	StatusCancelled: {
		from:  []Status{StatusAcceptedByValidator},
		roles: []Role{RoleValidator, RoleBackOffice, RoleCounsellor},
		topic: TopicCancelled,
	},
}

// DecideTransition is the pure lifecycle decision: given the pre-transition
// convention, the target status and the resolved actor context, it either
// returns the updated snapshot with its topic, or a typed rejection. Status
// legality is checked before role legality, and at most one topic is ever
// raised per call. The function never touches I/O; the caller owns loading,
// persistence and the surrounding transaction.
func DecideTransition(conv Convention, target Status, in TransitionInput) (Decision, error) {
	rule, ok := transitionEdges[target]
	if !ok {
		return Decision{}, BadStatusTransitionError{Current: conv.Status, Target: target}
	}

	if !statusIn(conv.Status, rule.from) {
		return Decision{}, BadStatusTransitionError{Current: conv.Status, Target: target}
	}

	switch target {
	case StatusAcceptedByValidator:
		if in.TwoStepValidation && conv.Status != StatusAcceptedByCounsellor {
			return Decision{}, TwoStepsValidationBadStatusError{ConventionID: conv.ID, Target: target}
		}
	case StatusInReview:
		// Moving to review with signatures missing is an illegal transition,
		// not an authorization failure.
		if !conv.Signatories.AllSigned() {
			return Decision{}, BadStatusTransitionError{Current: conv.Status, Target: target}
		}
	}

	if !rolesIntersect(in.Roles, rule.roles) {
		return Decision{}, BadRoleStatusChangeError{Roles: in.Roles, Target: target, ConventionID: conv.ID}
	}

	// A signatory role whose party is absent from this convention has nothing
	// to sign; letting it through would raise a no-op signature event.
	if target == StatusPartiallySigned && !hasSignatorySlot(conv, in.Roles) {
		return Decision{}, BadRoleStatusChangeError{Roles: in.Roles, Target: target, ConventionID: conv.ID}
	}

	switch target {
	case StatusRejected, StatusCancelled:
		if in.Justification == "" {
			return Decision{}, ErrMissingJustification
		}
	}
	if target == StatusCancelled && in.HasAssessment {
		return Decision{}, ErrCancelConventionWithAssessment
	}

	updated := applyTransition(conv, target, in)
	return Decision{Updated: updated, Topic: rule.topic}, nil
}

func applyTransition(conv Convention, target Status, in TransitionInput) Convention {
	conv = conv.clone()
	now := in.Now
	conv.UpdatedAt = now

	switch target {
	case StatusReadyToSign:
		conv.Signatories.clearSignatures()
		conv.DateApproval = nil
		conv.Validators = nil
		if in.Justification != "" {
			j := in.Justification
			conv.StatusJustification = &j
		}
	case StatusPartiallySigned:
		for _, role := range in.Roles {
			if !IsSignatoryRole(role) {
				continue
			}
			if signatory := conv.Signatories.ByRole(role); signatory != nil && !signatory.Signed() {
				t := now
				signatory.SignedAt = &t
			}
		}
	case StatusAcceptedByCounsellor:
		t := now
		conv.DateApproval = &t
		if in.ActorName != "" {
			conv.Validators = append(conv.Validators, in.ActorName)
		}
	case StatusAcceptedByValidator:
		t := now
		conv.DateValidation = &t
		if in.ActorName != "" {
			conv.Validators = append(conv.Validators, in.ActorName)
		}
	case StatusRejected, StatusCancelled:
		j := in.Justification
		conv.StatusJustification = &j
	}

	conv.Status = target
	return conv
}

func hasSignatorySlot(conv Convention, roles []Role) bool {
	for _, role := range roles {
		if IsSignatoryRole(role) && conv.Signatories.ByRole(role) != nil {
			return true
		}
	}
	return false
}

func statusIn(status Status, set []Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func rolesIntersect(actorRoles, allowed []Role) bool {
	for _, have := range actorRoles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}
