package convention

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a convention.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusReadyToSign          Status = "READY_TO_SIGN"
	StatusPartiallySigned      Status = "PARTIALLY_SIGNED"
	StatusInReview             Status = "IN_REVIEW"
	StatusAcceptedByCounsellor Status = "ACCEPTED_BY_COUNSELLOR"
	StatusAcceptedByValidator  Status = "ACCEPTED_BY_VALIDATOR"
	StatusRejected             Status = "REJECTED"
	StatusCancelled            Status = "CANCELLED"
	StatusDeprecated           Status = "DEPRECATED"
)

// Role identifies who acts on a convention.
type Role string

const (
	RoleBeneficiary                 Role = "beneficiary"
	RoleBeneficiaryRepresentative   Role = "beneficiary-representative"
	RoleBeneficiaryCurrentEmployer  Role = "beneficiary-current-employer"
	RoleEstablishmentRepresentative Role = "establishment-representative"
	RoleEstablishmentTutor          Role = "establishment-tutor"
	RoleCounsellor                  Role = "counsellor"
	RoleValidator                   Role = "validator"
	RoleBackOffice                  Role = "back-office"
)

// SignatoryRoles lists the roles whose signature is collected on a
// convention. The establishment tutor never signs.
var SignatoryRoles = []Role{
	RoleBeneficiary,
	RoleEstablishmentRepresentative,
	RoleBeneficiaryRepresentative,
	RoleBeneficiaryCurrentEmployer,
}

func IsSignatoryRole(role Role) bool {
	for _, r := range SignatoryRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Signatory is one party whose signature is collected.
type Signatory struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
}

func (s Signatory) Signed() bool {
	return s.SignedAt != nil
}

func (s Signatory) DisplayName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Tutor is the establishment-side mentor. Contact only, no signature.
type Tutor struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Job       string `json:"job,omitempty"`
}

// Signatories gathers the convention parties. Beneficiary and establishment
// representative are mandatory; the other two depend on the beneficiary's
// situation.
type Signatories struct {
	Beneficiary                 Signatory  `json:"beneficiary"`
	EstablishmentRepresentative Signatory  `json:"establishmentRepresentative"`
	BeneficiaryRepresentative   *Signatory `json:"beneficiaryRepresentative,omitempty"`
	BeneficiaryCurrentEmployer  *Signatory `json:"beneficiaryCurrentEmployer,omitempty"`
}

// ByRole returns a pointer into s for the signatory role, or nil when the
// optional party is absent or the role does not sign.
func (s *Signatories) ByRole(role Role) *Signatory {
	switch role {
	case RoleBeneficiary:
		return &s.Beneficiary
	case RoleEstablishmentRepresentative:
		return &s.EstablishmentRepresentative
	case RoleBeneficiaryRepresentative:
		return s.BeneficiaryRepresentative
	case RoleBeneficiaryCurrentEmployer:
		return s.BeneficiaryCurrentEmployer
	default:
		return nil
	}
}

// AllSigned reports whether every present signatory has signed.
func (s Signatories) AllSigned() bool {
	if !s.Beneficiary.Signed() || !s.EstablishmentRepresentative.Signed() {
		return false
	}
	if s.BeneficiaryRepresentative != nil && !s.BeneficiaryRepresentative.Signed() {
		return false
	}
	if s.BeneficiaryCurrentEmployer != nil && !s.BeneficiaryCurrentEmployer.Signed() {
		return false
	}
	return true
}

func (s *Signatories) clearSignatures() {
	s.Beneficiary.SignedAt = nil
	s.EstablishmentRepresentative.SignedAt = nil
	if s.BeneficiaryRepresentative != nil {
		s.BeneficiaryRepresentative.SignedAt = nil
	}
	if s.BeneficiaryCurrentEmployer != nil {
		s.BeneficiaryCurrentEmployer.SignedAt = nil
	}
}

// Convention is the tri-party agreement aggregate. Mutated exclusively by
// the lifecycle engine (and the deprecation sweep for its terminal write),
// never hard-deleted.
type Convention struct {
	ID                    string
	Status                Status
	AgencyID              string
	EstablishmentSiret    string
	Signatories           Signatories
	EstablishmentTutor    Tutor
	DateStart             time.Time
	DateEnd               time.Time
	DateApproval          *time.Time
	DateValidation        *time.Time
	StatusJustification   *string
	Validators            []string
	FederatedAdvisorEmail *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// clone returns a deep copy so the lifecycle engine never aliases the
// caller's snapshot through the optional signatory pointers.
func (c Convention) clone() Convention {
	if c.Signatories.BeneficiaryRepresentative != nil {
		rep := *c.Signatories.BeneficiaryRepresentative
		c.Signatories.BeneficiaryRepresentative = &rep
	}
	if c.Signatories.BeneficiaryCurrentEmployer != nil {
		emp := *c.Signatories.BeneficiaryCurrentEmployer
		c.Signatories.BeneficiaryCurrentEmployer = &emp
	}
	if c.Validators != nil {
		c.Validators = append([]string(nil), c.Validators...)
	}
	return c
}

// Outbox topics raised by convention transitions, one per committed edge.
const (
	TopicRequiresModification = "convention.requires_modification"
	TopicPartiallySigned      = "convention.partially_signed"
	TopicFullySigned          = "convention.fully_signed"
	TopicAcceptedByCounsellor = "convention.accepted_by_counsellor"
	TopicAcceptedByValidator  = "convention.accepted_by_validator"
	TopicRejected             = "convention.rejected"
	TopicCancelled            = "convention.cancelled"
	TopicDeprecated           = "convention.deprecated"
)

// EventPayload is the payload of every actor-driven transition topic.
type EventPayload struct {
	ConventionID       string `json:"conventionId"`
	AgencyID           string `json:"agencyId"`
	EstablishmentSiret string `json:"establishmentSiret"`
	PreviousStatus     Status `json:"previousStatus"`
	NextStatus         Status `json:"nextStatus"`
	Justification      string `json:"justification,omitempty"`
}

// DeprecationPayload is the payload of the per-run deprecation topic.
type DeprecationPayload struct {
	ConventionIDs []string  `json:"conventionIds"`
	Cutoff        time.Time `json:"cutoff"`
}
