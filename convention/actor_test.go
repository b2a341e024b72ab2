package convention

import (
	"errors"
	"testing"

	"immersion/agency"
)

func testAgency(rights map[string]agency.UserRight) agency.Agency {
	return agency.Agency{
		ID:          "agency-1",
		Name:        "Mission Locale Centre",
		Status:      agency.StatusActive,
		UsersRights: rights,
	}
}

func TestResolveActorRoles_MagicLink(t *testing.T) {
	conv := testConvention(StatusReadyToSign)
	roles, err := ResolveActorRoles(MagicLinkActor{Role: RoleBeneficiary, Email: "nora@example.com"}, conv, testAgency(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleBeneficiary {
		t.Fatalf("expected exactly the embedded role, got %v", roles)
	}
}

func TestResolveActorRoles_AgencyRights(t *testing.T) {
	conv := testConvention(StatusReadyToSign)
	cfg := testAgency(map[string]agency.UserRight{
		"user-1": {Roles: []agency.Role{agency.RoleCounsellor, agency.RoleValidator}},
		"user-2": {Roles: []agency.Role{agency.RoleAdmin, agency.RoleViewer}},
	})

	roles, err := ResolveActorRoles(AuthenticatedActor{User: AuthenticatedUser{ID: "user-1", Email: "c@agency.example.com"}}, conv, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 2 || roles[0] != RoleCounsellor || roles[1] != RoleValidator {
		t.Fatalf("expected counsellor and validator, got %v", roles)
	}

	// Admin and viewer rights grant no lifecycle role at all.
	_, err = ResolveActorRoles(AuthenticatedActor{User: AuthenticatedUser{ID: "user-2", Email: "a@agency.example.com"}}, conv, cfg)
	var noRights NoRightsOnAgencyError
	if !errors.As(err, &noRights) {
		t.Fatalf("expected NoRightsOnAgencyError, got %v", err)
	}
	if noRights.UserID != "user-2" || noRights.AgencyID != "agency-1" {
		t.Fatalf("error carries %s/%s, want user-2/agency-1", noRights.UserID, noRights.AgencyID)
	}
}

func TestResolveActorRoles_RepresentativeEmailMatch(t *testing.T) {
	conv := testConvention(StatusReadyToSign)

	roles, err := ResolveActorRoles(AuthenticatedActor{User: AuthenticatedUser{
		ID:    "user-9",
		Email: "PAUL@Establishment.example.com",
	}}, conv, testAgency(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleEstablishmentRepresentative {
		t.Fatalf("expected establishment-representative from email match, got %v", roles)
	}
}

func TestResolveActorRoles_BackOffice(t *testing.T) {
	conv := testConvention(StatusReadyToSign)

	roles, err := ResolveActorRoles(AuthenticatedActor{User: AuthenticatedUser{
		ID:           "user-bo",
		Email:        "bo@example.com",
		IsBackOffice: true,
	}}, conv, testAgency(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleBackOffice {
		t.Fatalf("expected back-office role, got %v", roles)
	}
}

func TestResolveActorRoles_UnknownActorType(t *testing.T) {
	conv := testConvention(StatusReadyToSign)
	if _, err := ResolveActorRoles(nil, conv, testAgency(nil)); err == nil {
		t.Fatal("expected error for nil actor")
	}
}
