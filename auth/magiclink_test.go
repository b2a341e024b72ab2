package auth

import (
	"errors"
	"testing"
	"time"

	"immersion/convention"
)

var linkNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func TestMagicLink_RoundTrip(t *testing.T) {
	issuer := NewMagicLinkIssuer("link-secret", 30*24*time.Hour).
		WithClock(func() time.Time { return linkNow })

	token, err := issuer.Create("conv-1", convention.RoleBeneficiary, "nora@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ConventionID != "conv-1" {
		t.Fatalf("expected convention id conv-1, got %q", claims.ConventionID)
	}
	if claims.Role != convention.RoleBeneficiary {
		t.Fatalf("expected role %s, got %s", convention.RoleBeneficiary, claims.Role)
	}
	if claims.Email != "nora@example.com" {
		t.Fatalf("expected email preserved, got %q", claims.Email)
	}

	actor := claims.Actor()
	if actor.Role != convention.RoleBeneficiary || actor.Email != "nora@example.com" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if actor.ConventionID != "conv-1" {
		t.Fatalf("expected actor bound to conv-1, got %q", actor.ConventionID)
	}
}

func TestMagicLink_Expiry(t *testing.T) {
	issuer := NewMagicLinkIssuer("link-secret", time.Hour).
		WithClock(func() time.Time { return linkNow })

	token, err := issuer.Create("conv-1", convention.RoleBeneficiary, "nora@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	late := NewMagicLinkIssuer("link-secret", time.Hour).
		WithClock(func() time.Time { return linkNow.Add(2 * time.Hour) })
	if _, err := late.Verify(token); !errors.Is(err, ErrInvalidMagicLink) {
		t.Fatalf("expected ErrInvalidMagicLink for expired token, got %v", err)
	}
}

func TestMagicLink_WrongSecret(t *testing.T) {
	issuer := NewMagicLinkIssuer("link-secret", time.Hour).
		WithClock(func() time.Time { return linkNow })
	token, err := issuer.Create("conv-1", convention.RoleValidator, "v@agency.example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other := NewMagicLinkIssuer("other-secret", time.Hour).
		WithClock(func() time.Time { return linkNow })
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidMagicLink) {
		t.Fatalf("expected ErrInvalidMagicLink for foreign signature, got %v", err)
	}
}

func TestMagicLink_CreateValidation(t *testing.T) {
	issuer := NewMagicLinkIssuer("link-secret", time.Hour)
	if _, err := issuer.Create("", convention.RoleBeneficiary, "x@example.com"); err == nil {
		t.Fatal("expected error for missing convention id")
	}
	if _, err := issuer.Create("conv-1", "", "x@example.com"); err == nil {
		t.Fatal("expected error for missing role")
	}
}

func TestMagicLink_VerifyGarbage(t *testing.T) {
	issuer := NewMagicLinkIssuer("link-secret", time.Hour)
	if _, err := issuer.Verify("garbage"); !errors.Is(err, ErrInvalidMagicLink) {
		t.Fatalf("expected ErrInvalidMagicLink, got %v", err)
	}
}
