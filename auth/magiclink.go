package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"immersion/convention"
)

// ErrInvalidMagicLink signals a tampered, expired or malformed link token.
var ErrInvalidMagicLink = errors.New("auth: invalid magic link")

// MagicLinkClaims is what a convention link carries: the single role it
// grants on one convention, and the email it was sent to.
type MagicLinkClaims struct {
	ConventionID string
	Role         convention.Role
	Email        string
}

// MagicLinkIssuer mints and verifies the signed links embedded in convention
// emails. A link stands in for authentication: whoever holds it acts with
// exactly the embedded role.
type MagicLinkIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewMagicLinkIssuer(secret string, ttl time.Duration) *MagicLinkIssuer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &MagicLinkIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *MagicLinkIssuer) WithClock(now func() time.Time) *MagicLinkIssuer {
	i.now = now
	return i
}

// Create signs a link token for the role on the convention.
func (i *MagicLinkIssuer) Create(conventionID string, role convention.Role, email string) (string, error) {
	if conventionID == "" || role == "" {
		return "", fmt.Errorf("auth: magic link needs convention id and role")
	}
	now := i.now()
	claims := jwt.MapClaims{
		"convention_id": conventionID,
		"role":          string(role),
		"email":         email,
		"exp":           now.Add(i.ttl).Unix(),
		"iat":           now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign magic link: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the embedded claims.
func (i *MagicLinkIssuer) Verify(tokenString string) (MagicLinkClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return MagicLinkClaims{}, fmt.Errorf("%w: %v", ErrInvalidMagicLink, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return MagicLinkClaims{}, ErrInvalidMagicLink
	}
	conventionID, _ := claims["convention_id"].(string)
	role, _ := claims["role"].(string)
	email, _ := claims["email"].(string)
	if conventionID == "" || role == "" {
		return MagicLinkClaims{}, ErrInvalidMagicLink
	}
	return MagicLinkClaims{
		ConventionID: conventionID,
		Role:         convention.Role(role),
		Email:        email,
	}, nil
}

// Actor converts verified claims into the lifecycle actor they grant. The
// convention id travels with the actor so the transition service can refuse
// the link on any other convention.
func (c MagicLinkClaims) Actor() convention.MagicLinkActor {
	return convention.MagicLinkActor{ConventionID: c.ConventionID, Role: c.Role, Email: c.Email}
}
