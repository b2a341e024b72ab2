package auth

import (
	"strings"
	"time"
)

// User is the domain representation of a directory user.
// It mirrors the users table and carries no JSON annotations so it can be
// reused by different presentation layers.
type User struct {
	ID                 string
	Email              string
	FirstName          string
	LastName           string
	PasswordHash       string
	IsBackOffice       bool
	LastActiveAt       time.Time
	InactivityWarnedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// RegisterRequest contains account registration data supplied by callers.
// Self-service signup is out of scope; registration serves back-office
// operators.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	IsBackOffice bool   `json:"is_back_office"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const (
	// TopicInactivityWarning is raised once per warning sweep run, listing
	// every user warned in that run.
	TopicInactivityWarning = "user.inactivity_warning"
)

// InactivityPayload is the payload of TopicInactivityWarning.
type InactivityPayload struct {
	UserIDs []string  `json:"userIds"`
	Cutoff  time.Time `json:"cutoff"`
}
