package domain

import "time"

// Role identifies what a signed-in user is allowed to do. The set is closed;
// authorization decisions switch over it rather than walking a hierarchy.
type Role string

const (
	RoleNormal            Role = "normal"
	RoleAdmin             Role = "admin"
	RoleSuperadmin        Role = "superadmin"
	RoleOrganisationAdmin Role = "organisation_admin"
)

// AccountStatus is the authentication-relevant state of a user account.
// Transitions happen only through AccountService actions, never by writing
// the field directly.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusLocked    AccountStatus = "locked"
	StatusSuspended AccountStatus = "suspended"
)

// User represents a principal capable of authenticating.
type User struct {
	ID                  int64
	OrganisationID      *int64
	Name                string
	Email               string
	PassphraseHash      string
	Role                Role
	Status              AccountStatus
	FailedAttempts      int
	SuspensionReason    string
	PassphraseChangedAt time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Suspended reports whether the account is currently suspended.
func (u User) Suspended() bool { return u.Status == StatusSuspended }

// Locked reports whether the account is locked out of authentication.
func (u User) Locked() bool { return u.Status == StatusLocked }

// PassphraseExpired reports whether the passphrase is older than maxAge at the
// given instant.
func (u User) PassphraseExpired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || u.PassphraseChangedAt.IsZero() {
		return false
	}
	return now.Sub(u.PassphraseChangedAt) > maxAge
}

// Organisation groups users for organisation-scoped administration.
type Organisation struct {
	ID        int64
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is an opaque signed-in session. Only the sha256 of the token is
// stored.
type Session struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PassphraseReset is a pending reset link. Only the sha256 of the token is
// stored.
type PassphraseReset struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}
