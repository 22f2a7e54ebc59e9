package types

import "time"

// Roles a user can hold.
const (
	RoleOps    = "ops"
	RoleClient = "client"
)

// ValidRole reports whether role is one of the supported user roles.
func ValidRole(role string) bool {
	return role == RoleOps || role == RoleClient
}

// User represents an account in the system.
// It contains identity, role, verification state and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Username is the unique display name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address. It is unique and used to log in.
	Email string `json:"email" db:"email"`

	// Role is either "ops" (uploads files) or "client" (lists and
	// downloads files).
	Role string `json:"user_type" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// EmailVerified flips to true once an email verification token
	// issued to the user is redeemed.
	EmailVerified bool `json:"is_email_verified" db:"email_verified"`

	// IsActive is false for disabled accounts, which cannot log in.
	IsActive bool `json:"is_active" db:"is_active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EmailVerification is a one-time token mailed to a user at signup.
type EmailVerification struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Verified  bool      `json:"verified" db:"verified"`
}

// Expired reports whether the verification window closed before now.
func (v EmailVerification) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
