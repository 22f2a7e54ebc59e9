package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail and ErrDuplicateUsername are returned when a unique
// constraint on users rejects an insert.
var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

const uniqueViolation = "23505"

// Unique constraints on users. Emails are unique ignoring case.
const (
	usersEmailKey      = "users_email_key"
	usersEmailLowerKey = "users_email_lower_key"
	usersUsernameKey   = "users_username_key"
)

// uniqueViolationError maps a unique-violation on the users table to the
// matching sentinel. It returns nil for any other error.
func uniqueViolationError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case usersEmailKey, usersEmailLowerKey:
		return ErrDuplicateEmail
	case usersUsernameKey:
		return ErrDuplicateUsername
	}
	if strings.Contains(pqErr.Constraint, "username") {
		return ErrDuplicateUsername
	}
	return ErrDuplicateEmail
}
