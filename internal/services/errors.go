package services

import (
	"errors"
	"time"
)

// Sentinel errors returned by the services. Callers match them with
// errors.Is; most are wrapped with a human-readable detail.
var (
	ErrValidation       = errors.New("validation failed")
	ErrAuth             = errors.New("authentication failed")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidOrExpired = errors.New("invalid or expired token")
	ErrExpired          = errors.New("expired")
	ErrFileMissing      = errors.New("file missing from storage")
)

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
