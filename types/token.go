package types

import "time"

// DownloadToken is the stored authority behind an encrypted download URL.
// It binds one file to one user through a per-issue nonce and may be
// redeemed at most once before it expires.
type DownloadToken struct {
	ID          int64      `json:"id" db:"id"`
	FileID      int64      `json:"file_id" db:"file_id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	OpaqueToken string     `json:"-" db:"opaque_token"`
	Nonce       string     `json:"-" db:"nonce"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	Used        bool       `json:"used" db:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// Expired reports whether the token expired before now.
func (t DownloadToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
