package codec

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// ErrMalformedClaim is returned when a decrypted payload does not decode
// into the expected claim.
var ErrMalformedClaim = errors.New("malformed claim")

// Claim kinds, stored as the first payload byte so a token minted for one
// purpose never decodes as another.
const (
	kindDownload byte = 1
	kindSignup   byte = 2
)

const (
	downloadClaimLen = 1 + 8 + 8 + 16
	signupReceiptLen = 1 + 8
)

// DownloadClaim names the file, the user it was issued to and the nonce of
// the stored token.
//
// Layout: kind(1) | fileID(8, big endian) | userID(8, big endian) | nonce(16).
type DownloadClaim struct {
	FileID int64
	UserID int64
	Nonce  uuid.UUID
}

// MarshalBinary encodes the claim in its fixed layout.
func (c DownloadClaim) MarshalBinary() ([]byte, error) {
	if c.FileID < 1 || c.UserID < 1 {
		return nil, ErrMalformedClaim
	}
	buf := make([]byte, downloadClaimLen)
	buf[0] = kindDownload
	binary.BigEndian.PutUint64(buf[1:9], uint64(c.FileID))
	binary.BigEndian.PutUint64(buf[9:17], uint64(c.UserID))
	copy(buf[17:], c.Nonce[:])
	return buf, nil
}

// UnmarshalBinary decodes a claim, rejecting any payload that is not exactly
// one download claim with positive ids.
func (c *DownloadClaim) UnmarshalBinary(data []byte) error {
	if len(data) != downloadClaimLen || data[0] != kindDownload {
		return ErrMalformedClaim
	}
	fileID := int64(binary.BigEndian.Uint64(data[1:9]))
	userID := int64(binary.BigEndian.Uint64(data[9:17]))
	if fileID < 1 || userID < 1 {
		return ErrMalformedClaim
	}
	nonce, err := uuid.FromBytes(data[17:])
	if err != nil {
		return ErrMalformedClaim
	}
	c.FileID = fileID
	c.UserID = userID
	c.Nonce = nonce
	return nil
}

// SignupReceipt is handed back to new client accounts at signup.
//
// Layout: kind(1) | userID(8, big endian).
type SignupReceipt struct {
	UserID int64
}

func (r SignupReceipt) MarshalBinary() ([]byte, error) {
	if r.UserID < 1 {
		return nil, ErrMalformedClaim
	}
	buf := make([]byte, signupReceiptLen)
	buf[0] = kindSignup
	binary.BigEndian.PutUint64(buf[1:], uint64(r.UserID))
	return buf, nil
}

func (r *SignupReceipt) UnmarshalBinary(data []byte) error {
	if len(data) != signupReceiptLen || data[0] != kindSignup {
		return ErrMalformedClaim
	}
	userID := int64(binary.BigEndian.Uint64(data[1:]))
	if userID < 1 {
		return ErrMalformedClaim
	}
	r.UserID = userID
	return nil
}
