package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fileshare/apiserver/internal/db"
	"github.com/fileshare/apiserver/types"
)

// VerificationRepository handles persistence for email verification tokens.
type VerificationRepository struct {
	db *sql.DB
}

func NewVerificationRepository(db *sql.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func insertVerification(ctx context.Context, q db.DBTX, v types.EmailVerification) (types.EmailVerification, error) {
	const query = `
		INSERT INTO email_verifications (user_id, token, created_at, expires_at, verified)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id`
	if err := q.QueryRowContext(ctx, query, v.UserID, v.Token, v.CreatedAt, v.ExpiresAt).Scan(&v.ID); err != nil {
		return types.EmailVerification{}, err
	}
	v.Verified = false
	return v, nil
}

// GetPending returns the unverified record for token.
func (r *VerificationRepository) GetPending(ctx context.Context, token string) (types.EmailVerification, error) {
	const query = `
		SELECT id, user_id, token, created_at, expires_at, verified
		FROM email_verifications
		WHERE token = $1 AND verified = FALSE`
	var v types.EmailVerification
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&v.ID,
		&v.UserID,
		&v.Token,
		&v.CreatedAt,
		&v.ExpiresAt,
		&v.Verified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EmailVerification{}, ErrNotFound
		}
		return types.EmailVerification{}, err
	}
	return v, nil
}

// MarkVerified flips the verification record and its user's email_verified
// flag in one transaction. It returns ErrNotFound when the record was
// already verified by a concurrent request.
func (r *VerificationRepository) MarkVerified(ctx context.Context, id, userID int64) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx db.DBTX) error {
		const markQuery = `UPDATE email_verifications SET verified = TRUE WHERE id = $1 AND verified = FALSE`
		result, err := tx.ExecContext(ctx, markQuery, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}

		const userQuery = `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
		result, err = tx.ExecContext(ctx, userQuery, userID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
