package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fileshare/apiserver/types"
)

// DownloadTokenRepository handles persistence for download tokens.
type DownloadTokenRepository struct {
	db *sql.DB
}

func NewDownloadTokenRepository(db *sql.DB) *DownloadTokenRepository {
	return &DownloadTokenRepository{db: db}
}

func (r *DownloadTokenRepository) Create(ctx context.Context, token types.DownloadToken) (types.DownloadToken, error) {
	const query = `
		INSERT INTO download_tokens (file_id, user_id, opaque_token, nonce, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		token.FileID,
		token.UserID,
		token.OpaqueToken,
		token.Nonce,
		token.CreatedAt,
		token.ExpiresAt,
	).Scan(&token.ID); err != nil {
		return types.DownloadToken{}, err
	}
	token.Used = false
	return token, nil
}

// FindUnused returns the unused token matching the (file, user, nonce)
// triple.
func (r *DownloadTokenRepository) FindUnused(ctx context.Context, fileID, userID int64, nonce string) (types.DownloadToken, error) {
	const query = `
		SELECT id, file_id, user_id, opaque_token, nonce, created_at, expires_at, used, used_at
		FROM download_tokens
		WHERE file_id = $1 AND user_id = $2 AND nonce = $3 AND used = FALSE`
	var token types.DownloadToken
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, fileID, userID, nonce).Scan(
		&token.ID,
		&token.FileID,
		&token.UserID,
		&token.OpaqueToken,
		&token.Nonce,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Used,
		&usedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DownloadToken{}, ErrNotFound
		}
		return types.DownloadToken{}, err
	}
	if usedAt.Valid {
		token.UsedAt = &usedAt.Time
	}
	return token, nil
}

// MarkUsed consumes the token. The update only matches an unused row, so of
// several concurrent callers exactly one succeeds; the rest get ErrNotFound.
func (r *DownloadTokenRepository) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	const query = `UPDATE download_tokens SET used = TRUE, used_at = $2 WHERE id = $1 AND used = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, usedAt)
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
	return nil
}
