package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fileshare/apiserver/internal/db"
	"github.com/fileshare/apiserver/types"
)

const userColumns = `id, username, email, role, password_hash, email_verified, is_active, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	return insertUser(ctx, r.db, user)
}

// CreateWithVerification inserts a user and its pending email verification
// in one transaction. Neither row is kept when either insert fails.
func (r *UserRepository) CreateWithVerification(ctx context.Context, user types.User, v types.EmailVerification) (types.User, types.EmailVerification, error) {
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if user, err = insertUser(ctx, tx, user); err != nil {
			return err
		}
		v.UserID = user.ID
		v, err = insertVerification(ctx, tx, v)
		return err
	})
	if err != nil {
		return types.User{}, types.EmailVerification{}, err
	}
	return user, v, nil
}

func insertUser(ctx context.Context, q db.DBTX, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (username, email, role, password_hash, email_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := q.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.EmailVerified,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if dupErr := uniqueViolationError(err); dupErr != nil {
			return types.User{}, dupErr
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) scanOne(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
