package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/fileshare/apiserver/internal/codec"
	"github.com/fileshare/apiserver/internal/mailer"
	"github.com/fileshare/apiserver/internal/store"
	"github.com/fileshare/apiserver/types"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	verificationPath  = "/verify-email/"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	CreateWithVerification(ctx context.Context, user types.User, v types.EmailVerification) (types.User, types.EmailVerification, error)
}

// VerificationRepository defines persistence operations for email
// verification tokens.
type VerificationRepository interface {
	GetPending(ctx context.Context, token string) (types.EmailVerification, error)
	MarkVerified(ctx context.Context, id, userID int64) error
}

// UserService encapsulates account use-cases: signup, login and email
// verification.
type UserService struct {
	users         UserRepository
	verifications VerificationRepository
	mailer        mailer.Mailer
	codec         *codec.Codec
	baseURL       string
	logger        *slog.Logger
	now           func() time.Time
}

func NewUserService(
	users UserRepository,
	verifications VerificationRepository,
	m mailer.Mailer,
	c *codec.Codec,
	baseURL string,
	logger *slog.Logger,
	opts ...Option,
) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	o := applyOptions(opts)
	return &UserService{
		users:         users,
		verifications: verifications,
		mailer:        m,
		codec:         c,
		baseURL:       strings.TrimRight(baseURL, "/"),
		logger:        logger,
		now:           o.now,
	}
}

// SignupInput carries the fields of a signup request.
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	Role            string
}

// SignupResult is returned on successful signup. EncryptedURL is only set
// for client accounts.
type SignupResult struct {
	User         types.User
	EncryptedURL string
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

// Signup validates input, creates the account and, for client accounts,
// issues an email verification. Client accounts are stored together with
// their verification record; the email is sent after both are committed and
// a delivery failure is logged without failing the signup.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))

	if err := validateSignup(in); err != nil {
		return SignupResult{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return SignupResult{}, fmt.Errorf("hash password: %w", err)
	}

	user := types.User{
		Username:     in.Username,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: string(hashed),
		IsActive:     true,
	}
	var verification types.EmailVerification
	if user.Role == types.RoleClient {
		now := s.now()
		user, verification, err = s.users.CreateWithVerification(ctx, user, types.EmailVerification{
			Token:     uuid.NewString(),
			CreatedAt: now,
			ExpiresAt: now.Add(verificationTTL),
		})
	} else {
		user, err = s.users.Create(ctx, user)
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return SignupResult{}, fmt.Errorf("%w: email is already registered", ErrValidation)
		case errors.Is(err, store.ErrDuplicateUsername):
			return SignupResult{}, fmt.Errorf("%w: username is already taken", ErrValidation)
		default:
			return SignupResult{}, err
		}
	}

	result := SignupResult{User: user}
	if user.Role != types.RoleClient {
		return result, nil
	}

	s.sendVerification(ctx, user, verification)

	receipt, err := codec.SignupReceipt{UserID: user.ID}.MarshalBinary()
	if err != nil {
		return SignupResult{}, err
	}
	result.EncryptedURL, err = s.codec.Encrypt(receipt)
	if err != nil {
		return SignupResult{}, fmt.Errorf("encrypt signup receipt: %w", err)
	}
	return result, nil
}

func validateSignup(in SignupInput) error {
	if in.Username == "" || in.Email == "" || in.Password == "" || in.Role == "" {
		return fmt.Errorf("%w: username, email, password and user_type are required", ErrValidation)
	}
	if !types.ValidRole(in.Role) {
		return fmt.Errorf("%w: user_type must be %q or %q", ErrValidation, types.RoleOps, types.RoleClient)
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: enter a valid email address", ErrValidation)
	}
	if len(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if in.Password != in.PasswordConfirm {
		return fmt.Errorf("%w: passwords don't match", ErrValidation)
	}
	return nil
}

func (s *UserService) sendVerification(ctx context.Context, user types.User, v types.EmailVerification) {
	link := s.baseURL + verificationPath + v.Token
	if err := s.mailer.Send(ctx, mailer.VerificationMessage(user.Email, user.Username, link)); err != nil {
		s.logger.ErrorContext(ctx, "send verification email", "user_id", user.ID, "error", err)
	}
}

// VerifyEmail redeems a verification token. Unknown or already redeemed
// tokens yield ErrNotFound, expired ones ErrExpired.
func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: verification token", ErrNotFound)
	}

	v, err := s.verifications.GetPending(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: verification token", ErrNotFound)
		}
		return err
	}

	if v.Expired(s.now()) {
		return fmt.Errorf("%w: verification link", ErrExpired)
	}

	if err := s.verifications.MarkVerified(ctx, v.ID, v.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: verification token", ErrNotFound)
		}
		return err
	}
	return nil
}

// Authenticate checks credentials. Disabled accounts and client accounts
// with an unverified email are rejected.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return types.User{}, fmt.Errorf("%w: email and password are required", ErrAuth)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: invalid credentials", ErrAuth)
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, fmt.Errorf("%w: invalid credentials", ErrAuth)
	}
	if err := checkCanLogin(user); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Reauthenticate loads a user for a token refresh, applying the same account
// checks as Authenticate.
func (s *UserService) Reauthenticate(ctx context.Context, id int64) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: invalid credentials", ErrAuth)
		}
		return types.User{}, err
	}
	if err := checkCanLogin(user); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func checkCanLogin(user types.User) error {
	if !user.IsActive {
		return fmt.Errorf("%w: user account is disabled", ErrAuth)
	}
	if user.Role == types.RoleClient && !user.EmailVerified {
		return fmt.Errorf("%w: please verify your email before logging in", ErrAuth)
	}
	return nil
}
