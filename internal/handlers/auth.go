package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fileshare/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AuthHandler provides signup, email verification and JWT endpoints.
type AuthHandler struct {
	userService *services.UserService
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
// Zero TTLs fall back to 15 minutes for access and 24 hours for refresh
// tokens.
func NewAuthHandler(userService *services.UserService, jwtSecret string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		userService: userService,
		secret:      []byte(jwtSecret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/signup", handler.Signup)
	r.Get("/verify-email/{token}", handler.VerifyEmail)
	r.Post("/login", handler.Login)
	r.Post("/token/refresh", handler.Refresh)
}

// RequireAuth enforces JWT authentication and injects the subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.secret)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret))
}

func requireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}

			claims, err := parseToken(tokenString, secret, tokenTypeAccess)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Signup creates a new account. Client accounts also receive an
// encrypted_url and a verification email.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.userService.Signup(r.Context(), services.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Role:            req.UserType,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, detail(err, services.ErrValidation))
			return
		}
		h.logger.ErrorContext(r.Context(), "signup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, SignupResponse{
		Message:      "User created successfully",
		UserID:       result.User.ID,
		Email:        result.User.Email,
		EncryptedURL: result.EncryptedURL,
	})
}

// VerifyEmail redeems an email verification token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	err := h.userService.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully"})
	case errors.Is(err, services.ErrExpired):
		writeError(w, http.StatusBadRequest, "Verification link has expired")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusBadRequest, "Invalid verification token")
	default:
		h.logger.ErrorContext(r.Context(), "verify email", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify email")
	}
}

// Login verifies credentials and returns an access/refresh token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrAuth) {
			writeError(w, http.StatusBadRequest, detail(err, services.ErrAuth))
			return
		}
		h.logger.ErrorContext(r.Context(), "login", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	pair, err := h.issuePair(user.ID, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		TokenPair:       pair,
		UserType:        user.Role,
		Email:           user.Email,
		IsEmailVerified: user.EmailVerified,
	})
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	claims, err := parseToken(strings.TrimSpace(req.Refresh), h.secret, tokenTypeRefresh)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID < 1 {
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}

	user, err := h.userService.Reauthenticate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrAuth) {
			writeError(w, http.StatusBadRequest, detail(err, services.ErrAuth))
			return
		}
		h.logger.ErrorContext(r.Context(), "refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	pair, err := h.issuePair(user.ID, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	UserType        string `json:"user_type"`
}

type SignupResponse struct {
	Message      string `json:"message"`
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	EncryptedURL string `json:"encrypted_url,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type LoginResponse struct {
	TokenPair
	UserType        string `json:"user_type"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh_token"`
}

// tokenClaims are the JWT claims of both access and refresh tokens.
type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func (h *AuthHandler) issuePair(userID int64, role string) (TokenPair, error) {
	access, err := issueToken(userID, role, tokenTypeAccess, h.secret, h.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := issueToken(userID, role, tokenTypeRefresh, h.secret, h.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func issueToken(userID int64, role, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseToken(tokenString string, secret []byte, tokenType string) (tokenClaims, error) {
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return tokenClaims{}, err
	}
	if !token.Valid {
		return tokenClaims{}, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return tokenClaims{}, errors.New("wrong token type")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return tokenClaims{}, errors.New("missing subject")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// detail strips the sentinel prefix from a wrapped service error, leaving
// the message meant for the client.
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != msg {
		return trimmed
	}
	return msg
}
