package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fileshare/apiserver/internal/codec"
	"github.com/fileshare/apiserver/internal/storage"
	"github.com/fileshare/apiserver/internal/store"
	"github.com/fileshare/apiserver/types"
	"github.com/google/uuid"
)

const (
	downloadTokenTTL = time.Hour
	downloadPath     = "/download/"

	// DownloadContentType is the media type every download is served as.
	DownloadContentType = "application/octet-stream"
)

// DownloadTokenRepository defines persistence operations for download
// tokens.
type DownloadTokenRepository interface {
	Create(ctx context.Context, token types.DownloadToken) (types.DownloadToken, error)
	FindUnused(ctx context.Context, fileID, userID int64, nonce string) (types.DownloadToken, error)
	MarkUsed(ctx context.Context, id int64, usedAt time.Time) error
}

// DownloadLink is a freshly issued download URL.
type DownloadLink struct {
	URL       string    `json:"download_url"`
	ExpiresAt time.Time `json:"expires_at"`
	Filename  string    `json:"filename"`
}

// Download is the content released by a redeemed token.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DownloadService issues and redeems single-use, time-limited download
// tokens. A token is an encrypted DownloadClaim naming the file, the client
// it was issued to and the nonce of its stored record. The stored record is
// the authority; the ciphertext only hides what it refers to.
type DownloadService struct {
	files   FileRepository
	tokens  DownloadTokenRepository
	blobs   BlobStore
	codec   *codec.Codec
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

func NewDownloadService(
	files FileRepository,
	tokens DownloadTokenRepository,
	blobs BlobStore,
	c *codec.Codec,
	baseURL string,
	logger *slog.Logger,
	opts ...Option,
) *DownloadService {
	if logger == nil {
		logger = slog.Default()
	}
	o := applyOptions(opts)
	return &DownloadService{
		files:   files,
		tokens:  tokens,
		blobs:   blobs,
		codec:   c,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     o.now,
	}
}

// Issue mints a new download token for fileID. Every call creates an
// independent token; earlier tokens stay valid.
func (s *DownloadService) Issue(ctx context.Context, user types.User, fileID int64) (DownloadLink, error) {
	if user.Role != types.RoleClient {
		return DownloadLink{}, fmt.Errorf("%w: only client users can download files", ErrForbidden)
	}

	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DownloadLink{}, fmt.Errorf("%w: file", ErrNotFound)
		}
		return DownloadLink{}, err
	}

	nonce := uuid.New()
	payload, err := codec.DownloadClaim{FileID: file.ID, UserID: user.ID, Nonce: nonce}.MarshalBinary()
	if err != nil {
		return DownloadLink{}, err
	}
	opaque, err := s.codec.Encrypt(payload)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("encrypt download claim: %w", err)
	}

	now := s.now()
	token, err := s.tokens.Create(ctx, types.DownloadToken{
		FileID:      file.ID,
		UserID:      user.ID,
		OpaqueToken: opaque,
		Nonce:       nonce.String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(downloadTokenTTL),
	})
	if err != nil {
		return DownloadLink{}, fmt.Errorf("create download token: %w", err)
	}

	return DownloadLink{
		URL:       s.baseURL + downloadPath + opaque,
		ExpiresAt: token.ExpiresAt,
		Filename:  file.OriginalName,
	}, nil
}

// Redeem consumes a download token and returns the file contents.
//
// Undecryptable or malformed tokens yield ErrInvalidToken. A token with no
// unused record, or one that lost a concurrent redemption, yields
// ErrInvalidOrExpired. An expired token yields ErrExpired and stays unused.
// Contents missing from storage yield ErrFileMissing; the token is consumed
// by then.
func (s *DownloadService) Redeem(ctx context.Context, opaque string) (Download, error) {
	payload, ok := s.codec.Decrypt(opaque)
	if !ok {
		return Download{}, fmt.Errorf("%w: cannot decrypt", ErrInvalidToken)
	}

	var claim codec.DownloadClaim
	if err := claim.UnmarshalBinary(payload); err != nil {
		return Download{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	token, err := s.tokens.FindUnused(ctx, claim.FileID, claim.UserID, claim.Nonce.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Download{}, fmt.Errorf("%w: no unused token", ErrInvalidOrExpired)
		}
		return Download{}, err
	}

	now := s.now()
	if token.Expired(now) {
		return Download{}, fmt.Errorf("%w: download url", ErrExpired)
	}

	if err := s.tokens.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Download{}, fmt.Errorf("%w: token already used", ErrInvalidOrExpired)
		}
		return Download{}, err
	}

	file, err := s.files.Get(ctx, token.FileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Download{}, fmt.Errorf("%w: file record %d", ErrFileMissing, token.FileID)
		}
		return Download{}, err
	}

	data, err := s.blobs.ReadAll(ctx, file.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.WarnContext(ctx, "download blob missing", "file_id", file.ID, "key", file.BlobKey)
			return Download{}, fmt.Errorf("%w: %s", ErrFileMissing, file.BlobKey)
		}
		return Download{}, err
	}

	return Download{
		Filename:    file.OriginalName,
		ContentType: DownloadContentType,
		Data:        data,
	}, nil
}
