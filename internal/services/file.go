package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fileshare/apiserver/types"
	"github.com/google/uuid"
)

const blobKeyPrefix = "uploads/"

var contentTypes = map[string]string{
	types.FileTypePPTX: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	types.FileTypeDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	types.FileTypeXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// FileRepository defines persistence operations for file records.
type FileRepository interface {
	List(ctx context.Context) ([]types.File, error)
	Get(ctx context.Context, id int64) (types.File, error)
	Create(ctx context.Context, file types.File) (types.File, error)
}

// BlobStore holds file contents. *storage.Storage satisfies it.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	ReadAll(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// FileService encapsulates the file catalogue: ops users upload, client
// users list.
type FileService struct {
	files  FileRepository
	blobs  BlobStore
	logger *slog.Logger
}

func NewFileService(files FileRepository, blobs BlobStore, logger *slog.Logger) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileService{files: files, blobs: blobs, logger: logger}
}

// Upload stores the contents under a fresh blob key and records the file.
// If the record cannot be written the blob is removed again.
func (s *FileService) Upload(ctx context.Context, user types.User, filename string, size int64, r io.Reader) (types.File, error) {
	if user.Role != types.RoleOps {
		return types.File{}, fmt.Errorf("%w: only operation users can upload files", ErrForbidden)
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		return types.File{}, fmt.Errorf("%w: no file was submitted", ErrValidation)
	}
	fileType, ok := types.FileTypeFromName(filename)
	if !ok {
		return types.File{}, fmt.Errorf("%w: only pptx, docx, and xlsx files are allowed", ErrValidation)
	}
	if size <= 0 {
		return types.File{}, fmt.Errorf("%w: the submitted file is empty", ErrValidation)
	}
	if size > types.MaxFileSize {
		return types.File{}, fmt.Errorf("%w: file size cannot exceed 10MB", ErrValidation)
	}

	key := blobKeyPrefix + uuid.NewString() + "." + fileType
	if err := s.blobs.Put(ctx, key, io.LimitReader(r, size), size, contentTypes[fileType]); err != nil {
		return types.File{}, fmt.Errorf("store file contents: %w", err)
	}

	file, err := s.files.Create(ctx, types.File{
		OwnerID:      user.ID,
		BlobKey:      key,
		OriginalName: filename,
		Size:         size,
		Type:         fileType,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.ErrorContext(ctx, "remove orphaned blob", "key", key, "error", delErr)
		}
		return types.File{}, fmt.Errorf("create file record: %w", err)
	}
	file.OwnerUsername = user.Username
	return file, nil
}

// List returns every file, newest first.
func (s *FileService) List(ctx context.Context, user types.User) ([]types.File, error) {
	if user.Role != types.RoleClient {
		return nil, fmt.Errorf("%w: only client users can list files", ErrForbidden)
	}
	return s.files.List(ctx)
}
