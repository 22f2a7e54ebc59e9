package types

import (
	"path"
	"strings"
	"time"
)

// Supported file types.
const (
	FileTypePPTX = "pptx"
	FileTypeDOCX = "docx"
	FileTypeXLSX = "xlsx"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 10 << 20

// FileTypeFromName returns the lower-cased extension of name and whether it
// is one of the supported office document types.
func FileTypeFromName(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(name)), "."))
	switch ext {
	case FileTypePPTX, FileTypeDOCX, FileTypeXLSX:
		return ext, true
	default:
		return ext, false
	}
}

// File is an uploaded office document. Files are immutable once created.
type File struct {
	// ID is the unique identifier of the file.
	ID int64 `json:"id" db:"id"`

	// OwnerID references the ops user who uploaded the file.
	OwnerID int64 `json:"-" db:"owner_id"`

	// OwnerUsername is the uploader's username, filled on list queries.
	OwnerUsername string `json:"uploaded_by" db:"-"`

	// BlobKey is the object key of the file contents in blob storage.
	BlobKey string `json:"-" db:"blob_key"`

	// OriginalName is the filename supplied at upload.
	OriginalName string `json:"original_filename" db:"original_name"`

	// Size is the file size in bytes.
	Size int64 `json:"file_size" db:"size_bytes"`

	// Type is one of pptx, docx or xlsx.
	Type string `json:"file_type" db:"file_type"`

	// CreatedAt is the upload timestamp.
	CreatedAt time.Time `json:"uploaded_at" db:"created_at"`
}
