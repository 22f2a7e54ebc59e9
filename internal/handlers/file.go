package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/fileshare/apiserver/internal/services"
	"github.com/fileshare/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	formFieldFile      = "file"
	maxMultipartMemory = 1 << 20
	// multipartOverhead leaves room for boundaries and part headers around
	// a file at the size limit.
	multipartOverhead = 1 << 20
)

// FileHandler serves the file catalogue and download endpoints.
type FileHandler struct {
	userService     *services.UserService
	fileService     *services.FileService
	downloadService *services.DownloadService
	logger          *slog.Logger
}

// NewFileHandler constructs a FileHandler with the provided dependencies.
func NewFileHandler(
	userService *services.UserService,
	fileService *services.FileService,
	downloadService *services.DownloadService,
	logger *slog.Logger,
) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		userService:     userService,
		fileService:     fileService,
		downloadService: downloadService,
		logger:          logger,
	}
}

// FileRouter registers file routes. authMiddleware must authenticate the
// bearer token; role checks are applied here.
func FileRouter(r chi.Router, handler *FileHandler, authMiddleware func(http.Handler) http.Handler) {
	opsOnly := requireRole(handler.userService, types.RoleOps, "Only operation users can upload files")
	listClients := requireRole(handler.userService, types.RoleClient, "Only client users can list files")
	downloadClients := requireRole(handler.userService, types.RoleClient, "Only client users can download files")

	r.With(authMiddleware, opsOnly).Post("/upload", handler.Upload)
	r.With(authMiddleware, listClients).Get("/files", handler.ListFiles)
	r.With(authMiddleware, downloadClients).Get("/files/{fileID}/download-url", handler.DownloadURL)
	r.Get("/download/{token}", handler.Download)
}

// Upload accepts a multipart form with a single "file" part.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, types.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "file size cannot exceed 10MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	part, header, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file was submitted")
		return
	}
	defer part.Close()

	file, err := h.fileService.Upload(r.Context(), user, header.Filename, header.Size, part)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, detail(err, services.ErrValidation))
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only operation users can upload files")
		default:
			h.logger.ErrorContext(r.Context(), "upload file", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to upload file")
		}
		return
	}
	filesUploaded.Inc()

	writeJSON(w, http.StatusCreated, UploadResponse{
		Message:  "File uploaded successfully",
		FileID:   file.ID,
		Filename: file.OriginalName,
		FileType: file.Type,
		Size:     file.Size,
	})
}

// ListFiles returns every uploaded file, newest first.
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	files, err := h.fileService.List(r.Context(), user)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			writeError(w, http.StatusForbidden, "Only client users can list files")
			return
		}
		h.logger.ErrorContext(r.Context(), "list files", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if files == nil {
		files = []types.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

// DownloadURL issues a single-use download link for a file.
func (h *FileHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	link, err := h.downloadService.Issue(r.Context(), user, fileID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only client users can download files")
		default:
			h.logger.ErrorContext(r.Context(), "issue download token", "file_id", fileID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create download url")
		}
		return
	}
	downloadTokensIssued.Inc()

	writeJSON(w, http.StatusOK, link)
}

// Download redeems a download token and streams the file as an attachment.
// The token is a bearer capability; no session is required.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	dl, err := h.downloadService.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidToken):
			downloadRedemptions.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "Invalid download URL")
		case errors.Is(err, services.ErrExpired):
			downloadRedemptions.WithLabelValues("expired").Inc()
			writeError(w, http.StatusBadRequest, "Download URL has expired")
		case errors.Is(err, services.ErrInvalidOrExpired):
			downloadRedemptions.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "Invalid or expired download URL")
		case errors.Is(err, services.ErrFileMissing):
			downloadRedemptions.WithLabelValues("missing").Inc()
			writeError(w, http.StatusNotFound, "File not found on server")
		default:
			downloadRedemptions.WithLabelValues("error").Inc()
			h.logger.ErrorContext(r.Context(), "redeem download token", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to download file")
		}
		return
	}
	downloadRedemptions.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}

func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

type UploadResponse struct {
	Message  string `json:"message"`
	FileID   int64  `json:"file_id"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Size     int64  `json:"size"`
}
