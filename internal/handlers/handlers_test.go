package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/fileshare/apiserver/internal/codec"
	"github.com/fileshare/apiserver/internal/mailer"
	"github.com/fileshare/apiserver/internal/services"
	"github.com/fileshare/apiserver/internal/storage"
	"github.com/fileshare/apiserver/internal/store/memory"
	"github.com/fileshare/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret"
	testBaseURL = "http://files.test"
)

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) verificationToken(t *testing.T, email string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	marker := testBaseURL + "/verify-email/"
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To != email {
			continue
		}
		idx := strings.Index(o.sent[i].Body, marker)
		require.GreaterOrEqual(t, idx, 0)
		return strings.Fields(o.sent[i].Body[idx+len(marker):])[0]
	}
	t.Fatalf("no email sent to %s", email)
	return ""
}

type testAPI struct {
	router *chi.Mux
	store  *memory.Store
	blobs  *storage.Storage
	mail   *outbox
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	backend, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	blobs := storage.NewStorage(backend)

	key, err := codec.GenerateKey()
	require.NoError(t, err)
	c, err := codec.New(key)
	require.NoError(t, err)

	st := memory.New()
	mail := &outbox{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userService := services.NewUserService(st.Users(), st.Verifications(), mail, c, testBaseURL, logger)
	fileService := services.NewFileService(st.Files(), blobs, logger)
	downloadService := services.NewDownloadService(st.Files(), st.DownloadTokens(), blobs, c, testBaseURL, logger)

	authHandler := NewAuthHandler(userService, testSecret, 0, 0, logger)
	fileHandler := NewFileHandler(userService, fileService, downloadService, logger)

	router := chi.NewRouter()
	router.Use(Metrics)
	router.Get("/", Home)
	router.Get("/healthz", Healthz)
	AuthRouter(router, authHandler)
	FileRouter(router, fileHandler, authHandler.RequireAuth)

	return &testAPI{router: router, store: st, blobs: blobs, mail: mail}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return a.do(t, req)
}

func (a *testAPI) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(t, req)
}

func (a *testAPI) upload(t *testing.T, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(t, req)
}

func (a *testAPI) signup(t *testing.T, username, role string) SignupResponse {
	t.Helper()
	rec := a.postJSON(t, "/signup", SignupRequest{
		Username:        username,
		Email:           username + "@example.com",
		Password:        "s3cret-pass",
		PasswordConfirm: "s3cret-pass",
		UserType:        role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SignupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (a *testAPI) login(t *testing.T, username string) LoginResponse {
	t.Helper()
	rec := a.postJSON(t, "/login", LoginRequest{Email: username + "@example.com", Password: "s3cret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (a *testAPI) opsToken(t *testing.T, username string) string {
	t.Helper()
	a.signup(t, username, "ops")
	return a.login(t, username).AccessToken
}

func (a *testAPI) clientToken(t *testing.T, username string) string {
	t.Helper()
	a.signup(t, username, "client")
	token := a.mail.verificationToken(t, username+"@example.com")
	rec := a.get(t, "/verify-email/"+token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return a.login(t, username).AccessToken
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestHomeAndHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.get(t, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome to the File Sharing API")

	rec = api.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignup_ClientResponseIncludesEncryptedURL(t *testing.T) {
	api := newTestAPI(t)

	client := api.signup(t, "client", "client")
	assert.Equal(t, "User created successfully", client.Message)
	assert.NotZero(t, client.UserID)
	assert.NotEmpty(t, client.EncryptedURL)

	ops := api.signup(t, "ops", "ops")
	assert.Empty(t, ops.EncryptedURL)
}

func TestSignup_ValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.postJSON(t, "/signup", SignupRequest{
		Username: "x", Email: "x@example.com", Password: "s3cret-pass", PasswordConfirm: "other-pass", UserType: "client",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "passwords don't match", decodeError(t, rec))

	api.signup(t, "taken", "ops")
	rec = api.postJSON(t, "/signup", SignupRequest{
		Username: "other", Email: "taken@example.com", Password: "s3cret-pass", PasswordConfirm: "s3cret-pass", UserType: "ops",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader("{"))
	rec = api.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEmailAndLogin(t *testing.T) {
	api := newTestAPI(t)
	api.signup(t, "client", "client")

	rec := api.postJSON(t, "/login", LoginRequest{Email: "client@example.com", Password: "s3cret-pass"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "verify your email")

	rec = api.get(t, "/verify-email/not-a-token", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid verification token", decodeError(t, rec))

	token := api.mail.verificationToken(t, "client@example.com")
	rec = api.get(t, "/verify-email/"+token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.get(t, "/verify-email/"+token, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	login := api.login(t, "client")
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, "client", login.UserType)
	assert.True(t, login.IsEmailVerified)

	rec = api.postJSON(t, "/login", LoginRequest{Email: "client@example.com", Password: "wrong-password"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshToken(t *testing.T) {
	api := newTestAPI(t)
	api.signup(t, "ops", "ops")
	login := api.login(t, "ops")

	rec := api.postJSON(t, "/token/refresh", RefreshRequest{Refresh: login.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair.AccessToken)

	rec = api.postJSON(t, "/token/refresh", RefreshRequest{Refresh: login.AccessToken})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.postJSON(t, "/token/refresh", RefreshRequest{Refresh: "garbage"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.upload(t, login.RefreshToken, "deck.pptx", []byte("x"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGates(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")
	clientToken := api.clientToken(t, "client")

	rec := api.upload(t, "", "deck.pptx", []byte("x"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.upload(t, "not-a-jwt", "deck.pptx", []byte("x"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.upload(t, clientToken, "deck.pptx", []byte("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only operation users can upload files", decodeError(t, rec))

	rec = api.get(t, "/files", opsToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only client users can list files", decodeError(t, rec))

	rec = api.get(t, "/files/1/download-url", opsToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only client users can download files", decodeError(t, rec))

	rec = api.get(t, "/files", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")

	rec := api.upload(t, opsToken, "notes.txt", []byte("plain text"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "only pptx, docx, and xlsx files are allowed", decodeError(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not multipart"))
	req.Header.Set("Authorization", "Bearer "+opsToken)
	rec = api.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_AcceptsOfficeTypes(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")

	cases := []struct {
		filename string
		fileType string
	}{
		{"deck.pptx", "pptx"},
		{"Report.docx", "docx"},
		{"numbers.XLSX", "xlsx"},
	}
	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			content := []byte("PK\x03\x04 " + tc.filename)
			rec := api.upload(t, opsToken, tc.filename, content)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			var uploaded UploadResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
			assert.Equal(t, tc.filename, uploaded.Filename)
			assert.Equal(t, tc.fileType, uploaded.FileType)
			assert.Equal(t, int64(len(content)), uploaded.Size)
		})
	}
}

func TestUpload_RejectsOversizedFiles(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")

	cases := []struct {
		name string
		size int
	}{
		{"just over the limit", types.MaxFileSize + 1},
		{"body over the request cap", 11<<20 + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.upload(t, opsToken, "huge.xlsx", bytes.Repeat([]byte{'x'}, tc.size))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "file size cannot exceed 10MB", decodeError(t, rec))
		})
	}

	rec := api.get(t, "/files", api.clientToken(t, "client"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestUploadListDownloadFlow(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")
	clientToken := api.clientToken(t, "client")
	content := []byte("PK\x03\x04 pretend docx")

	rec := api.upload(t, opsToken, "Quarterly Report.docx", content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, "File uploaded successfully", uploaded.Message)
	assert.Equal(t, "docx", uploaded.FileType)
	assert.Equal(t, int64(len(content)), uploaded.Size)

	rec = api.get(t, "/files", clientToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Quarterly Report.docx", listed[0]["original_filename"])
	assert.Equal(t, "ops", listed[0]["uploaded_by"])
	assert.Equal(t, "docx", listed[0]["file_type"])
	assert.NotContains(t, listed[0], "blob_key")

	rec = api.get(t, "/files/999/download-url", clientToken)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decodeError(t, rec))

	rec = api.get(t, "/files/abc/download-url", clientToken)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.get(t, "/files/"+itoa(uploaded.FileID)+"/download-url", clientToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var link services.DownloadLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, "Quarterly Report.docx", link.Filename)
	require.True(t, strings.HasPrefix(link.URL, testBaseURL+"/download/"))
	path := strings.TrimPrefix(link.URL, testBaseURL)

	rec = api.get(t, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Quarterly Report.docx"`, rec.Header().Get("Content-Disposition"))

	rec = api.get(t, path, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired download URL", decodeError(t, rec))
}

func TestDownload_InvalidTokens(t *testing.T) {
	api := newTestAPI(t)

	rec := api.get(t, "/download/garbage", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid download URL", decodeError(t, rec))

	client := api.signup(t, "client", "client")
	rec = api.get(t, "/download/"+client.EncryptedURL, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid download URL", decodeError(t, rec))
}

func TestDownload_MissingBlob(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")
	clientToken := api.clientToken(t, "client")

	rec := api.upload(t, opsToken, "deck.pptx", []byte("slides"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))

	file, err := api.store.Files().Get(context.Background(), uploaded.FileID)
	require.NoError(t, err)
	require.NoError(t, api.blobs.Delete(context.Background(), file.BlobKey))

	rec = api.get(t, "/files/"+itoa(uploaded.FileID)+"/download-url", clientToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var link services.DownloadLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))

	rec = api.get(t, strings.TrimPrefix(link.URL, testBaseURL), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found on server", decodeError(t, rec))
}

func TestDisabledUserIsRejected(t *testing.T) {
	api := newTestAPI(t)
	opsToken := api.opsToken(t, "ops")

	user, err := api.store.Users().GetByEmail(context.Background(), "ops@example.com")
	require.NoError(t, err)
	require.NoError(t, api.store.Users().SetActive(context.Background(), user.ID, false))

	rec := api.upload(t, opsToken, "deck.pptx", []byte("x"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "attachment; filename=deck.pptx", contentDisposition("deck.pptx"))
	assert.Equal(t, `attachment; filename="Q1 plan.xlsx"`, contentDisposition("Q1 plan.xlsx"))
	assert.Equal(t, "attachment; filename*=utf-8''%C3%BCbersicht.docx", contentDisposition("übersicht.docx"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
