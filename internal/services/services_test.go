package services

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fileshare/apiserver/internal/codec"
	"github.com/fileshare/apiserver/internal/mailer"
	"github.com/fileshare/apiserver/internal/storage"
	"github.com/fileshare/apiserver/internal/store/memory"
	"github.com/fileshare/apiserver/types"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://files.test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	store     *memory.Store
	blobs     *storage.Storage
	codec     *codec.Codec
	mail      *captureMailer
	clock     *fakeClock
	users     *UserService
	files     *FileService
	downloads *DownloadService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobBackend, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	blobs := storage.NewStorage(blobBackend)
	require.NoError(t, blobs.EnsureBucket(context.Background()))

	key, err := codec.GenerateKey()
	require.NoError(t, err)
	c, err := codec.New(key)
	require.NoError(t, err)

	st := memory.New()
	mail := &captureMailer{}
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	return &fixture{
		store:     st,
		blobs:     blobs,
		codec:     c,
		mail:      mail,
		clock:     clock,
		users:     NewUserService(st.Users(), st.Verifications(), mail, c, testBaseURL, logger, WithClock(clock.Now)),
		files:     NewFileService(st.Files(), blobs, logger),
		downloads: NewDownloadService(st.Files(), st.DownloadTokens(), blobs, c, testBaseURL, logger, WithClock(clock.Now)),
	}
}

func signupInput(username, role string) SignupInput {
	return SignupInput{
		Username:        username,
		Email:           username + "@example.com",
		Password:        "s3cret-pass",
		PasswordConfirm: "s3cret-pass",
		Role:            role,
	}
}

func verificationTokenFrom(t *testing.T, msg mailer.Message) string {
	t.Helper()
	marker := testBaseURL + verificationPath
	idx := strings.Index(msg.Body, marker)
	require.GreaterOrEqual(t, idx, 0, "verification link not found in %q", msg.Body)
	rest := msg.Body[idx+len(marker):]
	return strings.Fields(rest)[0]
}

func (f *fixture) opsUser(t *testing.T, username string) types.User {
	t.Helper()
	res, err := f.users.Signup(context.Background(), signupInput(username, types.RoleOps))
	require.NoError(t, err)
	return res.User
}

func (f *fixture) verifiedClient(t *testing.T, username string) types.User {
	t.Helper()
	ctx := context.Background()
	res, err := f.users.Signup(ctx, signupInput(username, types.RoleClient))
	require.NoError(t, err)
	require.NoError(t, f.users.VerifyEmail(ctx, verificationTokenFrom(t, f.mail.last(t))))

	user, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	require.True(t, user.EmailVerified)
	return user
}

func (f *fixture) upload(t *testing.T, owner types.User, name string, data []byte) types.File {
	t.Helper()
	file, err := f.files.Upload(context.Background(), owner, name, int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	return file
}

func tokenFromURL(t *testing.T, url string) string {
	t.Helper()
	prefix := testBaseURL + downloadPath
	require.True(t, strings.HasPrefix(url, prefix), "unexpected download url %q", url)
	return strings.TrimPrefix(url, prefix)
}
