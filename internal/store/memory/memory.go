// Package memory provides in-process implementations of the repositories,
// used when the server runs with DB_DRIVER=memory and by tests.
// All state lives behind one mutex, so conditional updates are atomic in
// the same way as their SQL counterparts.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fileshare/apiserver/internal/store"
	"github.com/fileshare/apiserver/types"
)

// Store holds all records.
type Store struct {
	mu sync.Mutex

	nextID        int64
	users         map[int64]types.User
	verifications map[int64]types.EmailVerification
	files         map[int64]types.File
	tokens        map[int64]types.DownloadToken
}

func New() *Store {
	return &Store{
		users:         make(map[int64]types.User),
		verifications: make(map[int64]types.EmailVerification),
		files:         make(map[int64]types.File),
		tokens:        make(map[int64]types.DownloadToken),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Users returns a user repository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Verifications returns a verification repository view of the store.
func (s *Store) Verifications() *VerificationRepository { return &VerificationRepository{s: s} }

// Files returns a file repository view of the store.
func (s *Store) Files() *FileRepository { return &FileRepository{s: s} }

// DownloadTokens returns a download token repository view of the store.
func (s *Store) DownloadTokens() *DownloadTokenRepository { return &DownloadTokenRepository{s: s} }

type UserRepository struct{ s *Store }

func (r *UserRepository) GetByID(_ context.Context, id int64) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertUser(user)
}

// CreateWithVerification stores a user and its pending verification under
// one lock; on a duplicate neither is stored.
func (r *UserRepository) CreateWithVerification(_ context.Context, user types.User, v types.EmailVerification) (types.User, types.EmailVerification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, err := r.s.insertUser(user)
	if err != nil {
		return types.User{}, types.EmailVerification{}, err
	}
	v.ID = r.s.id()
	v.UserID = user.ID
	v.Verified = false
	r.s.verifications[v.ID] = v
	return user, v, nil
}

func (s *Store) insertUser(user types.User) (types.User, error) {
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return types.User{}, store.ErrDuplicateEmail
		}
		if existing.Username == user.Username {
			return types.User{}, store.ErrDuplicateUsername
		}
	}
	now := time.Now()
	user.ID = s.id()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	return user, nil
}

// SetActive enables or disables an account.
func (r *UserRepository) SetActive(_ context.Context, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.IsActive = active
	user.UpdatedAt = time.Now()
	r.s.users[id] = user
	return nil
}

type VerificationRepository struct{ s *Store }

func (r *VerificationRepository) GetPending(_ context.Context, token string) (types.EmailVerification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.verifications {
		if v.Token == token && !v.Verified {
			return v, nil
		}
	}
	return types.EmailVerification{}, store.ErrNotFound
}

func (r *VerificationRepository) MarkVerified(_ context.Context, id, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.verifications[id]
	if !ok || v.Verified {
		return store.ErrNotFound
	}
	user, ok := r.s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	v.Verified = true
	r.s.verifications[id] = v
	user.EmailVerified = true
	user.UpdatedAt = time.Now()
	r.s.users[userID] = user
	return nil
}

type FileRepository struct{ s *Store }

func (r *FileRepository) List(_ context.Context) ([]types.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	files := make([]types.File, 0, len(r.s.files))
	for _, file := range r.s.files {
		file.OwnerUsername = r.s.users[file.OwnerID].Username
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID > files[j].ID
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

func (r *FileRepository) Get(_ context.Context, id int64) (types.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	file, ok := r.s.files[id]
	if !ok {
		return types.File{}, store.ErrNotFound
	}
	file.OwnerUsername = r.s.users[file.OwnerID].Username
	return file, nil
}

func (r *FileRepository) Create(_ context.Context, file types.File) (types.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	file.ID = r.s.id()
	file.CreatedAt = time.Now()
	r.s.files[file.ID] = file
	return file, nil
}

type DownloadTokenRepository struct{ s *Store }

func (r *DownloadTokenRepository) Create(_ context.Context, token types.DownloadToken) (types.DownloadToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token.ID = r.s.id()
	token.Used = false
	r.s.tokens[token.ID] = token
	return token, nil
}

func (r *DownloadTokenRepository) FindUnused(_ context.Context, fileID, userID int64, nonce string) (types.DownloadToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, token := range r.s.tokens {
		if token.FileID == fileID && token.UserID == userID && token.Nonce == nonce && !token.Used {
			return token, nil
		}
	}
	return types.DownloadToken{}, store.ErrNotFound
}

func (r *DownloadTokenRepository) MarkUsed(_ context.Context, id int64, usedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.tokens[id]
	if !ok || token.Used {
		return store.ErrNotFound
	}
	token.Used = true
	token.UsedAt = &usedAt
	r.s.tokens[id] = token
	return nil
}

// Get returns a token by id regardless of its state.
func (r *DownloadTokenRepository) Get(id int64) (types.DownloadToken, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.tokens[id]
	return token, ok
}
