package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/dbx"
	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/models"
	"github.com/playtube/playtube/internal/server/password"
	"github.com/playtube/playtube/internal/server/repositories/users"
	"github.com/playtube/playtube/internal/server/token"
)

// --- fakes ---

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

// memUsersRepo is a thread-safe in-memory users.Repository. Rotation holds
// the lock for the compare-and-swap, mirroring the conditional UPDATE of
// the postgres implementation.
type memUsersRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{users: map[uuid.UUID]*models.User{}}
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.RefreshToken != nil {
		v := *u.RefreshToken
		c.RefreshToken = &v
	}
	if u.CoverImageURL != nil {
		v := *u.CoverImageURL
		c.CoverImageURL = &v
	}
	return &c
}

func (m *memUsersRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return nil, common.ErrConflict
		}
	}
	c := copyUser(user)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.users[c.ID] = c
	return copyUser(c), nil
}

func (m *memUsersRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsersRepo) GetByUsernameOrEmail(_ context.Context, username, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return copyUser(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memUsersRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsersRepo) SetRefreshToken(_ context.Context, id uuid.UUID, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.RefreshToken = &tok
	return nil
}

func (m *memUsersRepo) ClearRefreshToken(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.RefreshToken = nil
	return nil
}

func (m *memUsersRepo) RotateRefreshToken(_ context.Context, id uuid.UUID, current, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	if u.RefreshToken == nil || *u.RefreshToken != current {
		return false, nil
	}
	u.RefreshToken = &next
	return true, nil
}

func (m *memUsersRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsersRepo) UpdateProfile(_ context.Context, id uuid.UUID, username, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, u := range m.users {
		if otherID != id && (u.Username == username || u.Email == email) {
			return nil, common.ErrConflict
		}
	}
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	u.Username = username
	u.Email = email
	u.UpdatedAt = time.Now()
	return copyUser(u), nil
}

func (m *memUsersRepo) UpdateAvatarURL(_ context.Context, id uuid.UUID, url string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	u.AvatarURL = url
	return copyUser(u), nil
}

func (m *memUsersRepo) UpdateCoverImageURL(_ context.Context, id uuid.UUID, url string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	u.CoverImageURL = &url
	return copyUser(u), nil
}

func (m *memUsersRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type fakeRepoManager struct {
	repo *memUsersRepo
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return f.repo }

// memBlobStore records uploaded keys and can be told to fail.
type memBlobStore struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (b *memBlobStore) Upload(_ context.Context, key, _ string, _ io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.keys = append(b.keys, key)
	return "https://cdn.test/" + key, nil
}

func (b *memBlobStore) uploaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

// --- setup ---

type testEnv struct {
	svc    *UserService
	repo   *memUsersRepo
	blobs  *memBlobStore
	tokens *token.Service
	mock   sqlmock.Sqlmock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	tokens, err := token.NewService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	repo := newMemUsersRepo()
	blobs := &memBlobStore{}
	svc := NewUserService(db, &fakeRepoManager{repo: repo}, tokens, blobs, nopLogger{})

	return &testEnv{svc: svc, repo: repo, blobs: blobs, tokens: tokens, mock: mock}
}

// expectTx queues n transaction begin/ends; order-independent matching is
// enabled so commits and rollbacks can interleave.
func (e *testEnv) expectTx(commits, rollbacks int) {
	for i := 0; i < commits+rollbacks; i++ {
		e.mock.ExpectBegin()
	}
	for i := 0; i < commits; i++ {
		e.mock.ExpectCommit()
	}
	for i := 0; i < rollbacks; i++ {
		e.mock.ExpectRollback()
	}
}

func avatarUpload() *Upload {
	return &Upload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("img")}
}

func registerAlice(t *testing.T, e *testEnv) *models.PublicUser {
	t.Helper()
	e.expectTx(1, 0)
	pub, err := e.svc.Register(context.Background(), RegisterInput{
		Username: "Alice",
		Email:    "Alice@X.com",
		Password: "Secret123",
		Avatar:   avatarUpload(),
	})
	require.NoError(t, err)
	return pub
}

// --- registration ---

func TestRegisterSuccess(t *testing.T) {
	e := newTestEnv(t)

	pub := registerAlice(t, e)

	assert.Equal(t, "alice", pub.Username, "username must be normalized to lowercase")
	assert.Equal(t, "alice@x.com", pub.Email)
	assert.NotEqual(t, uuid.Nil, pub.ID)
	assert.Contains(t, pub.AvatarURL, "avatars/")

	stored, err := e.repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123", stored.PasswordHash)
	assert.True(t, password.Verify("Secret123", stored.PasswordHash))
	assert.Nil(t, stored.RefreshToken, "no session before login")
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)

	cases := []RegisterInput{
		{Username: "", Email: "a@x.com", Password: "p", Avatar: avatarUpload()},
		{Username: "a", Email: "   ", Password: "p", Avatar: avatarUpload()},
		{Username: "a", Email: "a@x.com", Password: "  ", Avatar: avatarUpload()},
		{Username: "a", Email: "a@x.com", Password: "p", Avatar: nil},
	}
	for i, in := range cases {
		_, err := e.svc.Register(context.Background(), in)
		assert.ErrorIs(t, err, common.ErrValidation, "case %d", i)
	}
	assert.Empty(t, e.blobs.uploaded(), "nothing may be uploaded for invalid input")
	assert.Equal(t, 0, e.repo.count())
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	e := newTestEnv(t)
	registerAlice(t, e)

	_, err := e.svc.Register(context.Background(), RegisterInput{
		Username: "someoneelse",
		Email:    "alice@x.com",
		Password: "Other123",
		Avatar:   avatarUpload(),
	})
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, 1, e.repo.count(), "store must end with exactly one record for that email")
}

func TestRegisterUploadFailureCreatesNoRecord(t *testing.T) {
	e := newTestEnv(t)
	e.blobs.err = errors.New("s3 down")

	_, err := e.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@x.com",
		Password: "Secret123",
		Avatar:   avatarUpload(),
	})
	assert.ErrorIs(t, err, common.ErrDependency)
	assert.Equal(t, 0, e.repo.count())
}

func TestRegisterWithCoverImage(t *testing.T) {
	e := newTestEnv(t)
	e.expectTx(1, 0)

	pub, err := e.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@x.com",
		Password: "Secret123",
		Avatar:   avatarUpload(),
		Cover:    &Upload{Filename: "wide.jpg", ContentType: "image/jpeg", Body: strings.NewReader("img")},
	})
	require.NoError(t, err)
	assert.Contains(t, pub.CoverImageURL, "covers/")
	assert.Len(t, e.blobs.uploaded(), 2)
}

// --- login ---

func TestLoginByEmail(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	gotPub, pair, err := e.svc.Login(context.Background(), "", "alice@x.com", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, pub.ID, gotPub.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	stored, err := e.repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *stored.RefreshToken, "issued refresh token must be mirrored on the record")
}

func TestLoginByUsernameIsCaseInsensitive(t *testing.T) {
	e := newTestEnv(t)
	registerAlice(t, e)

	_, pair, err := e.svc.Login(context.Background(), "ALICE", "", "Secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestLoginValidation(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.svc.Login(context.Background(), "", "", "Secret123")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, _, err = e.svc.Login(context.Background(), "alice", "", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	e := newTestEnv(t)
	registerAlice(t, e)

	_, _, errUnknown := e.svc.Login(context.Background(), "nobody", "", "Secret123")
	_, _, errWrongPass := e.svc.Login(context.Background(), "alice", "", "WRONG")

	assert.ErrorIs(t, errUnknown, common.ErrNotFound)
	assert.ErrorIs(t, errWrongPass, common.ErrNotFound,
		"wrong password must not be distinguishable from unknown account by status")
}

// --- refresh rotation ---

func TestRefreshRotatesPair(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	_, pair, err := e.svc.Login(context.Background(), "alice", "", "Secret123")
	require.NoError(t, err)

	e.expectTx(1, 0)
	next, err := e.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	stored, err := e.repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, next.RefreshToken, *stored.RefreshToken)

	// The superseded token must be rejected on replay.
	e.expectTx(0, 1)
	_, err = e.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRefreshRejectsGarbageAndMissingToken(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = e.svc.Refresh(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRefreshRejectsForeignSignature(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	forged, err := token.NewService("wrong-access", "wrong-refresh", time.Minute, time.Hour)
	require.NoError(t, err)
	stored, err := e.repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	forgedToken, err := forged.IssueRefreshToken(stored)
	require.NoError(t, err)

	_, err = e.svc.Refresh(context.Background(), forgedToken)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	e := newTestEnv(t)
	registerAlice(t, e)

	_, pair, err := e.svc.Login(context.Background(), "alice", "", "Secret123")
	require.NoError(t, err)

	// One rotation commits, the loser rolls back.
	e.expectTx(1, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.svc.Refresh(context.Background(), pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		if err == nil {
			ok++
		} else if errors.Is(err, common.ErrUnauthorized) {
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "exactly one rotation may succeed")
	assert.Equal(t, 1, rejected, "the other must be rejected, not double-issued")
}

// --- logout ---

func TestLogoutInvalidatesRefreshToken(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	_, pair, err := e.svc.Login(context.Background(), "alice", "", "Secret123")
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(context.Background(), pub.ID))

	stored, err := e.repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken, "logout must unset, not blank, the token")

	e.expectTx(0, 1)
	_, err = e.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

// --- change password ---

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	err := e.svc.ChangePassword(context.Background(), pub.ID, "WRONG", "NewSecret1")
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, e.svc.ChangePassword(context.Background(), pub.ID, "Secret123", "NewSecret1"))

	_, _, err = e.svc.Login(context.Background(), "alice", "", "Secret123")
	assert.ErrorIs(t, err, common.ErrNotFound, "old password must stop working")

	_, _, err = e.svc.Login(context.Background(), "alice", "", "NewSecret1")
	assert.NoError(t, err)
}

func TestChangePasswordRequiresBothFields(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	assert.ErrorIs(t, e.svc.ChangePassword(context.Background(), pub.ID, "", "x"), common.ErrValidation)
	assert.ErrorIs(t, e.svc.ChangePassword(context.Background(), pub.ID, "x", ""), common.ErrValidation)
}

// --- profile and media ---

func TestUpdateProfile(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	updated, err := e.svc.UpdateProfile(context.Background(), pub.ID, "", "New@Mail.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.Username, "blank username keeps the current value")
	assert.Equal(t, "new@mail.com", updated.Email)
}

func TestUpdateProfileConflict(t *testing.T) {
	e := newTestEnv(t)
	registerAlice(t, e)

	e.expectTx(1, 0)
	other, err := e.svc.Register(context.Background(), RegisterInput{
		Username: "bob", Email: "bob@x.com", Password: "Secret123", Avatar: avatarUpload(),
	})
	require.NoError(t, err)

	_, err = e.svc.UpdateProfile(context.Background(), other.ID, "alice", "")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestUpdateProfileNothingToUpdate(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	_, err := e.svc.UpdateProfile(context.Background(), pub.ID, "  ", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateAvatar(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	updated, err := e.svc.UpdateAvatar(context.Background(), pub.ID, &Upload{
		Filename: "new.png", ContentType: "image/png", Body: strings.NewReader("img"),
	})
	require.NoError(t, err)
	assert.Contains(t, updated.AvatarURL, "avatars/")

	_, err = e.svc.UpdateAvatar(context.Background(), pub.ID, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateCoverImage(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	updated, err := e.svc.UpdateCoverImage(context.Background(), pub.ID, &Upload{
		Filename: "wide.jpg", ContentType: "image/jpeg", Body: strings.NewReader("img"),
	})
	require.NoError(t, err)
	assert.Contains(t, updated.CoverImageURL, "covers/")
}

// --- identity resolution ---

func TestGetPublicByID(t *testing.T) {
	e := newTestEnv(t)
	pub := registerAlice(t, e)

	got, err := e.svc.GetPublicByID(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.Equal(t, pub.ID, got.ID)

	_, err = e.svc.GetPublicByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

