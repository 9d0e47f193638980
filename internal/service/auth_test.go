package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory implementation of repository.UserRepository.
type fakeUserRepo struct {
	users  map[string]*model.User // keyed by internal ID
	nextID int
	// set to a non-nil error to simulate a database failure
	upsertErr error
	upserts   int
	// raceWinner, when set, is stored by the next CreateUser as if a parallel
	// request had inserted it first; that CreateUser then reports a conflict.
	raceWinner *model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Upsert(ctx context.Context, user *model.User) error {
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, u := range f.users {
		if u.Username == user.Username && u.AuthID != user.AuthID {
			return apperror.Conflict("username", user.Username)
		}
	}
	for _, u := range f.users {
		if u.AuthID == user.AuthID {
			u.Username, u.Email, u.UpdatedAt = user.Username, user.Email, time.Now()
			*user = *u
			return nil
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt, user.UpdatedAt = time.Now(), time.Now()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if w := f.raceWinner; w != nil {
		f.raceWinner = nil
		f.nextID++
		w.ID = fmt.Sprintf("user-%d", f.nextID)
		f.users[w.ID] = w
		return apperror.Conflict("auth_id", user.AuthID)
	}
	for _, u := range f.users {
		if u.AuthID == user.AuthID {
			return apperror.Conflict("auth_id", user.AuthID)
		}
		if u.Username == user.Username {
			return apperror.Conflict("username", user.Username)
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt, user.UpdatedAt = time.Now(), time.Now()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, apperror.NotFound("user", id)
}

func (f *fakeUserRepo) GetUserByAuthID(ctx context.Context, authID string) (*model.User, error) {
	for _, u := range f.users {
		if u.AuthID == authID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", authID)
}

func (f *fakeUserRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

// fakeSupabase answers like GoTrue with a fixed subject.
type fakeSupabase struct {
	subject string
	token   string
	err     error

	gotPassword string
}

func (f *fakeSupabase) SignUp(ctx context.Context, email, password, username string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Session{AccessToken: f.token, User: auth.SupabaseUser{
		ID: f.subject, Email: email, UserMetadata: auth.UserMetadata{Username: username},
	}}, nil
}

func (f *fakeSupabase) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Session{AccessToken: f.token, User: auth.SupabaseUser{
		ID: f.subject, Email: email, UserMetadata: auth.UserMetadata{Username: "ada"},
	}}, nil
}

func (f *fakeSupabase) UpdatePassword(ctx context.Context, accessToken, password string) error {
	f.gotPassword = password
	return f.err
}

const testSubject = "5f0c7b4e-2d0a-4c43-9b1c-8a3e5a0d9f11"

func newTestAuthService(repo *fakeUserRepo, idp *fakeSupabase) *AuthService {
	return NewAuthService(repo, idp, testLogger())
}

// =========================================================================
// SIGNUP TESTS
// =========================================================================

func TestSignUp_CreatesUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(repo, &fakeSupabase{subject: testSubject, token: "tok"})

	result, err := svc.SignUp(context.Background(), "ada", " Ada@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if result.Token != "tok" {
		t.Errorf("Token = %q, want %q", result.Token, "tok")
	}
	if result.User.AuthID != testSubject {
		t.Errorf("AuthID = %q, want %q", result.User.AuthID, testSubject)
	}
	if result.User.Email != "ada@example.com" {
		t.Errorf("Email = %q, want lowercased", result.User.Email)
	}
}

func TestSignUp_Validation(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), &fakeSupabase{subject: testSubject})

	tests := []struct {
		name                      string
		username, email, password string
	}{
		{"short username", "ab", "ada@example.com", "hunter22"},
		{"bad username chars", "ada lovelace", "ada@example.com", "hunter22"},
		{"bad email", "ada", "ada-at-example", "hunter22"},
		{"short password", "ada", "ada@example.com", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tt.username, tt.email, tt.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("SignUp() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSignUp_UsernameTaken(t *testing.T) {
	repo := newFakeUserRepo()
	repo.Upsert(context.Background(), &model.User{AuthID: "someone-else", Username: "ada"})
	svc := newTestAuthService(repo, &fakeSupabase{subject: testSubject})

	_, err := svc.SignUp(context.Background(), "ada", "ada@example.com", "hunter22")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("SignUp() error = %v, want ErrConflict", err)
	}
}

func TestSignUp_EmailRegistered(t *testing.T) {
	idp := &fakeSupabase{err: &auth.SupabaseError{Status: 422, Code: "user_already_exists", Message: "User already registered"}}
	svc := newTestAuthService(newFakeUserRepo(), idp)

	_, err := svc.SignUp(context.Background(), "ada", "ada@example.com", "hunter22")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("SignUp() error = %v, want ErrConflict", err)
	}
}

func TestSignUp_ProviderDown(t *testing.T) {
	idp := &fakeSupabase{err: errors.New("connection refused")}
	svc := newTestAuthService(newFakeUserRepo(), idp)

	_, err := svc.SignUp(context.Background(), "ada", "ada@example.com", "hunter22")
	var appErr *apperror.AppError
	if err == nil || errors.As(err, &appErr) {
		t.Fatalf("SignUp() error = %v, want an internal error", err)
	}
}

// =========================================================================
// LOGIN TESTS
// =========================================================================

func TestLogin_ResolvesExistingUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(repo, &fakeSupabase{subject: testSubject, token: "tok"})
	signed, _ := svc.SignUp(context.Background(), "ada", "ada@example.com", "hunter22")

	result, err := svc.Login(context.Background(), "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.ID != signed.User.ID {
		t.Errorf("Login() user = %q, want %q", result.User.ID, signed.User.ID)
	}
	if result.Token != "tok" {
		t.Errorf("Token = %q, want %q", result.Token, "tok")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	idp := &fakeSupabase{err: &auth.SupabaseError{Status: http.StatusBadRequest, Code: "invalid_grant", Message: "Invalid login credentials"}}
	svc := newTestAuthService(newFakeUserRepo(), idp)

	_, err := svc.Login(context.Background(), "ada@example.com", "wrong")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
}

// =========================================================================
// RESOLVE USER TESTS
// =========================================================================

func TestResolveUser_CreatesOnFirstSight(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(repo, nil)

	id := auth.Identity{Subject: testSubject, Email: "grace@example.com"}
	first, err := svc.ResolveUser(context.Background(), id)
	if err != nil {
		t.Fatalf("ResolveUser() error = %v", err)
	}
	second, err := svc.ResolveUser(context.Background(), id)
	if err != nil {
		t.Fatalf("ResolveUser() error = %v", err)
	}

	if first != second {
		t.Errorf("ResolveUser() returned %q then %q, want a stable ID", first, second)
	}
	if repo.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (no write when nothing changed)", repo.upserts)
	}
	u, _ := repo.GetUserByID(context.Background(), first)
	if u.Username != "grace" {
		t.Errorf("Username = %q, want %q derived from the email", u.Username, "grace")
	}
}

func TestResolveUser_DisambiguatesTakenUsername(t *testing.T) {
	repo := newFakeUserRepo()
	repo.Upsert(context.Background(), &model.User{AuthID: "other", Username: "ada"})
	svc := newTestAuthService(repo, nil)

	userID, err := svc.ResolveUser(context.Background(), auth.Identity{Subject: testSubject, Username: "ada"})
	if err != nil {
		t.Fatalf("ResolveUser() error = %v", err)
	}
	u, _ := repo.GetUserByID(context.Background(), userID)
	if u.Username != "ada-5f0c7b" {
		t.Errorf("Username = %q, want %q", u.Username, "ada-5f0c7b")
	}
}

func TestResolveUser_LosesCreateRace(t *testing.T) {
	repo := newFakeUserRepo()
	winner := &model.User{AuthID: testSubject, Username: "grace", Email: "grace@example.com"}
	repo.raceWinner = winner
	svc := newTestAuthService(repo, nil)

	userID, err := svc.ResolveUser(context.Background(), auth.Identity{Subject: testSubject, Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("ResolveUser() error = %v", err)
	}
	if userID != winner.ID {
		t.Errorf("ResolveUser() = %q, want the row created by the parallel request", userID)
	}
}

func TestResolveUser_ConcurrentFirstRequests(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "jamflow.db"))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	svc := NewAuthService(db, nil, testLogger())
	id := auth.Identity{Subject: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Email: "amy@example.com"}

	const workers = 32
	ids := make([]string, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i], errs[i] = svc.ResolveUser(context.Background(), id)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("ResolveUser() #%d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("ResolveUser() #%d = %q, want %q", i, ids[i], ids[0])
		}
	}
	u, err := db.GetUserByAuthID(context.Background(), id.Subject)
	if err != nil {
		t.Fatalf("GetUserByAuthID() error = %v", err)
	}
	if u.Username != "amy" {
		t.Errorf("Username = %q, want %q", u.Username, "amy")
	}
}

func TestResolveUser_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.upsertErr = errors.New("database is on fire")
	svc := newTestAuthService(repo, nil)

	if _, err := svc.ResolveUser(context.Background(), auth.Identity{Subject: testSubject}); err == nil {
		t.Fatal("ResolveUser() should propagate repository errors")
	}
}

// =========================================================================
// ME / PASSWORD TESTS
// =========================================================================

func TestMe(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(repo, nil)
	userID, _ := svc.ResolveUser(context.Background(), auth.Identity{Subject: testSubject, Username: "ada"})

	u, err := svc.Me(context.Background(), userID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if u.Username != "ada" {
		t.Errorf("Username = %q, want %q", u.Username, "ada")
	}

	if _, err := svc.Me(context.Background(), ""); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Me(\"\") error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Me(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Me(missing) error = %v, want ErrNotFound", err)
	}
}

func TestChangePassword(t *testing.T) {
	idp := &fakeSupabase{}
	svc := newTestAuthService(newFakeUserRepo(), idp)

	if err := svc.ChangePassword(context.Background(), "tok", "new-secret"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if idp.gotPassword != "new-secret" {
		t.Errorf("password sent = %q", idp.gotPassword)
	}

	if err := svc.ChangePassword(context.Background(), "tok", "123"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("ChangePassword(short) error = %v, want ErrValidation", err)
	}
	if err := svc.ChangePassword(context.Background(), "", "new-secret"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("ChangePassword(no token) error = %v, want ErrUnauthorized", err)
	}

	idp.err = &auth.SupabaseError{Status: 422, Code: "same_password", Message: "New password should be different"}
	if err := svc.ChangePassword(context.Background(), "tok", "new-secret"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("ChangePassword(rejected) error = %v, want ErrValidation", err)
	}
}
