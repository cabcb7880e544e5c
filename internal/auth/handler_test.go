package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/castellan-io/castellan/internal/auth"
	"github.com/castellan-io/castellan/internal/rbac"
	"github.com/castellan-io/castellan/internal/shared"
	_ "github.com/castellan-io/castellan/testing"
)

type stubRepo struct {
	user            *auth.User
	deletedSessions []string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.deletedSessions = append(s.deletedSessions, id)
	return nil
}

// grantRepo only answers UserPermissions; the login flow never touches the
// rest of the interface.
type grantRepo struct {
	rbac.Repository
	perms []string
}

func (g *grantRepo) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	return g.perms, nil
}

func newAuthHandler(t *testing.T, repo auth.Repository, perms []string) (*auth.Handler, *shared.SessionManager, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	rbacService := rbac.NewService(&grantRepo{perms: perms})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := auth.NewHandler(logger, auth.NewService(repo), rbacService, sessionManager, csrfManager)
	return handler, sessionManager, redisClient
}

func loginRequest(t *testing.T, sessionManager *shared.SessionManager, body string) (*http.Request, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func TestLoginSuccess(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	roleID := int64(3)
	handler, sessionManager, _ := newAuthHandler(t, &stubRepo{user: &auth.User{
		ID:           7,
		Name:         "Admin User",
		Email:        "admin@example.com",
		PasswordHash: string(hashed),
		RoleID:       &roleID,
		IsActive:     true,
	}}, []string{"view_users", "view_dashboard"})

	req, sess := loginRequest(t, sessionManager, `{"email":"admin@example.com","password":"correct-password"}`)
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != "7" {
		t.Fatalf("expected session bound to user 7, got %q", sess.User())
	}

	var body struct {
		User auth.SessionUser `json:"user"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.User.Email != "admin@example.com" {
		t.Fatalf("unexpected email %q", body.User.Email)
	}
	if len(body.User.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %v", body.User.Permissions)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	handler, sessionManager, _ := newAuthHandler(t, &stubRepo{user: &auth.User{
		ID:           7,
		Email:        "admin@example.com",
		PasswordHash: string(hashed),
		IsActive:     true,
	}}, nil)

	req, sess := loginRequest(t, sessionManager, `{"email":"admin@example.com","password":"wrong-password"}`)
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.User() != "" {
		t.Fatalf("expected session to stay anonymous, got %q", sess.User())
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	handler, sessionManager, _ := newAuthHandler(t, &stubRepo{}, nil)

	req, _ := loginRequest(t, sessionManager, `{"email":"ghost@example.com","password":"some-password"}`)
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	handler, sessionManager, _ := newAuthHandler(t, &stubRepo{}, nil)

	req, _ := loginRequest(t, sessionManager, `{"email":"not-an-email","password":"short"}`)
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestLoginRotatesSessionID(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	handler, sessionManager, redisClient := newAuthHandler(t, &stubRepo{user: &auth.User{
		ID:           7,
		Email:        "admin@example.com",
		PasswordHash: string(hashed),
		IsActive:     true,
	}}, nil)

	req, sess := loginRequest(t, sessionManager, `{"email":"admin@example.com","password":"correct-password"}`)
	// Persist the anonymous session so its cookie has a backing record, as it
	// would for a visitor who fetched a CSRF token before logging in.
	if err := sessionManager.Commit(context.Background(), httptest.NewRecorder(), req, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	before := sess.ID

	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.ID == before {
		t.Fatal("expected session id to change on login")
	}
	if err := redisClient.Get(context.Background(), "session:"+before).Err(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected pre-login session record removed, got %v", err)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	repo := &stubRepo{}
	handler, sessionManager, _ := newAuthHandler(t, repo, nil)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("7")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	res := httptest.NewRecorder()
	handler.HandleLogoutForTest(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(repo.deletedSessions) != 1 || repo.deletedSessions[0] != sess.ID {
		t.Fatalf("expected session %q removed from store, got %v", sess.ID, repo.deletedSessions)
	}
}
