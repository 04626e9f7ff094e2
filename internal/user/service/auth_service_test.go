package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/internal/user/dto"
)

// mockUserRepository is a mock implementation of UserRepository
type mockUserRepository struct {
	users      map[string]*domain.User
	emailIndex map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users:      make(map[string]*domain.User),
		emailIndex: make(map[string]*domain.User),
	}
}

func (r *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.users[user.ID] = user
	r.emailIndex[user.Email] = user
	return nil
}

func (r *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.users[id], nil
}

func (r *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.emailIndex[email], nil
}

func (r *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, exists := r.emailIndex[email]
	return exists, nil
}

// mockSessionRepository is a mock implementation of SessionRepository
type mockSessionRepository struct {
	sessions map[string]*domain.Session
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *mockSessionRepository) Create(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	r.sessions[session.RefreshToken] = session
	return nil
}

func (r *mockSessionRepository) GetByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return r.sessions[refreshToken], nil
}

func (r *mockSessionRepository) Delete(ctx context.Context, refreshToken string) error {
	delete(r.sessions, refreshToken)
	return nil
}

func newTestAuthService() (AuthService, *mockUserRepository, *mockSessionRepository) {
	users := newMockUserRepository()
	sessions := newMockSessionRepository()
	svc := NewAuthService(users, sessions, &AuthServiceConfig{
		JWTSecret: "test-secret",
		Issuer:    "eventix",
	})
	return svc, users, sessions
}

func registerReq() *dto.RegisterRequest {
	return &dto.RegisterRequest{
		Email:    "alice@example.com",
		Password: "correct horse",
		Name:     "Alice",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, registerReq())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatal("expected a token pair after registration")
	}
	if reg.User.Role != string(domain.RoleCustomer) {
		t.Errorf("role = %s, want customer", reg.User.Role)
	}

	login, err := svc.Login(ctx, &dto.LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("login user = %s, want %s", login.User.ID, reg.User.ID)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, registerReq()); !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Fatalf("Register() duplicate error = %v, want ErrUserAlreadyExists", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := svc.Login(ctx, &dto.LoginRequest{Email: "alice@example.com", Password: "wrong"})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	svc, users, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, registerReq())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	users.users[reg.User.ID].IsActive = false

	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	if !errors.Is(err, domain.ErrUserInactive) {
		t.Fatalf("Login() error = %v, want ErrUserInactive", err)
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, registerReq())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	claims, err := svc.ValidateToken(ctx, reg.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != reg.User.ID {
		t.Errorf("claims user = %s, want %s", claims.UserID, reg.User.ID)
	}
	if claims.Role != domain.RoleCustomer {
		t.Errorf("claims role = %s, want customer", claims.Role)
	}

	if _, err := svc.ValidateToken(ctx, reg.AccessToken+"tampered"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("ValidateToken() tampered error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshTokenRotates(t *testing.T) {
	svc, _, sessions := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, registerReq())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	refreshed, err := svc.RefreshToken(ctx, reg.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if refreshed.RefreshToken == reg.RefreshToken {
		t.Error("refresh must rotate the refresh token")
	}
	if _, ok := sessions.sessions[reg.RefreshToken]; ok {
		t.Error("old refresh token must be revoked")
	}

	if _, err := svc.RefreshToken(ctx, reg.RefreshToken); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("RefreshToken() reuse error = %v, want ErrSessionNotFound", err)
	}
}

func TestValidateUser(t *testing.T) {
	svc, users, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, registerReq())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.ValidateUser(ctx, reg.User.ID); err != nil {
		t.Errorf("ValidateUser() error = %v", err)
	}
	if err := svc.ValidateUser(ctx, "missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("ValidateUser() missing error = %v, want ErrUserNotFound", err)
	}

	users.users[reg.User.ID].IsActive = false
	if err := svc.ValidateUser(ctx, reg.User.ID); !errors.Is(err, domain.ErrUserInactive) {
		t.Errorf("ValidateUser() inactive error = %v, want ErrUserInactive", err)
	}
}
